package core

// CommandType defines the type of command being dispatched.
type CommandType string

const (
	CmdSetPower        CommandType = "setPower"
	CmdSetColor        CommandType = "setColor"
	CmdSetBrightness   CommandType = "setBrightness"
	CmdSetPixel        CommandType = "setPixel"
	CmdRunPattern      CommandType = "runPattern"
	CmdStopPattern     CommandType = "stopPattern"
	CmdAddSchedule     CommandType = "addSchedule"
	CmdRemoveSchedule  CommandType = "removeSchedule"
	CmdGetPatternCode  CommandType = "getPatternCode"
	CmdSavePatternCode CommandType = "savePatternCode"
	CmdDeletePattern   CommandType = "deletePattern"
)

// Command is the envelope for incoming requests to change state or perform actions.
type Command struct {
	Type    CommandType            `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// CommandChannel is the single channel that the core Agent listens to for commands.
type CommandChannel chan Command

// Int reads a numeric payload field. JSON numbers arrive as float64.
func (c Command) Int(key string, def int) int {
	switch v := c.Payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func (c Command) Bool(key string, def bool) bool {
	if v, ok := c.Payload[key].(bool); ok {
		return v
	}
	return def
}

func (c Command) Str(key string) (string, bool) {
	v, ok := c.Payload[key].(string)
	return v, ok
}
