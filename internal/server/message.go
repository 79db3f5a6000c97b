package server

// Outgoing message types understood by the web UI.
const (
	MsgState         = "state"
	MsgPatternStatus = "pattern_status"
	MsgPatternList   = "pattern_list"
	MsgPatternCode   = "pattern_code"
	MsgScheduleList  = "schedule_list"
)

// Message represents an outgoing JSON message sent to WebSocket clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewMessage creates a new structured Message for broadcasting to clients.
func NewMessage(msgType string, payload interface{}) Message {
	return Message{Type: msgType, Payload: payload}
}
