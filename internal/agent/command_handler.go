package agent

import (
	"strconv"

	"timelapse-box/internal/core"
	"timelapse-box/internal/led"
)

// handleCommand applies one command from the web UI, MQTT or the scheduler.
// It only runs on the orchestrator goroutine.
func (a *Agent) handleCommand(cmd core.Command) {
	a.logger.Debug().Str("type", string(cmd.Type)).Interface("payload", cmd.Payload).Msg("Handling command")

	current := a.state.Clone()

	switch cmd.Type {
	case core.CmdSetPower:
		isOn := cmd.Bool("isOn", false)
		if current.Power != isOn {
			a.luaEngine.StopCurrentPattern()
		}
		a.strip.SetPower(isOn)
		a.state.SetPower(isOn)
		a.show()
		a.publishState()

	case core.CmdSetColor:
		col := led.Color{R: led.Channel(cmd.Int("r", 0)), G: led.Channel(cmd.Int("g", 0)), B: led.Channel(cmd.Int("b", 0))}
		if current.ColorR != int(col.R) || current.ColorG != int(col.G) || current.ColorB != int(col.B) || current.RunningPattern != "" {
			a.logger.Info().Str("color", col.Hex()).Msg("Color changing, stopping pattern")
			a.luaEngine.StopCurrentPattern()
		}
		a.strip.Fill(col)
		a.state.SetColor(int(col.R), int(col.G), int(col.B))
		a.show()
		a.publishState()

	case core.CmdSetBrightness:
		applied := a.strip.SetBrightness(cmd.Int("value", current.Brightness))
		a.state.SetBrightness(int(applied))
		a.show()
		a.publishState()

	case core.CmdSetPixel:
		index := cmd.Int("index", -1)
		col := led.Color{R: led.Channel(cmd.Int("r", 0)), G: led.Channel(cmd.Int("g", 0)), B: led.Channel(cmd.Int("b", 0))}
		if err := a.strip.SetPixel(index, col); err != nil {
			a.logger.Warn().Err(err).Msg("Rejected pixel command")
			return
		}
		a.show()
		a.syncFromStrip()
		a.publishState()

	case core.CmdRunPattern:
		name, _ := cmd.Str("name")
		if err := a.luaEngine.RunPattern(name); err != nil {
			a.logger.Error().Err(err).Msg("Error running pattern")
		}

	case core.CmdStopPattern:
		a.luaEngine.StopCurrentPattern()

	case core.CmdAddSchedule:
		spec, _ := cmd.Str("spec")
		command, _ := cmd.Str("command")
		if _, err := a.scheduler.Add(spec, command); err != nil {
			a.logger.Error().Err(err).Msg("Error adding schedule")
			return
		}
		a.publishSchedules()

	case core.CmdRemoveSchedule:
		id := cmd.Int("id", -1)
		if s, ok := cmd.Str("id"); ok {
			if v, err := strconv.Atoi(s); err == nil {
				id = v
			}
		}
		if id < 0 {
			a.logger.Warn().Interface("id", cmd.Payload["id"]).Msg("Invalid schedule id")
			return
		}
		a.scheduler.Remove(id)
		a.publishSchedules()

	case core.CmdGetPatternCode:
		name, _ := cmd.Str("name")
		code, err := a.luaEngine.GetPatternCode(name)
		if err != nil {
			a.logger.Error().Err(err).Str("pattern", name).Msg("Error getting pattern code")
			return
		}
		a.eventBus.Publish(core.Event{Type: core.PatternCodeEvent, Payload: map[string]string{"name": name, "code": code}})

	case core.CmdSavePatternCode:
		name, nameOk := cmd.Str("name")
		code, codeOk := cmd.Str("code")
		if !nameOk || !codeOk {
			return
		}
		if err := a.luaEngine.SavePatternCode(name, code); err != nil {
			a.logger.Error().Err(err).Str("pattern", name).Msg("Error saving pattern")
			return
		}
		a.publishPatterns()

	case core.CmdDeletePattern:
		name, _ := cmd.Str("name")
		if err := a.luaEngine.DeletePattern(name); err != nil {
			a.logger.Error().Err(err).Str("pattern", name).Msg("Error deleting pattern")
			return
		}
		a.publishPatterns()

	default:
		a.logger.Warn().Str("type", string(cmd.Type)).Msg("Unknown command type")
	}
}

func (a *Agent) publishSchedules() {
	a.eventBus.Publish(core.Event{Type: core.ScheduleChangedEvent, Payload: a.scheduler.GetAll()})
}

func (a *Agent) publishPatterns() {
	patterns, err := a.luaEngine.GetPatternList()
	if err != nil {
		a.logger.Error().Err(err).Msg("Error listing patterns")
		return
	}
	a.eventBus.Publish(core.Event{Type: core.PatternListEvent, Payload: patterns})
}
