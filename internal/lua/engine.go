// Package lua runs LED animation patterns written in Lua against the strip.
package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"timelapse-box/internal/core"
	"timelapse-box/internal/led"
)

// Strip is the part of led.Controller the scripts can reach.
type Strip interface {
	Count() int
	SetPixel(i int, c led.Color) error
	Fill(c led.Color)
	Clear()
	SetBrightness(v int) uint8
	Brightness() uint8
	SetPower(on bool)
	Show(ctx context.Context) error
	Delay() time.Duration
}

// cmdType defines the type of engine command.
type cmdType int

const (
	cmdRunFile cmdType = iota
	cmdRunString
	cmdStop
)

// engineCmd represents a command sent to the Lua engine.
type engineCmd struct {
	kind cmdType
	name string
	code string
}

// Engine runs one pattern at a time on a single worker goroutine.
type Engine struct {
	strip       Strip
	patternsDir string
	eventBus    *core.EventBus
	logger      zerolog.Logger

	cmdChan chan engineCmd
}

// NewEngine creates a new Lua engine and starts its background worker.
func NewEngine(strip Strip, patternsDir string, eb *core.EventBus) *Engine {
	e := &Engine{
		strip:       strip,
		patternsDir: patternsDir,
		eventBus:    eb,
		logger:      log.With().Str("component", "lua").Logger(),
		cmdChan:     make(chan engineCmd, 10),
	}

	go e.runLoop()

	return e
}

// runLoop processes engine commands sequentially, stopping the running
// script before starting the next.
func (e *Engine) runLoop() {
	var currentCancel context.CancelFunc
	var scriptDone chan struct{}

	for cmd := range e.cmdChan {
		if currentCancel != nil {
			currentCancel()
			select {
			case <-scriptDone:
			case <-time.After(2 * time.Second):
				e.logger.Warn().Msg("Timeout waiting for script to stop")
			}
			currentCancel = nil
			scriptDone = nil
		}

		if cmd.kind == cmdStop {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		currentCancel = cancel
		scriptDone = make(chan struct{})

		go func(cmd engineCmd, ctx context.Context, done chan struct{}) {
			defer close(done)
			switch cmd.kind {
			case cmdRunFile:
				e.execute(ctx, cmd.name, func(L *lua.LState) error { return L.DoFile(cmd.code) })
			case cmdRunString:
				e.execute(ctx, cmd.name, func(L *lua.LState) error { return L.DoString(cmd.code) })
			}
		}(cmd, ctx, scriptDone)
	}
}

// StopCurrentPattern stops the currently running script if any.
func (e *Engine) StopCurrentPattern() {
	select {
	case e.cmdChan <- engineCmd{kind: cmdStop}:
	default:
		e.logger.Warn().Msg("Command channel full, could not send stop command")
	}
}

// RunPattern queues a pattern file for execution.
func (e *Engine) RunPattern(name string) error {
	scriptPath, err := e.GetPatternPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(scriptPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("pattern '%s' not found", name)
		}
		return err
	}

	e.cmdChan <- engineCmd{kind: cmdRunFile, name: name, code: scriptPath}
	return nil
}

// ExecuteString queues a one-off Lua snippet.
func (e *Engine) ExecuteString(code string) {
	e.cmdChan <- engineCmd{kind: cmdRunString, name: "single line command", code: code}
}

func (e *Engine) publishRunning(name string) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Publish(core.Event{
		Type:    core.PatternChangedEvent,
		Payload: map[string]interface{}{"running": name},
	})
}

// execute runs Lua code in a fresh state bound to ctx.
func (e *Engine) execute(ctx context.Context, name string, executor func(*lua.LState) error) {
	e.logger.Info().Str("pattern", name).Msg("Starting pattern")
	e.publishRunning(name)

	defer func() {
		e.logger.Info().Str("pattern", name).Msg("Pattern finished")
		e.publishRunning("")
	}()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	registerGoFunctions(L, &api{strip: e.strip, ctx: ctx})

	if err := executor(L); err != nil {
		if ctx.Err() != nil {
			e.logger.Info().Str("pattern", name).Msg("Pattern execution was canceled")
		} else {
			e.logger.Error().Str("pattern", name).Err(err).Msg("Error executing pattern")
		}
	}
}
