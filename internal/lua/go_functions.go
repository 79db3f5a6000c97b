package lua

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"timelapse-box/internal/led"
)

// api binds the Lua globals of one script run to the strip and its context.
type api struct {
	strip Strip
	ctx   context.Context
}

// registerGoFunctions exposes Go functions to the given Lua state.
func registerGoFunctions(L *lua.LState, a *api) {
	L.SetGlobal("print", L.NewFunction(luaPrint))

	L.SetGlobal("led_count", L.NewFunction(a.luaLedCount))
	L.SetGlobal("led_delay", L.NewFunction(a.luaLedDelay))
	L.SetGlobal("set_pixel", L.NewFunction(a.luaSetPixel))
	L.SetGlobal("fill", L.NewFunction(a.luaFill))
	L.SetGlobal("clear", L.NewFunction(a.luaClear))
	L.SetGlobal("show", L.NewFunction(a.luaShow))
	L.SetGlobal("set_brightness", L.NewFunction(a.luaSetBrightness))
	L.SetGlobal("set_power", L.NewFunction(a.luaSetPower))
	L.SetGlobal("sleep", L.NewFunction(a.luaSleep))
	L.SetGlobal("should_stop", L.NewFunction(a.luaShouldStop))

	L.SetGlobal("breathe", L.NewFunction(a.luaBreathe))
	L.SetGlobal("strobe", L.NewFunction(a.luaStrobe))
	L.SetGlobal("fade", L.NewFunction(a.luaFade))
	L.SetGlobal("rainbow", L.NewFunction(a.luaRainbow))
}

func luaPrint(L *lua.LState) int {
	log.Info().Str("component", "lua").Msg(L.ToString(1))
	return 0
}

func colorArgs(L *lua.LState, first int) led.Color {
	return led.Color{R: led.Channel(L.ToInt(first)), G: led.Channel(L.ToInt(first + 1)), B: led.Channel(L.ToInt(first + 2))}
}

func (a *api) luaLedCount(L *lua.LState) int {
	L.Push(lua.LNumber(a.strip.Count()))
	return 1
}

func (a *api) luaLedDelay(L *lua.LState) int {
	L.Push(lua.LNumber(a.strip.Delay().Milliseconds()))
	return 1
}

// set_pixel(i, r, g, b) with i in 0..led_count()-1
func (a *api) luaSetPixel(L *lua.LState) int {
	if err := a.strip.SetPixel(L.CheckInt(1), colorArgs(L, 2)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (a *api) luaFill(L *lua.LState) int {
	a.strip.Fill(colorArgs(L, 1))
	return 0
}

func (a *api) luaClear(L *lua.LState) int {
	a.strip.Clear()
	return 0
}

func (a *api) luaShow(L *lua.LState) int {
	if err := a.strip.Show(a.ctx); err != nil && a.ctx.Err() == nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (a *api) luaSetBrightness(L *lua.LState) int {
	L.Push(lua.LNumber(a.strip.SetBrightness(L.ToInt(1))))
	return 1
}

func (a *api) luaSetPower(L *lua.LState) int {
	a.strip.SetPower(L.ToBool(1))
	return 0
}

// cancellableSleep returns true if the context was cancelled during sleep.
func cancellableSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() != nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-ctx.Done():
		return true
	}
}

// sleep(ms); without an argument it waits led_delay().
func (a *api) luaSleep(L *lua.LState) int {
	d := a.strip.Delay()
	if L.GetTop() >= 1 {
		d = time.Duration(L.ToInt(1)) * time.Millisecond
	}
	cancellableSleep(a.ctx, d)
	return 0
}

func (a *api) luaShouldStop(L *lua.LState) int {
	L.Push(lua.LBool(a.ctx.Err() != nil))
	return 1
}

// show renders and reports whether the pattern should stop.
func (a *api) show() bool {
	if err := a.strip.Show(a.ctx); err != nil {
		return true
	}
	return false
}

// breathe(ms) ramps brightness from 1 to the current brightness and back.
func (a *api) luaBreathe(L *lua.LState) int {
	duration := time.Duration(L.ToInt(1)) * time.Millisecond
	peak := int(a.strip.Brightness())
	if peak < 1 {
		peak = 1
	}
	defer a.strip.SetBrightness(peak)

	const steps = 100
	stepDuration := duration / time.Duration(2*steps)

	for i := 1; i <= steps; i++ {
		a.strip.SetBrightness(peak * i / steps)
		if a.show() || cancellableSleep(a.ctx, stepDuration) {
			return 0
		}
	}
	for i := steps; i >= 1; i-- {
		a.strip.SetBrightness(peak * i / steps)
		if a.show() || cancellableSleep(a.ctx, stepDuration) {
			return 0
		}
	}
	return 0
}

// strobe(r, g, b, ms, hz) flashes a color at hz for ms.
func (a *api) luaStrobe(L *lua.LState) int {
	col := colorArgs(L, 1)
	duration := time.Duration(L.ToInt(4)) * time.Millisecond
	hz := float64(L.ToNumber(5))
	if hz <= 0 {
		return 0
	}

	a.strip.SetPower(true)
	halfPeriod := time.Duration(float64(time.Second) / hz / 2)
	startTime := time.Now()

	for time.Since(startTime) < duration {
		a.strip.Fill(col)
		if a.show() || cancellableSleep(a.ctx, halfPeriod) {
			return 0
		}
		a.strip.Clear()
		if a.show() || cancellableSleep(a.ctx, halfPeriod) {
			return 0
		}
	}
	return 0
}

// fade(r1, g1, b1, r2, g2, b2, ms) interpolates the whole strip between two colors.
func (a *api) luaFade(L *lua.LState) int {
	from := colorArgs(L, 1)
	to := colorArgs(L, 4)
	duration := time.Duration(L.ToInt(7)) * time.Millisecond

	a.strip.SetPower(true)

	const steps = 100
	stepDuration := duration / steps

	lerp := func(x, y uint8, p float64) uint8 {
		return uint8(math.Round(float64(x) + p*(float64(y)-float64(x))))
	}

	for i := 0; i <= steps; i++ {
		p := float64(i) / steps
		a.strip.Fill(led.Color{R: lerp(from.R, to.R, p), G: lerp(from.G, to.G, p), B: lerp(from.B, to.B, p)})
		if a.show() || cancellableSleep(a.ctx, stepDuration) {
			return 0
		}
	}
	return 0
}

// rainbow(ms) spreads the color wheel over the strip and rotates it for ms.
func (a *api) luaRainbow(L *lua.LState) int {
	duration := time.Duration(L.ToInt(1)) * time.Millisecond
	n := a.strip.Count()
	if n == 0 {
		return 0
	}

	a.strip.SetPower(true)
	startTime := time.Now()
	for offset := 0; ; offset++ {
		for i := 0; i < n; i++ {
			_ = a.strip.SetPixel(i, led.Wheel(uint8((i*256/n+offset)&0xFF)))
		}
		if a.show() || time.Since(startTime) >= duration {
			return 0
		}
	}
}
