package ble

import (
	"time"

	"timelapse-box/internal/config"
)

// BLEDOM frames are 9 bytes: 0x7E, length, opcode, arguments..., 0xEF.

func powerCommand(isOn bool) []byte {
	val := byte(0x00)
	if isOn {
		val = 0x01
	}
	return []byte{0x7E, 0x04, 0x04, val, 0x00, val, 0xFF, 0x00, 0xEF}
}

func colorCommand(r, g, b uint8) []byte {
	return []byte{0x7E, 0x07, 0x05, 0x03, r, g, b, 0x10, 0xEF}
}

// brightnessCommand takes a percentage; values above 100 are clamped.
func brightnessCommand(percent int) []byte {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return []byte{0x7E, 0x04, 0x01, byte(percent), 0xFF, 0xFF, 0xFF, 0x00, 0xEF}
}

func syncTimeCommand(now time.Time) []byte {
	day := now.Weekday() // time.Sunday is 0, the strip counts Monday as 0
	var deviceDay byte
	if day == time.Sunday {
		deviceDay = 6
	} else {
		deviceDay = byte(day - 1)
	}
	return []byte{
		0x7E, 0x07, 0x83,
		byte(now.Hour()),
		byte(now.Minute()),
		byte(now.Second()),
		deviceDay,
		0xFF, 0xEF,
	}
}

// rgbOrderCommand tells the strip which channel sits at each wire position
// (1=R, 2=G, 3=B).
func rgbOrderCommand(order config.ColorOrder) []byte {
	idx, ok := order.Indices()
	if !ok {
		idx = [3]int{0, 1, 2}
	}
	return []byte{
		0x7E, 0x06, 0x81,
		byte(idx[0] + 1), byte(idx[1] + 1), byte(idx[2] + 1),
		0xFF, 0x00, 0xEF,
	}
}

// SetPower builds and sends the power on/off command.
func (c *Controller) SetPower(isOn bool) {
	c.Write(powerCommand(isOn))
}

// SetColor builds and sends the color command.
func (c *Controller) SetColor(r, g, b uint8) {
	c.Write(colorCommand(r, g, b))
}

// SetBrightness builds and sends the brightness command (0-100).
func (c *Controller) SetBrightness(percent int) {
	c.Write(brightnessCommand(percent))
}

// SyncTime sends the host clock to the strip.
func (c *Controller) SyncTime() {
	c.Write(syncTimeCommand(time.Now()))
}

// SetRgbOrder sends the configured wire order.
func (c *Controller) SetRgbOrder(order config.ColorOrder) {
	c.Write(rgbOrderCommand(order))
}
