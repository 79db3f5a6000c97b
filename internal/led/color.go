// Package led drives an addressable strip from the device configuration:
// frame buffer, brightness clamp, power budget and frame pacing.
package led

import (
	"fmt"

	"timelapse-box/internal/config"
)

// Color is a single pixel value before brightness scaling.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Channel clamps an integer to a single 0..255 color channel.
func Channel(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Hex formats the color as #RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Frame is what a Driver receives on every Show.
type Frame struct {
	Pixels     []Color
	Brightness uint8
	Order      config.ColorOrder
}

func scale(v, brightness uint8) byte {
	return byte(uint16(v) * uint16(brightness) / 255)
}

// Bytes encodes the frame for the wire: each channel scaled by Brightness and
// emitted in Order. An unknown order falls back to RGB.
func (f Frame) Bytes() []byte {
	idx, ok := f.Order.Indices()
	if !ok {
		idx = [3]int{0, 1, 2}
	}
	out := make([]byte, 0, len(f.Pixels)*3)
	for _, p := range f.Pixels {
		ch := [3]uint8{p.R, p.G, p.B}
		for _, i := range idx {
			out = append(out, scale(ch[i], f.Brightness))
		}
	}
	return out
}

// Average returns the mean color of the frame, unscaled.
func (f Frame) Average() Color {
	if len(f.Pixels) == 0 {
		return Color{}
	}
	var r, g, b int
	for _, p := range f.Pixels {
		r += int(p.R)
		g += int(p.G)
		b += int(p.B)
	}
	n := len(f.Pixels)
	return Color{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n)}
}

// Wheel maps 0..255 onto a red-green-blue color wheel.
func Wheel(pos uint8) Color {
	switch {
	case pos < 85:
		return Color{R: 255 - pos*3, G: pos * 3, B: 0}
	case pos < 170:
		pos -= 85
		return Color{R: 0, G: 255 - pos*3, B: pos * 3}
	default:
		pos -= 170
		return Color{R: pos * 3, G: 0, B: 255 - pos*3}
	}
}
