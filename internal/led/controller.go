package led

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"timelapse-box/internal/config"
)

// Driver pushes a frame to the physical strip.
type Driver interface {
	Render(f Frame) error
}

// State is a snapshot of the controller.
type State struct {
	Power               bool    `json:"power"`
	Brightness          uint8   `json:"brightness"`
	EffectiveBrightness uint8   `json:"effective_brightness"`
	MilliAmps           int     `json:"milli_amps"`
	Pixels              []Color `json:"pixels"`
}

// Controller owns the frame buffer for one strip. All methods are safe for
// concurrent use; Show is paced to the configured frames per second.
type Controller struct {
	mu     sync.Mutex
	device config.DeviceConfiguration
	driver Driver

	pixels     []Color
	brightness uint8
	effective  uint8
	power      bool

	frameLimiter *rate.Limiter
}

// NewController builds a controller at the device's initial brightness with
// every pixel off and power on.
func NewController(device config.DeviceConfiguration, driver Driver) *Controller {
	n := device.NumLEDs
	if n < 0 {
		n = 0
	}
	limit := rate.Inf
	if device.FramesPerSecond > 0 {
		limit = rate.Limit(device.FramesPerSecond)
	}
	c := &Controller{
		device:       device,
		driver:       driver,
		pixels:       make([]Color, n),
		power:        true,
		frameLimiter: rate.NewLimiter(limit, 1),
	}
	c.brightness = c.clamp(int(device.InitialBrightness()))
	return c
}

func (c *Controller) clamp(v int) uint8 {
	if v < 0 {
		v = 0
	}
	if v > c.device.MaxBrightness {
		v = c.device.MaxBrightness
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

// Count is the strip length.
func (c *Controller) Count() int {
	return len(c.pixels)
}

// Delay is the configured pause between animation steps.
func (c *Controller) Delay() time.Duration {
	return c.device.LEDDelay()
}

// FramesPerSecond is the render rate cap.
func (c *Controller) FramesPerSecond() int {
	return c.device.FramesPerSecond
}

// SetPixel sets one pixel in the buffer; it is shown on the next Show.
func (c *Controller) SetPixel(i int, col Color) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.pixels) {
		return fmt.Errorf("pixel index %d out of range 0..%d", i, len(c.pixels)-1)
	}
	c.pixels[i] = col
	return nil
}

// Fill sets every pixel to col.
func (c *Controller) Fill(col Color) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.pixels {
		c.pixels[i] = col
	}
}

// Clear turns every pixel off in the buffer.
func (c *Controller) Clear() {
	c.Fill(Color{})
}

// SetBrightness clamps v to [0, maxBrightness] and returns the applied value.
func (c *Controller) SetBrightness(v int) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brightness = c.clamp(v)
	return c.brightness
}

func (c *Controller) Brightness() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brightness
}

func (c *Controller) SetPower(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.power = on
}

func (c *Controller) Power() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.power
}

// Show waits for the next frame slot, derates brightness to the power budget
// and renders the buffer through the driver.
func (c *Controller) Show(ctx context.Context) error {
	if err := c.frameLimiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	frame := c.frameLocked()
	c.mu.Unlock()

	if c.driver == nil {
		return nil
	}
	if err := c.driver.Render(frame); err != nil {
		return fmt.Errorf("failed to render frame: %w", err)
	}
	return nil
}

func (c *Controller) frameLocked() Frame {
	pixels := make([]Color, len(c.pixels))
	copy(pixels, c.pixels)

	var b uint8
	if c.power {
		b = LimitBrightness(pixels, c.brightness, c.device.MilliAmps)
		if b < c.brightness && b != c.effective {
			log.Debug().Str("component", "led").
				Uint8("requested", c.brightness).Uint8("limited", b).
				Int("budget_ma", c.device.MilliAmps).
				Msg("Brightness derated to power budget")
		}
	}
	c.effective = b
	return Frame{Pixels: pixels, Brightness: b, Order: c.device.ColorOrder}
}

// State returns a snapshot of the buffer and brightness.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	pixels := make([]Color, len(c.pixels))
	copy(pixels, c.pixels)
	return State{
		Power:               c.power,
		Brightness:          c.brightness,
		EffectiveBrightness: c.effective,
		MilliAmps:           EstimateMilliAmps(pixels, c.effective),
		Pixels:              pixels,
	}
}

// MemoryDriver keeps the last encoded frame. It stands in for the GPIO
// output of WS2812-family strips when the agent runs on a host.
type MemoryDriver struct {
	mu     sync.Mutex
	last   []byte
	frame  Frame
	frames int
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{}
}

func (d *MemoryDriver) Render(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = f.Bytes()
	d.frame = f
	d.frames++
	return nil
}

// Last returns the last wire bytes and how many frames were rendered.
func (d *MemoryDriver) Last() ([]byte, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.last))
	copy(out, d.last)
	return out, d.frames
}

// LastFrame returns the last frame as rendered.
func (d *MemoryDriver) LastFrame() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}
