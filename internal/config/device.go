package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Credential constraints
const (
	// MinLengthHostname is the shortest hostname networking will accept.
	MinLengthHostname = 6

	// MinLengthPassword is the shortest Wi-Fi password networking will accept.
	MinLengthPassword = 8
)

// Device defaults, matching the stock timelapse box build.
const (
	DefaultHostname                    = "esp32timelapse"
	DefaultPassword                    = "12345678"
	DefaultFTPControlPort              = 21
	DefaultFTPPassiveDataPort          = 50009
	DefaultLEDType                     = LEDTypeWS2812
	DefaultLEDPin                      = 3
	DefaultColorOrder                  = ColorOrderGRB
	DefaultNumLEDs                     = 13
	DefaultMaxBrightness               = 255
	DefaultInitialBrightnessPercentage = 1.0
	DefaultLEDDelayMs                  = 500
	DefaultMilliAmps                   = 1600
	DefaultFramesPerSecond             = 120
)

// MaxLEDPin is the highest GPIO index on the target board.
const MaxLEDPin = 39

// LEDType identifies the strip driver protocol.
type LEDType string

const (
	LEDTypeWS2812  LEDType = "WS2812"
	LEDTypeWS2812B LEDType = "WS2812B"
	LEDTypeWS2811  LEDType = "WS2811"
	LEDTypeSK6812  LEDType = "SK6812"
	// LEDTypeBLEDOM is a strip driven over Bluetooth LE instead of a GPIO pin.
	LEDTypeBLEDOM LEDType = "BLEDOM"
)

var ledTypes = []LEDType{LEDTypeWS2812, LEDTypeWS2812B, LEDTypeWS2811, LEDTypeSK6812, LEDTypeBLEDOM}

// Valid reports whether t is one of the supported drivers.
func (t LEDType) Valid() bool {
	for _, v := range ledTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ColorOrder is the channel sequence the strip expects on the wire.
type ColorOrder string

const (
	ColorOrderRGB ColorOrder = "RGB"
	ColorOrderRBG ColorOrder = "RBG"
	ColorOrderGRB ColorOrder = "GRB"
	ColorOrderGBR ColorOrder = "GBR"
	ColorOrderBRG ColorOrder = "BRG"
	ColorOrderBGR ColorOrder = "BGR"
)

// Indices returns, for each wire position, the source channel (0=R, 1=G, 2=B).
// ok is false for an unknown order.
func (o ColorOrder) Indices() (idx [3]int, ok bool) {
	if len(o) != 3 {
		return idx, false
	}
	var seen [3]bool
	for i, ch := range string(o) {
		switch ch {
		case 'R':
			idx[i] = 0
		case 'G':
			idx[i] = 1
		case 'B':
			idx[i] = 2
		default:
			return idx, false
		}
		if seen[idx[i]] {
			return idx, false
		}
		seen[idx[i]] = true
	}
	return idx, true
}

// Valid reports whether o is a permutation of R, G and B.
func (o ColorOrder) Valid() bool {
	_, ok := o.Indices()
	return ok
}

// DeviceConfiguration is the fixed set of values the box is built with. It is
// handed to consumers by value and never mutated after start-up.
type DeviceConfiguration struct {
	Hostname string `mapstructure:"hostname" json:"hostname"`
	Password string `mapstructure:"password" json:"password"`

	FTPControlPort     uint16 `mapstructure:"ftp_control_port" json:"ftp_control_port"`
	FTPPassiveDataPort uint16 `mapstructure:"ftp_passive_data_port" json:"ftp_passive_data_port"`

	LEDType                     LEDType    `mapstructure:"led_type" json:"led_type"`
	LEDPin                      int        `mapstructure:"led_pin" json:"led_pin"`
	ColorOrder                  ColorOrder `mapstructure:"color_order" json:"color_order"`
	NumLEDs                     int        `mapstructure:"num_leds" json:"num_leds"`
	MaxBrightness               int        `mapstructure:"max_brightness" json:"max_brightness"`
	InitialBrightnessPercentage float64    `mapstructure:"initial_brightness_percentage" json:"initial_brightness_percentage"`
	LEDDelayMs                  int        `mapstructure:"led_delay_ms" json:"led_delay_ms"`
	MilliAmps                   int        `mapstructure:"milli_amps" json:"milli_amps"`
	FramesPerSecond             int        `mapstructure:"frames_per_second" json:"frames_per_second"`
}

// DefaultDevice returns the stock configuration.
func DefaultDevice() DeviceConfiguration {
	return DeviceConfiguration{
		Hostname:                    DefaultHostname,
		Password:                    DefaultPassword,
		FTPControlPort:              DefaultFTPControlPort,
		FTPPassiveDataPort:          DefaultFTPPassiveDataPort,
		LEDType:                     DefaultLEDType,
		LEDPin:                      DefaultLEDPin,
		ColorOrder:                  DefaultColorOrder,
		NumLEDs:                     DefaultNumLEDs,
		MaxBrightness:               DefaultMaxBrightness,
		InitialBrightnessPercentage: DefaultInitialBrightnessPercentage,
		LEDDelayMs:                  DefaultLEDDelayMs,
		MilliAmps:                   DefaultMilliAmps,
		FramesPerSecond:             DefaultFramesPerSecond,
	}
}

// ErrInvalidField matches every *ConfigError via errors.Is.
var ErrInvalidField = errors.New("invalid field")

// ConfigError names the first field that failed validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: '%s' %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidField
}

// NetworkField reports whether the failure concerns the network credentials.
func (e *ConfigError) NetworkField() bool {
	return e.Field == "hostname" || e.Field == "password"
}

func invalid(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every field in declaration order and returns a *ConfigError
// for the first one that is out of bounds.
func (d DeviceConfiguration) Validate() error {
	if len(d.Hostname) < MinLengthHostname {
		return invalid("hostname", "must be at least %d characters, got %d", MinLengthHostname, len(d.Hostname))
	}
	if len(d.Password) < MinLengthPassword {
		return invalid("password", "must be at least %d characters, got %d", MinLengthPassword, len(d.Password))
	}
	if d.FTPControlPort == 0 {
		return invalid("ftpControlPort", "must be a TCP port in 1..65535")
	}
	if d.FTPPassiveDataPort == 0 {
		return invalid("ftpPassiveDataPort", "must be a TCP port in 1..65535")
	}
	if d.FTPPassiveDataPort == d.FTPControlPort {
		return invalid("ftpPassiveDataPort", "must differ from ftpControlPort (%d)", d.FTPControlPort)
	}
	if !d.LEDType.Valid() {
		return invalid("ledType", "unsupported driver '%s'", d.LEDType)
	}
	if d.LEDPin < 0 || d.LEDPin > MaxLEDPin {
		return invalid("ledPin", "must be a GPIO index in 0..%d, got %d", MaxLEDPin, d.LEDPin)
	}
	if !d.ColorOrder.Valid() {
		return invalid("colorOrder", "unknown channel order '%s'", d.ColorOrder)
	}
	if d.NumLEDs <= 0 {
		return invalid("numLeds", "must be positive, got %d", d.NumLEDs)
	}
	if d.MaxBrightness < 0 || d.MaxBrightness > 255 {
		return invalid("maxBrightness", "must be in 0..255, got %d", d.MaxBrightness)
	}
	p := d.InitialBrightnessPercentage
	if math.IsNaN(p) || p < 0 || p > 1 {
		return invalid("initialBrightnessPercentage", "must be in [0.0, 1.0], got %v", p)
	}
	if d.LEDDelayMs < 0 {
		return invalid("ledDelay", "must not be negative, got %d", d.LEDDelayMs)
	}
	if d.MilliAmps <= 0 {
		return invalid("milliAmps", "must be positive, got %d", d.MilliAmps)
	}
	if d.FramesPerSecond <= 0 {
		return invalid("framesPerSecond", "must be positive, got %d", d.FramesPerSecond)
	}
	return nil
}

// InitialBrightness is the brightness applied at start-up.
func (d DeviceConfiguration) InitialBrightness() uint8 {
	b := math.Round(float64(d.MaxBrightness) * d.InitialBrightnessPercentage)
	if b < 0 {
		return 0
	}
	if b > 255 {
		return 255
	}
	return uint8(b)
}

// LEDDelay is the default pause between animation steps.
func (d DeviceConfiguration) LEDDelay() time.Duration {
	return time.Duration(d.LEDDelayMs) * time.Millisecond
}

// FrameInterval is the minimum time between two rendered frames.
func (d DeviceConfiguration) FrameInterval() time.Duration {
	if d.FramesPerSecond <= 0 {
		return 0
	}
	return time.Second / time.Duration(d.FramesPerSecond)
}

// Redacted returns a copy that is safe to log or serve.
func (d DeviceConfiguration) Redacted() DeviceConfiguration {
	if d.Password != "" {
		d.Password = "*redacted*"
	}
	return d
}
