package config

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertInvalidField(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidField)

	var ce *ConfigError
	require.True(t, errors.As(err, &ce), "expected *ConfigError, got %T", err)
	assert.Equal(t, field, ce.Field)
	assert.NotEmpty(t, ce.Reason)
}

func TestDefaultDeviceIsValid(t *testing.T) {
	d := DefaultDevice()

	assert.Equal(t, "esp32timelapse", d.Hostname)
	assert.Equal(t, "12345678", d.Password)
	assert.EqualValues(t, 21, d.FTPControlPort)
	assert.EqualValues(t, 50009, d.FTPPassiveDataPort)
	assert.Equal(t, 1.0, d.InitialBrightnessPercentage)
	assert.NoError(t, d.Validate())
}

func TestValidateRejectsShortHostname(t *testing.T) {
	d := DefaultDevice()
	d.Hostname = "ab"
	assertInvalidField(t, d.Validate(), "hostname")
}

func TestValidateRejectsShortPassword(t *testing.T) {
	d := DefaultDevice()
	d.Password = "1234567"
	assertInvalidField(t, d.Validate(), "password")
}

func TestValidateAcceptsMinimumLengths(t *testing.T) {
	d := DefaultDevice()
	d.Hostname = "abcdef"
	d.Password = "abcdefgh"
	assert.NoError(t, d.Validate())
}

func TestValidateRejectsEqualFTPPorts(t *testing.T) {
	d := DefaultDevice()
	d.FTPControlPort = 21
	d.FTPPassiveDataPort = 21
	assertInvalidField(t, d.Validate(), "ftpPassiveDataPort")
}

func TestValidateRejectsZeroPorts(t *testing.T) {
	d := DefaultDevice()
	d.FTPControlPort = 0
	assertInvalidField(t, d.Validate(), "ftpControlPort")

	d = DefaultDevice()
	d.FTPPassiveDataPort = 0
	assertInvalidField(t, d.Validate(), "ftpPassiveDataPort")
}

func TestValidateRejectsBrightnessPercentageOutOfRange(t *testing.T) {
	for _, p := range []float64{1.5, -0.1, math.NaN()} {
		d := DefaultDevice()
		d.InitialBrightnessPercentage = p
		assertInvalidField(t, d.Validate(), "initialBrightnessPercentage")
	}

	d := DefaultDevice()
	d.InitialBrightnessPercentage = 0
	assert.NoError(t, d.Validate())
}

func TestValidateRejectsStripParameters(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*DeviceConfiguration)
	}{
		{"ledType", func(d *DeviceConfiguration) { d.LEDType = "APA102" }},
		{"ledPin", func(d *DeviceConfiguration) { d.LEDPin = -1 }},
		{"ledPin", func(d *DeviceConfiguration) { d.LEDPin = MaxLEDPin + 1 }},
		{"colorOrder", func(d *DeviceConfiguration) { d.ColorOrder = "RRG" }},
		{"colorOrder", func(d *DeviceConfiguration) { d.ColorOrder = "" }},
		{"numLeds", func(d *DeviceConfiguration) { d.NumLEDs = 0 }},
		{"maxBrightness", func(d *DeviceConfiguration) { d.MaxBrightness = 256 }},
		{"maxBrightness", func(d *DeviceConfiguration) { d.MaxBrightness = -1 }},
		{"ledDelay", func(d *DeviceConfiguration) { d.LEDDelayMs = -1 }},
		{"milliAmps", func(d *DeviceConfiguration) { d.MilliAmps = 0 }},
		{"framesPerSecond", func(d *DeviceConfiguration) { d.FramesPerSecond = 0 }},
	}

	for _, tc := range cases {
		d := DefaultDevice()
		tc.mutate(&d)
		assertInvalidField(t, d.Validate(), tc.field)
	}
}

func TestValidateFullInitialBrightnessOnCustomStrip(t *testing.T) {
	d := DefaultDevice()
	d.NumLEDs = 60
	d.ColorOrder = ColorOrderRGB
	d.MaxBrightness = 128
	d.InitialBrightnessPercentage = 1.0

	require.NoError(t, d.Validate())
	assert.Equal(t, uint8(128), d.InitialBrightness())
}

func TestValidateReportsFirstViolatedField(t *testing.T) {
	d := DefaultDevice()
	d.Password = "short"
	d.NumLEDs = 0
	d.MilliAmps = 0
	assertInvalidField(t, d.Validate(), "password")
}

func TestValidateIsIdempotent(t *testing.T) {
	d := DefaultDevice()
	d.FTPPassiveDataPort = d.FTPControlPort

	first := d.Validate()
	second := d.Validate()
	assert.Equal(t, first, second)

	ok := DefaultDevice()
	assert.NoError(t, ok.Validate())
	assert.NoError(t, ok.Validate())
}

func TestConfigErrorNetworkField(t *testing.T) {
	assert.True(t, (&ConfigError{Field: "hostname"}).NetworkField())
	assert.True(t, (&ConfigError{Field: "password"}).NetworkField())
	assert.False(t, (&ConfigError{Field: "numLeds"}).NetworkField())
	assert.Equal(t, "config error: 'numLeds' must be positive", (&ConfigError{Field: "numLeds", Reason: "must be positive"}).Error())
}

func TestColorOrderIndices(t *testing.T) {
	idx, ok := ColorOrderGRB.Indices()
	require.True(t, ok)
	assert.Equal(t, [3]int{1, 0, 2}, idx)

	idx, ok = ColorOrderBGR.Indices()
	require.True(t, ok)
	assert.Equal(t, [3]int{2, 1, 0}, idx)

	_, ok = ColorOrder("RGBW").Indices()
	assert.False(t, ok)
}

func TestDerivedValues(t *testing.T) {
	d := DefaultDevice()
	assert.Equal(t, uint8(255), d.InitialBrightness())
	assert.Equal(t, 500*time.Millisecond, d.LEDDelay())
	assert.Equal(t, time.Second/120, d.FrameInterval())

	d.MaxBrightness = 200
	d.InitialBrightnessPercentage = 0.5
	assert.Equal(t, uint8(100), d.InitialBrightness())
}

func TestRedactedHidesPassword(t *testing.T) {
	d := DefaultDevice()
	r := d.Redacted()
	assert.Equal(t, "*redacted*", r.Password)
	assert.Equal(t, "12345678", d.Password, "original value must be untouched")
	assert.Equal(t, d.Hostname, r.Hostname)
}
