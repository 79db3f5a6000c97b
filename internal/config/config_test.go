package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDevice(), cfg.Device)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.BLE.ScanTimeout)
	assert.Equal(t, 25.0, cfg.BLE.RateLimit)
	assert.Equal(t, "timelapse", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "patterns", cfg.PatternsDir)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestLoadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "device": {
    "hostname": " boxcam01 ",
    "num_leds": 60,
    "color_order": "rgb",
    "led_type": "sk6812",
    "initial_brightness_percentage": 0.25,
    "ftp_passive_data_port": 50010
  },
  "server": {"port": "9090"},
  "ble": {"scan_timeout": "10s"},
  "mqtt": {"enabled": true, "topic_prefix": "studio/"},
  "log": {"level": "DEBUG"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "boxcam01", cfg.Device.Hostname)
	assert.Equal(t, 60, cfg.Device.NumLEDs)
	assert.Equal(t, ColorOrderRGB, cfg.Device.ColorOrder)
	assert.Equal(t, LEDTypeSK6812, cfg.Device.LEDType)
	assert.Equal(t, 0.25, cfg.Device.InitialBrightnessPercentage)
	assert.EqualValues(t, 50010, cfg.Device.FTPPassiveDataPort)
	assert.EqualValues(t, 21, cfg.Device.FTPControlPort, "unset keys keep their defaults")
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.BLE.ScanTimeout)
	assert.Equal(t, "studio", cfg.MQTT.TopicPrefix)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.NoError(t, cfg.Device.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TIMELAPSE_DEVICE_PASSWORD", "supersecret")
	t.Setenv("TIMELAPSE_DEVICE_MILLI_AMPS", "4000")
	t.Setenv("TIMELAPSE_SERVER_PORT", "8181")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "supersecret", cfg.Device.Password)
	assert.Equal(t, 4000, cfg.Device.MilliAmps)
	assert.Equal(t, "8181", cfg.Server.Port)
}

func TestLoadDoesNotValidateDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device": {"password": "123"}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Device.Validate(), ErrInvalidField)
}

func TestLoadRejectsBadAgentSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ble": {"command_rate_limit": -1}}`), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "command_rate_limit")

	require.NoError(t, os.WriteFile(path, []byte(`{"log": {"level": "loud"}}`), 0644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "log.level")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device": `), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangePorts(t *testing.T) {
	cases := []struct {
		content string
		field   string
	}{
		{`{"device": {"ftp_control_port": 70000}}`, "ftpControlPort"},
		{`{"device": {"ftp_control_port": 65557}}`, "ftpControlPort"},
		{`{"device": {"ftp_control_port": -1}}`, "ftpControlPort"},
		{`{"device": {"ftp_passive_data_port": 70000}}`, "ftpPassiveDataPort"},
		{`{"device": {"ftp_passive_data_port": -1}}`, "ftpPassiveDataPort"},
	}

	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))

		cfg, err := Load(path)
		assert.Nil(t, cfg, tc.content)
		assertInvalidField(t, err, tc.field)
	}
}

func TestLoadRejectsOutOfRangePortFromEnv(t *testing.T) {
	t.Setenv("TIMELAPSE_DEVICE_FTP_CONTROL_PORT", "-1")

	_, err := Load("")
	assertInvalidField(t, err, "ftpControlPort")
}

func TestLoadAcceptsPortBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"device": {"ftp_control_port": 65535, "ftp_passive_data_port": 1}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 65535, cfg.Device.FTPControlPort)
	assert.EqualValues(t, 1, cfg.Device.FTPPassiveDataPort)
	assert.NoError(t, cfg.Device.Validate())
}
