package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TIMELAPSE_DEVICE_PASSWORD.
const EnvPrefix = "timelapse"

// ServerConfig - HTTP/WebSocket control surface
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	WebFilesDir    string   `mapstructure:"web_files_dir"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BLEConfig - only used when the strip is a BLEDOM
type BLEConfig struct {
	DeviceNames       []string      `mapstructure:"device_names"`
	ScanTimeout       time.Duration `mapstructure:"scan_timeout"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RateLimit         float64       `mapstructure:"command_rate_limit"`
	RateBurst         int           `mapstructure:"command_rate_burst"`
}

// MQTTConfig - MQTT and Home Assistant discovery
type MQTTConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Broker             string `mapstructure:"broker"` // tcp://IP:PORT
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	TopicPrefix        string `mapstructure:"topic_prefix"`
	HADiscoveryEnabled bool   `mapstructure:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `mapstructure:"ha_discovery_prefix"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is everything the agent reads at start-up.
type Config struct {
	Device DeviceConfiguration `mapstructure:"device"`
	Server ServerConfig        `mapstructure:"server"`
	BLE    BLEConfig           `mapstructure:"ble"`
	MQTT   MQTTConfig          `mapstructure:"mqtt"`
	Log    LogConfig           `mapstructure:"log"`

	PatternsDir    string `mapstructure:"patterns_dir"`
	SchedulesFile  string `mapstructure:"schedules_file"`
	StartupPattern string `mapstructure:"startup_pattern"`
}

// Load reads an optional JSON/YAML file, applies TIMELAPSE_* environment
// overrides on top of the defaults and checks the agent-level settings. The
// device block is decoded but not validated here; the start-up sequence does
// that. Port values that do not fit a TCP port are rejected before decoding
// since they would otherwise wrap into valid-looking ones.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
		}
	}

	if err := checkPortRange(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.sanitize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var portKeys = []struct{ key, field string }{
	{"device.ftp_control_port", "ftpControlPort"},
	{"device.ftp_passive_data_port", "ftpPassiveDataPort"},
}

// checkPortRange looks at the raw port values, before they are narrowed to
// uint16.
func checkPortRange(v *viper.Viper) error {
	for _, p := range portKeys {
		port := v.GetInt64(p.key)
		if port < 0 || port > math.MaxUint16 {
			return invalid(p.field, "must be a TCP port in 1..65535, got %d", port)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultDevice()
	v.SetDefault("device.hostname", d.Hostname)
	v.SetDefault("device.password", d.Password)
	v.SetDefault("device.ftp_control_port", d.FTPControlPort)
	v.SetDefault("device.ftp_passive_data_port", d.FTPPassiveDataPort)
	v.SetDefault("device.led_type", string(d.LEDType))
	v.SetDefault("device.led_pin", d.LEDPin)
	v.SetDefault("device.color_order", string(d.ColorOrder))
	v.SetDefault("device.num_leds", d.NumLEDs)
	v.SetDefault("device.max_brightness", d.MaxBrightness)
	v.SetDefault("device.initial_brightness_percentage", d.InitialBrightnessPercentage)
	v.SetDefault("device.led_delay_ms", d.LEDDelayMs)
	v.SetDefault("device.milli_amps", d.MilliAmps)
	v.SetDefault("device.frames_per_second", d.FramesPerSecond)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.web_files_dir", "./web")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8080"})

	v.SetDefault("ble.device_names", []string{"ELK-BLEDOM   ", "BLEDOM"})
	v.SetDefault("ble.scan_timeout", "30s")
	v.SetDefault("ble.connect_timeout", "7s")
	v.SetDefault("ble.heartbeat_interval", "60s")
	v.SetDefault("ble.retry_delay", "5s")
	v.SetDefault("ble.command_rate_limit", 25.0)
	v.SetDefault("ble.command_rate_burst", 25)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "timelapse")
	v.SetDefault("mqtt.ha_discovery_enabled", false)
	v.SetDefault("mqtt.ha_discovery_prefix", "homeassistant")

	v.SetDefault("log.level", "info")

	v.SetDefault("patterns_dir", "patterns")
	v.SetDefault("schedules_file", "schedules.json")
	v.SetDefault("startup_pattern", "")
}

func (c *Config) sanitize() {
	c.Device.Hostname = strings.TrimSpace(c.Device.Hostname)
	c.Device.LEDType = LEDType(strings.ToUpper(strings.TrimSpace(string(c.Device.LEDType))))
	c.Device.ColorOrder = ColorOrder(strings.ToUpper(strings.TrimSpace(string(c.Device.ColorOrder))))

	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.WebFilesDir = strings.TrimSpace(c.Server.WebFilesDir)
	c.PatternsDir = strings.TrimSpace(c.PatternsDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
	c.StartupPattern = strings.TrimSpace(c.StartupPattern)
	c.MQTT.TopicPrefix = strings.TrimSuffix(strings.TrimSpace(c.MQTT.TopicPrefix), "/")
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))

	// Passwords and BLE names may legitimately carry spaces ("ELK-BLEDOM   ").
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config error: 'server.port' must not be empty")
	}
	if c.BLE.RateLimit <= 0 {
		return fmt.Errorf("config error: 'ble.command_rate_limit' must be positive")
	}
	if c.BLE.RateBurst <= 0 {
		return fmt.Errorf("config error: 'ble.command_rate_burst' must be positive")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config error: 'log.level': %w", err)
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("config error: 'mqtt.topic_prefix' must not be empty")
	}
	return nil
}

// LogLevel returns the parsed log level, defaulting to info.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
