// Package mqtt bridges the agent to an MQTT broker and Home Assistant.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"timelapse-box/internal/config"
	"timelapse-box/internal/core"
)

// Client publishes strip state and turns incoming topics into agent commands.
type Client struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	device   config.DeviceConfiguration
	eventBus *core.EventBus
	state    *core.State
	commands core.CommandChannel
	patterns func() ([]string, error)
	prefix   string
	deviceID string
	logger   zerolog.Logger
}

// NewClient builds the client. It returns nil when MQTT is disabled.
func NewClient(cfg config.MQTTConfig, device config.DeviceConfiguration, eb *core.EventBus, state *core.State, commands core.CommandChannel, patterns func() ([]string, error)) *Client {
	if !cfg.Enabled {
		return nil
	}

	c := &Client{
		cfg:      cfg,
		device:   device,
		eventBus: eb,
		state:    state,
		commands: commands,
		patterns: patterns,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		deviceID: sanitizeID(device.Hostname),
		logger:   log.With().Str("component", "mqtt").Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(device.Hostname)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	// keep retrying when the broker comes up after us
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetWill(c.topic("availability"), "offline", 1, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn().Err(err).Msg("Connection lost, retrying in background")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.logger.Info().Msg("Attempting to reconnect")
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func (c *Client) topic(sub string) string {
	return fmt.Sprintf("%s/%s", c.prefix, sub)
}

// Connect starts the connection loop and waits for the first handshake.
func (c *Client) Connect() error {
	c.logger.Info().Str("broker", c.cfg.Broker).Str("client_id", c.device.Hostname).Msg("Connecting")
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Run publishes state changes until ctx ends.
func (c *Client) Run(ctx context.Context) {
	sub := c.eventBus.Subscribe(core.StateChangedEvent, core.PatternListEvent)
	defer c.eventBus.Unsubscribe(sub, core.StateChangedEvent, core.PatternListEvent)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			switch event.Type {
			case core.StateChangedEvent:
				if snap, ok := event.Payload.(core.Snapshot); ok {
					c.publishState(snap)
				}
			case core.PatternListEvent:
				if c.cfg.HADiscoveryEnabled && c.client.IsConnected() {
					c.PublishHADiscovery()
				}
			}
		}
	}
}

// Disconnect publishes the offline status before closing the socket.
func (c *Client) Disconnect() {
	if !c.client.IsConnected() {
		return
	}
	c.logger.Info().Msg("Disconnecting")

	token := c.client.Publish(c.topic("availability"), 0, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		c.logger.Warn().Msg("Timed out publishing offline status")
	} else if token.Error() != nil {
		c.logger.Warn().Err(token.Error()).Msg("Failed to publish offline status")
	}

	c.client.Disconnect(250)
	c.logger.Info().Msg("Disconnected")
}

// Publish sends payload to <prefix>/<subtopic> without blocking the caller.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if !c.client.IsConnected() {
		return
	}
	topic := c.topic(subtopic)
	token := c.client.Publish(topic, 0, retained, fmt.Sprintf("%v", payload))

	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.logger.Warn().Str("topic", topic).Msg("Timeout publishing")
		} else if token.Error() != nil {
			c.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("Publish error")
		}
	}()
}

// stateTopics maps a snapshot onto the retained state topics.
func stateTopics(s core.Snapshot) map[string]string {
	power, connection := "OFF", "disconnected"
	if s.Power {
		power = "ON"
	}
	if s.BLEConnected {
		connection = "connected"
	}
	return map[string]string{
		"power/state":      power,
		"brightness/state": strconv.Itoa(s.Brightness),
		"color/state":      fmt.Sprintf("%d,%d,%d", s.ColorR, s.ColorG, s.ColorB),
		"pattern/state":    s.RunningPattern,
		"connection":       connection,
	}
}

func (c *Client) publishState(s core.Snapshot) {
	for sub, payload := range stateTopics(s) {
		c.Publish(sub, payload, true)
	}
}

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info().Msg("Connected to broker")

	topics := map[string]mqtt.MessageHandler{
		"power/set":      c.handlePower,
		"brightness/set": c.handleBrightness,
		"color/set":      c.handleColor,
		"pattern/run":    c.handlePatternRun,
		"pattern/stop":   c.handlePatternStop,
	}
	for sub, handler := range topics {
		topic := c.topic(sub)
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Error subscribing")
		} else {
			c.logger.Debug().Str("topic", topic).Msg("Subscribed")
		}
	}

	// onConnect runs on paho's event goroutine; discovery must not block it.
	go func() {
		c.Publish("availability", "online", true)
		c.publishAttributes()
		if c.state != nil {
			c.publishState(c.state.Clone())
		}
		if c.cfg.HADiscoveryEnabled {
			time.Sleep(1 * time.Second)
			c.PublishHADiscovery()
		}
	}()
}

// attributes are the static device facts exposed next to the light entity.
func (c *Client) attributes() map[string]interface{} {
	return map[string]interface{}{
		"hostname":              c.device.Hostname,
		"ftp_control_port":      c.device.FTPControlPort,
		"ftp_passive_data_port": c.device.FTPPassiveDataPort,
		"led_type":              c.device.LEDType,
		"num_leds":              c.device.NumLEDs,
		"milli_amps":            c.device.MilliAmps,
	}
}

func (c *Client) publishAttributes() {
	data, err := json.Marshal(c.attributes())
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshalling attributes")
		return
	}
	c.Publish("attributes", string(data), true)
}

// sanitizeID keeps only characters Home Assistant accepts in object ids.
func sanitizeID(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, s)
}

func (c *Client) discoveryTopic() string {
	return fmt.Sprintf("%s/light/%s/light/config", c.cfg.HADiscoveryPrefix, c.deviceID)
}

func (c *Client) discoveryPayload(patterns []string) map[string]interface{} {
	return map[string]interface{}{
		"name":      "Light",
		"unique_id": c.deviceID + "_light",
		"object_id": c.deviceID,
		"icon":      "mdi:led-strip",

		"command_topic": c.topic("power/set"),
		"state_topic":   c.topic("power/state"),

		"brightness_command_topic": c.topic("brightness/set"),
		"brightness_state_topic":   c.topic("brightness/state"),
		"brightness_scale":         255,

		"rgb_command_topic": c.topic("color/set"),
		"rgb_state_topic":   c.topic("color/state"),

		"effect_command_topic": c.topic("pattern/run"),
		"effect_state_topic":   c.topic("pattern/state"),
		"effect_list":          patterns,

		"json_attributes_topic": c.topic("attributes"),

		"availability_mode": "all",
		"availability": []map[string]string{
			{
				"topic":                 c.topic("availability"),
				"payload_available":     "online",
				"payload_not_available": "offline",
			},
		},

		"device": map[string]interface{}{
			"identifiers":  []string{c.deviceID},
			"name":         c.device.Hostname,
			"model":        fmt.Sprintf("Timelapse box (%s x%d)", c.device.LEDType, c.device.NumLEDs),
			"manufacturer": "timelapse-box",
			"sw_version":   versioninfo.Short(),
		},
	}
}

// PublishHADiscovery sends the Home Assistant light configuration.
func (c *Client) PublishHADiscovery() {
	patterns := []string{}
	if c.patterns != nil {
		if list, err := c.patterns(); err != nil {
			c.logger.Warn().Err(err).Msg("Could not get patterns for HA discovery")
		} else {
			patterns = list
		}
	}

	data, err := json.Marshal(c.discoveryPayload(patterns))
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshalling discovery payload")
		return
	}
	topic := c.discoveryTopic()
	c.client.Publish(topic, 0, true, data)
	c.logger.Info().Str("topic", topic).Msg("HA discovery sent")
}

func (c *Client) send(cmd core.Command) {
	select {
	case c.commands <- cmd:
	default:
		c.logger.Warn().Str("type", string(cmd.Type)).Msg("Command channel full, dropping MQTT command")
	}
}

func parsePower(payload string) (isOn bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}

// parseColor accepts "#RRGGBB", "RRGGBB" or "r,g,b".
func parseColor(payload string) (r, g, b int, ok bool) {
	payload = strings.TrimSpace(payload)
	if strings.Contains(payload, ",") {
		parts := strings.Split(payload, ",")
		if len(parts) != 3 {
			return 0, 0, 0, false
		}
		var vals [3]int
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || v < 0 || v > 255 {
				return 0, 0, 0, false
			}
			vals[i] = v
		}
		return vals[0], vals[1], vals[2], true
	}

	hex := strings.TrimPrefix(payload, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v>>16&0xFF), int(v>>8&0xFF), int(v&0xFF), true
}

func (c *Client) handlePower(_ mqtt.Client, msg mqtt.Message) {
	isOn, ok := parsePower(string(msg.Payload()))
	if !ok {
		c.logger.Warn().Str("payload", string(msg.Payload())).Msg("Ignoring power payload")
		return
	}
	c.send(core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": isOn}})
}

func (c *Client) handleBrightness(_ mqtt.Client, msg mqtt.Message) {
	val, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload())))
	if err != nil {
		c.logger.Warn().Str("payload", string(msg.Payload())).Msg("Ignoring brightness payload")
		return
	}
	c.send(core.Command{Type: core.CmdSetBrightness, Payload: map[string]interface{}{"value": float64(val)}})
}

func (c *Client) handleColor(_ mqtt.Client, msg mqtt.Message) {
	r, g, b, ok := parseColor(string(msg.Payload()))
	if !ok {
		c.logger.Warn().Str("payload", string(msg.Payload())).Msg("Ignoring color payload")
		return
	}
	c.send(core.Command{Type: core.CmdSetColor, Payload: map[string]interface{}{
		"r": float64(r), "g": float64(g), "b": float64(b),
	}})
}

func (c *Client) handlePatternRun(_ mqtt.Client, msg mqtt.Message) {
	name := strings.TrimSpace(string(msg.Payload()))
	if name == "" {
		return
	}
	c.send(core.Command{Type: core.CmdRunPattern, Payload: map[string]interface{}{"name": name}})
}

func (c *Client) handlePatternStop(_ mqtt.Client, _ mqtt.Message) {
	c.send(core.Command{Type: core.CmdStopPattern})
}
