// Package agent wires the strip, the pattern engine and the network surfaces
// together and runs the central command loop.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"timelapse-box/internal/ble"
	"timelapse-box/internal/config"
	"timelapse-box/internal/core"
	"timelapse-box/internal/led"
	"timelapse-box/internal/lua"
	"timelapse-box/internal/mqtt"
	"timelapse-box/internal/scheduler"
	"timelapse-box/internal/server"
)

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup
	logger zerolog.Logger

	state          *core.State
	eventBus       *core.EventBus
	commandChannel core.CommandChannel

	driver        led.Driver
	strip         *led.Controller
	bleController *ble.Controller
	luaEngine     *lua.Engine
	scheduler     *scheduler.Scheduler

	// nil when networking is disabled
	server     *server.Server
	mqttClient *mqtt.Client
}

// checkDevice applies the start-up policy: a bad hostname or password keeps
// the network off, any other invalid field is returned. The strip fields are
// still checked when the credentials are the first failure.
func checkDevice(d config.DeviceConfiguration) (networking bool, err error) {
	err = d.Validate()
	if err == nil {
		return true, nil
	}
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) || !cfgErr.NetworkField() {
		return false, err
	}
	d.Hostname = config.DefaultHostname
	d.Password = config.DefaultPassword
	if stripErr := d.Validate(); stripErr != nil {
		return false, stripErr
	}
	return false, nil
}

// NewAgent validates the device configuration and builds every component.
// It returns an error for any device field the strip cannot run with.
func NewAgent(cfg *config.Config) (*Agent, error) {
	logger := log.With().Str("component", "agent").Logger()

	networking, err := checkDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	if !networking {
		logger.Error().Err(cfg.Device.Validate()).Msg("Refusing to start network services")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		ctx:            ctx,
		cancel:         cancel,
		config:         cfg,
		logger:         logger,
		state:          core.NewState(),
		eventBus:       core.NewEventBus(),
		commandChannel: make(core.CommandChannel, 20),
	}
	a.state.SetNetworking(networking)

	if cfg.Device.LEDType == config.LEDTypeBLEDOM {
		a.bleController = ble.NewController(ctx, ble.OptionsFromConfig(cfg.BLE, cfg.Device.ColorOrder))
		a.driver = a.bleController
	} else {
		a.driver = led.NewMemoryDriver()
	}
	a.strip = led.NewController(cfg.Device, a.driver)

	a.luaEngine = lua.NewEngine(a.strip, cfg.PatternsDir, a.eventBus)
	a.scheduler = scheduler.NewScheduler(a.commandChannel, cfg.SchedulesFile)

	if networking {
		a.server = server.NewServer(server.Options{
			Port:           cfg.Server.Port,
			StaticFilesDir: cfg.Server.WebFilesDir,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Device:         cfg.Device,
			Commands:       a.commandChannel,
			EventBus:       a.eventBus,
			State:          a.state,
			Patterns:       a.luaEngine,
			Schedules:      a.scheduler.GetAll,
		})
		a.mqttClient = mqtt.NewClient(cfg.MQTT, cfg.Device, a.eventBus, a.state, a.commandChannel, a.luaEngine.GetPatternList)
	}

	a.syncFromStrip()
	return a, nil
}

// Networking reports whether the HTTP and MQTT surfaces were allowed to start.
func (a *Agent) Networking() bool {
	return a.server != nil
}

// Run starts every component and blocks in the command loop until Shutdown.
func (a *Agent) Run() {
	listening := make(chan struct{})
	go a.listenEvents(listening)
	<-listening

	if a.bleController != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.bleController.Run(a.ctx, a.onConnectionChange)
		}()
	}

	a.scheduler.Start()

	if a.server != nil {
		a.server.Start(a.ctx)
		go func() {
			if err := a.server.ListenAndServe(); err != nil {
				a.logger.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	if a.mqttClient != nil {
		go a.mqttClient.Run(a.ctx)
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				a.logger.Error().Err(err).Msg("MQTT setup error")
			}
		}()
	}

	a.show()
	a.publishState()
	if name := a.config.StartupPattern; name != "" {
		if err := a.luaEngine.RunPattern(name); err != nil {
			a.logger.Error().Err(err).Str("pattern", name).Msg("Startup pattern not started")
		}
	}

	a.logger.Info().
		Bool("networking", a.Networking()).
		Str("led_type", string(a.config.Device.LEDType)).
		Int("num_leds", a.config.Device.NumLEDs).
		Msg("Agent orchestrator ready")

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info().Msg("Agent orchestrator shutting down")
			return
		case cmd := <-a.commandChannel:
			a.handleCommand(cmd)
		}
	}
}

func (a *Agent) onConnectionChange(connected bool, rssi int16) {
	a.eventBus.Publish(core.Event{
		Type:    core.DeviceConnectedEvent,
		Payload: map[string]interface{}{"connected": connected, "rssi": rssi},
	})
}

func (a *Agent) listenEvents(ready chan<- struct{}) {
	sub := a.eventBus.Subscribe(core.DeviceConnectedEvent, core.PatternChangedEvent)
	defer a.eventBus.Unsubscribe(sub, core.DeviceConnectedEvent, core.PatternChangedEvent)
	close(ready)

	for {
		select {
		case <-a.ctx.Done():
			return
		case event := <-sub:
			payload, ok := event.Payload.(map[string]interface{})
			if !ok {
				continue
			}
			switch event.Type {
			case core.DeviceConnectedEvent:
				connected, _ := payload["connected"].(bool)
				rssi, _ := payload["rssi"].(int16)
				a.state.SetConnection(connected, rssi)
				if connected {
					// the driver forgot what it sent; push the current frame again
					a.show()
				}
				a.publishState()
			case core.PatternChangedEvent:
				pattern, _ := payload["running"].(string)
				a.state.SetRunningPattern(pattern)
				if pattern == "" {
					a.syncFromStrip()
				}
				a.publishState()
			}
		}
	}
}

// syncFromStrip copies what the strip is actually showing into the shared state.
func (a *Agent) syncFromStrip() {
	st := a.strip.State()
	avg := led.Frame{Pixels: st.Pixels}.Average()
	a.state.SetPower(st.Power)
	a.state.SetBrightness(int(st.Brightness))
	a.state.SetColor(int(avg.R), int(avg.G), int(avg.B))
}

func (a *Agent) publishState() {
	a.eventBus.Publish(core.Event{Type: core.StateChangedEvent, Payload: a.state.Clone()})
}

func (a *Agent) show() {
	if err := a.strip.Show(a.ctx); err != nil && a.ctx.Err() == nil {
		a.logger.Error().Err(err).Msg("Error rendering frame")
	}
}

// Shutdown stops every component and waits for background loops.
func (a *Agent) Shutdown() {
	a.scheduler.Stop()
	a.luaEngine.StopCurrentPattern()
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("HTTP shutdown error")
		}
		cancel()
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	a.cancel()
	a.wg.Wait()
}
