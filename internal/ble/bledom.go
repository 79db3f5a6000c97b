// Package ble drives BLEDOM strips over Bluetooth LE. It implements
// led.Driver so the strip controller can render to it like any other output.
package ble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"tinygo.org/x/bluetooth"

	"timelapse-box/internal/config"
	"timelapse-box/internal/led"
)

var (
	adapter = bluetooth.DefaultAdapter

	defaultServiceUUIDStr        = "0000fff0-0000-1000-8000-00805f9b34fb"
	defaultCharacteristicUUIDStr = "0000fff3-0000-1000-8000-00805f9b34fb"

	errNoService        = errors.New("BLEDOM service not found")
	errNoCharacteristic = errors.New("BLEDOM write characteristic not found")
)

// Options carries the connection tuning from config.BLEConfig.
type Options struct {
	DeviceNames       []string
	ScanTimeout       time.Duration
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration
	RateLimit         float64
	RateBurst         int
	Order             config.ColorOrder
}

// OptionsFromConfig maps the BLE block of the agent config.
func OptionsFromConfig(cfg config.BLEConfig, order config.ColorOrder) Options {
	return Options{
		DeviceNames:       cfg.DeviceNames,
		ScanTimeout:       cfg.ScanTimeout,
		ConnectTimeout:    cfg.ConnectTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		RetryDelay:        cfg.RetryDelay,
		RateLimit:         cfg.RateLimit,
		RateBurst:         cfg.RateBurst,
		Order:             order,
	}
}

// State is what was last sent to the strip.
type State struct {
	IsOn       bool
	Color      led.Color
	Brightness int
	Sent       bool
}

// Controller manages the BLE connection and commands.
type Controller struct {
	charMu         sync.RWMutex
	characteristic bluetooth.DeviceCharacteristic
	heartbeatChar  bluetooth.DeviceCharacteristic

	// disconnectChan is buffered (1) so writers never block on it.
	disconnectChan chan struct{}
	commandChan    chan []byte

	stateMu sync.Mutex
	state   State

	opts                  Options
	bleServiceUUID        bluetooth.UUID
	bleCharacteristicUUID bluetooth.UUID
	bleCommandLimiter     *rate.Limiter
}

func newController(opts Options) *Controller {
	serviceUUID, _ := bluetooth.ParseUUID(defaultServiceUUIDStr)
	characteristicUUID, _ := bluetooth.ParseUUID(defaultCharacteristicUUIDStr)

	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	return &Controller{
		opts:                  opts,
		bleServiceUUID:        serviceUUID,
		bleCharacteristicUUID: characteristicUUID,
		commandChan:           make(chan []byte, opts.RateBurst*2),
		disconnectChan:        make(chan struct{}, 1),
		bleCommandLimiter:     rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
	}
}

// NewController creates a BLE controller and starts its command writer.
func NewController(ctx context.Context, opts Options) *Controller {
	c := newController(opts)
	go c.commandWriterLoop(ctx)
	return c
}

// Write queues a raw command, dropping it when the queue is full.
func (c *Controller) Write(payload []byte) {
	select {
	case c.commandChan <- payload:
	default:
		log.Warn().Str("component", "ble").Hex("payload", payload).Msg("BLE command queue full, dropping command")
	}
}

// Render sends only the parts of the frame that changed since the last call.
// The strip has a single color, so the frame is averaged.
func (c *Controller) Render(f led.Frame) error {
	isOn := f.Brightness > 0
	color := f.Average()
	percent := int(f.Brightness) * 100 / 255

	c.stateMu.Lock()
	prev := c.state
	c.state = State{IsOn: isOn, Color: color, Brightness: percent, Sent: true}
	c.stateMu.Unlock()

	if !prev.Sent || prev.IsOn != isOn {
		c.SetPower(isOn)
	}
	if !isOn {
		return nil
	}
	if !prev.Sent || prev.Color != color {
		c.SetColor(color.R, color.G, color.B)
	}
	if !prev.Sent || prev.Brightness != percent {
		c.SetBrightness(percent)
	}
	return nil
}

// GetState returns what was last sent to the strip.
func (c *Controller) GetState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// resend forces the next Render to send everything, used after a reconnect.
func (c *Controller) resend() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Sent = false
}

func (c *Controller) writeChar() bluetooth.DeviceCharacteristic {
	c.charMu.RLock()
	defer c.charMu.RUnlock()
	return c.characteristic
}

func (c *Controller) setChars(write, heartbeat bluetooth.DeviceCharacteristic) {
	c.charMu.Lock()
	defer c.charMu.Unlock()
	c.characteristic = write
	c.heartbeatChar = heartbeat
}

// commandWriterLoop processes commands and writes to BLE.
func (c *Controller) commandWriterLoop(ctx context.Context) {
	log.Debug().Str("component", "ble").Msg("BLE command writer loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-c.commandChan:
			if err := c.bleCommandLimiter.Wait(ctx); err != nil {
				return
			}

			char := c.writeChar()
			if char.UUID() == (bluetooth.UUID{}) {
				// not connected yet
				continue
			}

			if _, err := char.WriteWithoutResponse(payload); err != nil {
				log.Error().Str("component", "ble").Err(err).Msg("Failed to write to BLEDOM (assuming disconnected)")
				c.signalDisconnect()
			}
		}
	}
}

// signalDisconnect safely sends a disconnect signal.
func (c *Controller) signalDisconnect() {
	select {
	case c.disconnectChan <- struct{}{}:
	default:
	}
}

func contains(s []string, str string) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// Run scans, connects and keeps the strip connected until ctx is done.
func (c *Controller) Run(ctx context.Context, onStatusChange func(connected bool, rssi int16)) {
	logger := log.With().Str("component", "ble").Logger()
	onStatusChange(false, 0)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("BLE controller shutting down")
			return
		default:
		}

		if err := adapter.Enable(); err != nil {
			logger.Error().Err(err).Msg("Failed to enable adapter")
			if !sleepCtx(ctx, c.opts.RetryDelay) {
				return
			}
			continue
		}

		select {
		case <-c.disconnectChan:
		default:
		}
		c.setChars(bluetooth.DeviceCharacteristic{}, bluetooth.DeviceCharacteristic{})

		logger.Info().Msg("Scanning for BLEDOM device...")
		adapter.StopScan()

		ch := make(chan bluetooth.ScanResult, 1)
		go func() {
			err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
				if contains(c.opts.DeviceNames, result.LocalName()) {
					adapter.StopScan()
					select {
					case ch <- result:
					default:
					}
				}
			})
			if err != nil {
				logger.Error().Err(err).Msg("Scan error")
			}
		}()

		var found bluetooth.ScanResult
		scanCtx, cancelScan := context.WithTimeout(ctx, c.opts.ScanTimeout)
		select {
		case found = <-ch:
			logger.Info().Str("name", found.LocalName()).Int16("rssi", found.RSSI).Msg("Found device")
			cancelScan()
		case <-scanCtx.Done():
			adapter.StopScan()
			cancelScan()
			logger.Warn().Msg("Scan timed out or interrupted. Retrying...")
			if !sleepCtx(ctx, c.opts.RetryDelay) {
				return
			}
			continue
		}

		var device bluetooth.Device
		connectErrChan := make(chan error, 1)
		logger.Info().Str("address", found.Address.String()).Msg("Connecting")
		go func() {
			d, err := adapter.Connect(found.Address, bluetooth.ConnectionParams{})
			if err == nil {
				device = d
			}
			connectErrChan <- err
		}()

		select {
		case err := <-connectErrChan:
			if err != nil {
				logger.Error().Err(err).Msg("Failed to connect")
				onStatusChange(false, 0)
				if !sleepCtx(ctx, c.opts.RetryDelay) {
					return
				}
				continue
			}
		case <-time.After(c.opts.ConnectTimeout):
			logger.Warn().Msg("Connection attempt timed out (BlueZ stuck?). Retrying...")
			adapter.StopScan()
			if !sleepCtx(ctx, c.opts.RetryDelay) {
				return
			}
			continue
		case <-ctx.Done():
			return
		}

		onStatusChange(true, found.RSSI)

		discoverErrChan := make(chan error, 1)
		go func() {
			discoverErrChan <- c.discover(device)
		}()

		select {
		case err := <-discoverErrChan:
			if err != nil {
				logger.Error().Err(err).Msg("Service discovery failed")
				device.Disconnect()
				onStatusChange(false, 0)
				continue
			}
		case <-time.After(c.opts.ConnectTimeout):
			logger.Warn().Msg("Service discovery timed out. Disconnecting...")
			device.Disconnect()
			onStatusChange(false, 0)
			if !sleepCtx(ctx, c.opts.RetryDelay) {
				return
			}
			continue
		case <-ctx.Done():
			device.Disconnect()
			return
		}

		logger.Info().Msg("BLEDOM device is ready")
		c.SetRgbOrder(c.opts.Order)
		c.SyncTime()
		c.resend()

		if !c.heartbeat(ctx, logger) {
			device.Disconnect()
			return
		}

		onStatusChange(false, 0)
		c.setChars(bluetooth.DeviceCharacteristic{}, bluetooth.DeviceCharacteristic{})
		if err := device.Disconnect(); err != nil {
			logger.Warn().Err(err).Msg("Disconnect warning")
		}
		if !sleepCtx(ctx, c.opts.RetryDelay) {
			return
		}
	}
}

func (c *Controller) discover(device bluetooth.Device) error {
	services, err := device.DiscoverServices([]bluetooth.UUID{c.bleServiceUUID})
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return errNoService
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{c.bleCharacteristicUUID})
	if err != nil {
		return err
	}
	if len(chars) == 0 {
		return errNoCharacteristic
	}

	// The device name characteristic doubles as a heartbeat; optional.
	var heartbeat bluetooth.DeviceCharacteristic
	genericAccessUUID, _ := bluetooth.ParseUUID("00001800-0000-1000-8000-00805f9b34fb")
	deviceNameUUID, _ := bluetooth.ParseUUID("00002a00-0000-1000-8000-00805f9b34fb")
	gaServices, _ := device.DiscoverServices([]bluetooth.UUID{genericAccessUUID})
	if len(gaServices) > 0 {
		gaChars, _ := gaServices[0].DiscoverCharacteristics([]bluetooth.UUID{deviceNameUUID})
		if len(gaChars) > 0 {
			heartbeat = gaChars[0]
		}
	}

	c.setChars(chars[0], heartbeat)
	return nil
}

// heartbeat blocks while the link is healthy. It returns false on shutdown.
func (c *Controller) heartbeat(ctx context.Context, logger zerolog.Logger) bool {
	interval := c.opts.HeartbeatInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	buf := make([]byte, 20)

	for {
		select {
		case <-ticker.C:
			c.charMu.RLock()
			hb := c.heartbeatChar
			c.charMu.RUnlock()
			if hb.UUID() != (bluetooth.UUID{}) {
				if _, err := hb.Read(buf); err != nil {
					logger.Warn().Err(err).Msg("Heartbeat failed")
					c.signalDisconnect()
				}
			}
		case <-c.disconnectChan:
			logger.Info().Msg("Disconnection signal received. Resetting connection...")
			return true
		case <-ctx.Done():
			logger.Info().Msg("Disconnecting due to shutdown...")
			return false
		}
	}
}
