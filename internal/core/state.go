package core

import "sync"

// State holds the single source of truth for the strip as seen by clients.
type State struct {
	mu             sync.RWMutex
	Networking     bool
	BLEConnected   bool
	RSSI           int16
	Power          bool
	ColorR         int
	ColorG         int
	ColorB         int
	Brightness     int
	RunningPattern string
}

// NewState creates a new State instance.
func NewState() *State {
	return &State{}
}

// Snapshot is the lock-free copy of State handed to readers.
type Snapshot struct {
	Networking     bool   `json:"networking"`
	BLEConnected   bool   `json:"ble_connected"`
	RSSI           int16  `json:"rssi"`
	Power          bool   `json:"power"`
	ColorR         int    `json:"r"`
	ColorG         int    `json:"g"`
	ColorB         int    `json:"b"`
	Brightness     int    `json:"brightness"`
	RunningPattern string `json:"running_pattern"`
}

// Clone returns a snapshot of the current state for safe reading.
func (s *State) Clone() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Networking:     s.Networking,
		BLEConnected:   s.BLEConnected,
		RSSI:           s.RSSI,
		Power:          s.Power,
		ColorR:         s.ColorR,
		ColorG:         s.ColorG,
		ColorB:         s.ColorB,
		Brightness:     s.Brightness,
		RunningPattern: s.RunningPattern,
	}
}

// SetNetworking records whether network services were allowed to start.
func (s *State) SetNetworking(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Networking = enabled
}

// SetConnection updates the BLE strip connection state.
func (s *State) SetConnection(connected bool, rssi int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BLEConnected = connected
	s.RSSI = rssi
}

// SetPower updates the power state.
func (s *State) SetPower(power bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Power = power
}

// SetColor updates the RGB color state.
func (s *State) SetColor(r, g, b int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ColorR = r
	s.ColorG = g
	s.ColorB = b
}

// SetBrightness updates the brightness state.
func (s *State) SetBrightness(brightness int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Brightness = brightness
}

// SetRunningPattern updates the running pattern state.
func (s *State) SetRunningPattern(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunningPattern = pattern
}
