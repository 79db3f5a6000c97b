package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"timelapse-box/internal/core"
)

// ScheduleEntry defines the structure for a saved schedule.
type ScheduleEntry struct {
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

// Scheduler turns cron entries into agent commands.
type Scheduler struct {
	cron           *cron.Cron
	store          map[cron.EntryID]ScheduleEntry
	commandChannel core.CommandChannel
	mu             sync.RWMutex
	schedulesFile  string
	logger         zerolog.Logger
}

// NewScheduler creates a scheduler and loads saved entries.
func NewScheduler(cmdChan core.CommandChannel, schedulesFile string) *Scheduler {
	s := &Scheduler{
		cron:           cron.New(),
		store:          make(map[cron.EntryID]ScheduleEntry),
		commandChannel: cmdChan,
		schedulesFile:  schedulesFile,
		logger:         log.With().Str("component", "scheduler").Logger(),
	}
	s.load()
	return s
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("entries", len(s.GetAll())).Msg("Cron scheduler started")
}

// Stop halts the cron job ticker.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Cron scheduler stopped")
}

// ParseCommand maps a schedule command line onto an agent command:
//
//	power on|off
//	pattern <name.lua>
//	stop
//	brightness <0-255>
func ParseCommand(command string) (core.Command, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return core.Command{}, fmt.Errorf("empty command")
	}
	switch parts[0] {
	case "power":
		if len(parts) != 2 || (parts[1] != "on" && parts[1] != "off") {
			return core.Command{}, fmt.Errorf("usage: power on|off")
		}
		return core.Command{Type: core.CmdSetPower, Payload: map[string]interface{}{"isOn": parts[1] == "on"}}, nil
	case "pattern":
		if len(parts) != 2 {
			return core.Command{}, fmt.Errorf("usage: pattern <name>")
		}
		return core.Command{Type: core.CmdRunPattern, Payload: map[string]interface{}{"name": parts[1]}}, nil
	case "stop":
		return core.Command{Type: core.CmdStopPattern}, nil
	case "brightness":
		if len(parts) != 2 {
			return core.Command{}, fmt.Errorf("usage: brightness <0-255>")
		}
		v, err := strconv.Atoi(parts[1])
		if err != nil || v < 0 || v > 255 {
			return core.Command{}, fmt.Errorf("brightness must be 0-255, got '%s'", parts[1])
		}
		return core.Command{Type: core.CmdSetBrightness, Payload: map[string]interface{}{"value": float64(v)}}, nil
	}
	return core.Command{}, fmt.Errorf("unknown schedule command '%s'", parts[0])
}

// Add creates a new cron job and persists it.
func (s *Scheduler) Add(spec, command string) (int, error) {
	if _, err := ParseCommand(command); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.execute(command) })
	if err != nil {
		return 0, fmt.Errorf("invalid cron spec '%s': %w", spec, err)
	}
	s.store[id] = ScheduleEntry{Spec: spec, Command: command}
	s.save()
	s.logger.Info().Int("id", int(id)).Str("spec", spec).Str("command", command).Msg("Added schedule")
	return int(id), nil
}

// Remove deletes a cron job.
func (s *Scheduler) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := cron.EntryID(id)
	s.cron.Remove(entryID)
	delete(s.store, entryID)
	s.save()
	s.logger.Info().Int("id", id).Msg("Removed schedule")
}

// GetAll returns a copy of the current schedules in a thread-safe way.
func (s *Scheduler) GetAll() map[cron.EntryID]ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	newMap := make(map[cron.EntryID]ScheduleEntry, len(s.store))
	for k, v := range s.store {
		newMap[k] = v
	}
	return newMap
}

func (s *Scheduler) execute(command string) {
	cmd, err := ParseCommand(command)
	if err != nil {
		s.logger.Error().Err(err).Str("command", command).Msg("Skipping scheduled command")
		return
	}
	s.logger.Info().Str("command", command).Msg("Executing scheduled command")
	s.commandChannel <- cmd
}

func (s *Scheduler) save() {
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("Error marshalling schedules")
		return
	}
	if err := os.WriteFile(s.schedulesFile, data, 0644); err != nil {
		s.logger.Error().Err(err).Str("file", s.schedulesFile).Msg("Error writing schedules")
	}
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.schedulesFile)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error().Err(err).Msg("Error reading schedule file")
		}
		return
	}

	tempStore := make(map[cron.EntryID]ScheduleEntry)
	if err := json.Unmarshal(data, &tempStore); err != nil {
		s.logger.Error().Err(err).Msg("Error unmarshalling schedule file")
		return
	}

	s.logger.Info().Int("count", len(tempStore)).Str("file", s.schedulesFile).Msg("Loading schedules")
	for _, entry := range tempStore {
		jobEntry := entry
		newID, err := s.cron.AddFunc(jobEntry.Spec, func() { s.execute(jobEntry.Command) })
		if err != nil {
			s.logger.Error().Err(err).Str("spec", jobEntry.Spec).Msg("Error re-adding schedule from file")
			continue
		}
		s.store[newID] = jobEntry
	}
}
