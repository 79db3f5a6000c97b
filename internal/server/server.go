package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"timelapse-box/internal/config"
	"timelapse-box/internal/core"
	"timelapse-box/internal/scheduler"
)

// PatternLister lists the pattern files available to run.
type PatternLister interface {
	GetPatternList() ([]string, error)
}

// Options wires the server to the rest of the agent.
type Options struct {
	Port           string
	StaticFilesDir string
	AllowedOrigins []string

	Device    config.DeviceConfiguration
	Commands  core.CommandChannel
	EventBus  *core.EventBus
	State     *core.State
	Patterns  PatternLister
	Schedules func() map[cron.EntryID]scheduler.ScheduleEntry
}

// ConfigReport is the body of GET /api/config.
type ConfigReport struct {
	Device config.DeviceConfiguration `json:"device"`
	Valid  bool                       `json:"valid"`
	Field  string                     `json:"field,omitempty"`
	Error  string                     `json:"error,omitempty"`
}

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub        *Hub
	opts       Options
	report     ConfigReport
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewServer creates a new server instance. Call Start before serving.
func NewServer(opts Options) *Server {
	s := &Server{
		Hub:    NewHub(),
		opts:   opts,
		report: newConfigReport(opts.Device),
		logger: log.With().Str("component", "server").Logger(),
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.opts.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.opts.AllowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			s.logger.Warn().Str("origin", origin).Msg("WebSocket connection blocked: origin not in allowed list")
			return false
		},
	}
	if len(opts.AllowedOrigins) == 0 {
		s.logger.Warn().Msg("WebSocket CheckOrigin is disabled")
	}

	s.httpServer = &http.Server{Addr: ":" + opts.Port, Handler: s.Handler()}
	return s
}

func newConfigReport(d config.DeviceConfiguration) ConfigReport {
	report := ConfigReport{Device: d.Redacted(), Valid: true}
	if err := d.Validate(); err != nil {
		report.Valid = false
		report.Error = err.Error()
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			report.Field = cfgErr.Field
		}
	}
	return report
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.opts.StaticFilesDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticFilesDir)))
	}
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start runs the hub and forwards bus events to WebSocket clients until ctx ends.
func (s *Server) Start(ctx context.Context) {
	go s.Hub.Run(ctx)
	if s.opts.EventBus != nil {
		types := make([]core.EventType, 0, len(eventMessages))
		for t := range eventMessages {
			types = append(types, t)
		}
		sub := s.opts.EventBus.Subscribe(types...)
		go s.forwardEvents(ctx, sub, types)
	}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

var eventMessages = map[core.EventType]string{
	core.StateChangedEvent:    MsgState,
	core.PatternChangedEvent:  MsgPatternStatus,
	core.PatternListEvent:     MsgPatternList,
	core.PatternCodeEvent:     MsgPatternCode,
	core.ScheduleChangedEvent: MsgScheduleList,
}

func (s *Server) forwardEvents(ctx context.Context, sub core.Subscriber, types []core.EventType) {
	defer s.opts.EventBus.Unsubscribe(sub, types...)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			s.Hub.Broadcast(NewMessage(eventMessages[event.Type], event.Payload))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.report)
}

func (s *Server) snapshot() core.Snapshot {
	if s.opts.State == nil {
		return core.Snapshot{}
	}
	return s.opts.State.Clone()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	_ = conn.WriteJSON(NewMessage(MsgState, s.snapshot()))
	if s.opts.Patterns != nil {
		if patterns, err := s.opts.Patterns.GetPatternList(); err == nil {
			_ = conn.WriteJSON(NewMessage(MsgPatternList, patterns))
		}
	}
	if s.opts.Schedules != nil {
		_ = conn.WriteJSON(NewMessage(MsgScheduleList, s.opts.Schedules()))
	}

	if !s.Hub.Register(conn) {
		conn.Close()
		return
	}
	defer s.Hub.Unregister(conn)

	for {
		var cmd core.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				s.logger.Warn().Err(err).Msg("Ignoring malformed command")
				continue
			}
			return
		}
		if cmd.Type == "" {
			continue
		}
		select {
		case s.opts.Commands <- cmd:
		case <-r.Context().Done():
			return
		}
	}
}
