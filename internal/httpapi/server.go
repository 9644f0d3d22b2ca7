package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/call"
	"github.com/ent0n29/coolphone/internal/config"
	"github.com/ent0n29/coolphone/internal/conversation"
	"github.com/ent0n29/coolphone/internal/minimax"
	"github.com/ent0n29/coolphone/internal/observability"
	"github.com/ent0n29/coolphone/internal/protocol"
	"github.com/ent0n29/coolphone/internal/session"
	"github.com/ent0n29/coolphone/internal/voice"
)

// CallControl is the phone UI state machine.
type CallControl interface {
	Ring(ctx context.Context) error
	Answer(ctx context.Context) (session.State, error)
	Hangup() error
	Decline() error
	Schedule(delay time.Duration) (time.Time, error)
	CancelSchedule() bool
	Scheduled() (time.Time, bool)
}

// Conversation exposes the in-call operations of the orchestrator.
type Conversation interface {
	Resume() error
	SetSpeaker(enabled bool)
	History() []conversation.Message
}

// ShellBridge accepts the phone shell websocket.
type ShellBridge interface {
	Serve(ctx context.Context, ws *websocket.Conn) error
	Connected() bool
}

// Deps are the components the API drives. Shell and Cloner may be nil.
type Deps struct {
	Store        *session.Store
	Calls        CallControl
	Conversation Conversation
	Settings     *call.SettingsStore
	Cloner       minimax.VoiceCloner
	Shell        ShellBridge
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

type Server struct {
	cfg      config.Config
	store    *session.Store
	calls    CallControl
	conv     Conversation
	settings *call.SettingsStore
	cloner   minimax.VoiceCloner
	shell    ShellBridge
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		calls:    deps.Calls,
		conv:     deps.Conversation,
		settings: deps.Settings,
		cloner:   deps.Cloner,
		shell:    deps.Shell,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// The phone shell and CLI clients send no Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handleResetPerfLatency)

	r.Get("/v1/scenarios", s.handleListScenarios)
	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings", s.handlePutSettings)

	r.Route("/v1/call", func(r chi.Router) {
		r.Get("/", s.handleGetCall)
		r.Post("/schedule", s.handleSchedule)
		r.Delete("/schedule", s.handleCancelSchedule)
		r.Post("/ring", s.handleRing)
		r.Post("/answer", s.handleAnswer)
		r.Post("/decline", s.handleDecline)
		r.Post("/hangup", s.handleHangup)
		r.Post("/resume", s.handleResume)
		r.Post("/speaker", s.handleSpeaker)
		r.Get("/events", s.handleCallEvents)
	})

	r.Post("/v1/voices/clone", s.handleCloneVoice)
	r.Get("/v1/shell/ws", s.handleShellWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"service_mode":       s.cfg.ServiceMode,
		"minimax_enabled":    s.cfg.UseMiniMax(),
		"audio_backend":      s.cfg.AudioBackend,
		"recognizer_backend": s.cfg.RecognizerBackend,
	})
}

// The daemon is ready once every shell-backed component has a shell.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	needsShell := strings.EqualFold(s.cfg.AudioBackend, "shell") || strings.EqualFold(s.cfg.RecognizerBackend, "shell")
	connected := s.shell != nil && s.shell.Connected()
	if needsShell && !connected {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":          "waiting_for_shell",
			"shell_connected": false,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"shell_connected": connected,
	})
}

func (s *Server) handleShellWS(w http.ResponseWriter, r *http.Request) {
	if s.shell == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "shell bridge not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if err := s.shell.Serve(r.Context(), conn); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Msg("shell connection closed")
	}
}

// handleCallEvents streams session snapshots until the client goes away.
func (s *Server) handleCallEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := s.store.Subscribe(32)
	defer unsubscribe()
	s.metrics.CallEvent("observer_connected")

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case st, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(protocol.CallState{Type: protocol.TypeCallState, State: st}); err != nil {
				return
			}
			s.metrics.WSMessage("outbound", string(protocol.TypeCallState))
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		// A truncated document reports io.ErrUnexpectedEOF and stays an error.
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondCallError maps domain errors onto status codes.
func respondCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, call.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, voice.ErrTurnInProgress):
		respondError(w, http.StatusConflict, "turn_in_progress", err.Error())
	case errors.Is(err, voice.ErrInvalidCall):
		respondError(w, http.StatusBadRequest, "invalid_call", err.Error())
	case errors.Is(err, voice.ErrCallInactive):
		respondError(w, http.StatusConflict, "call_inactive", err.Error())
	case errors.Is(err, minimax.ErrCloneForbidden):
		respondError(w, http.StatusForbidden, "clone_forbidden", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
