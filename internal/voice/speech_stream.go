package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/observability"
	"github.com/ent0n29/coolphone/internal/reliability"
)

type StreamState string

const (
	StreamIdle      StreamState = "idle"
	StreamListening StreamState = "listening"
	StreamResult    StreamState = "result"
)

var ErrStreamActive = errors.New("speech stream already started")

type SpeechStreamConfig struct {
	Locale      string
	MaxRestarts int
	// FastRestarts restart immediately before backoff kicks in.
	FastRestarts  int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	InitialUnmute time.Duration
	RestartUnmute time.Duration
}

func (c SpeechStreamConfig) withDefaults() SpeechStreamConfig {
	if strings.TrimSpace(c.Locale) == "" {
		c.Locale = "zh-CN"
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 20
	}
	if c.FastRestarts < 0 {
		c.FastRestarts = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 50 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = time.Second
	}
	if c.InitialUnmute <= 0 {
		c.InitialUnmute = time.Second
	}
	if c.RestartUnmute <= 0 {
		c.RestartUnmute = 500 * time.Millisecond
	}
	return c
}

type ResultHandler func(text string, isFinal bool)
type ErrorHandler func(message string)

// SpeechStream turns the one-shot platform recognizer into a continuous
// listener. Recognition noise (nothing heard, nothing matched, empty final)
// restarts the recognizer silently; real errors reach the error handler.
type SpeechStream struct {
	rec     Recognizer
	cfg     SpeechStreamConfig
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	state  StreamState
	gen    uint64
	cancel context.CancelFunc
}

func NewSpeechStream(rec Recognizer, cfg SpeechStreamConfig, logger zerolog.Logger, metrics *observability.Metrics) *SpeechStream {
	return &SpeechStream{
		rec:     rec,
		cfg:     cfg.withDefaults(),
		logger:  logger.With().Str("component", "speech_stream").Logger(),
		metrics: metrics,
		state:   StreamIdle,
	}
}

func (s *SpeechStream) RequestPermissions(ctx context.Context) (bool, error) {
	return s.rec.RequestPermission(ctx)
}

func (s *SpeechStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins continuous recognition. Callbacks run on the stream's own
// goroutine; events that arrive after Stop are dropped.
func (s *SpeechStream) Start(ctx context.Context, onResult ResultHandler, onError ErrorHandler) error {
	s.mu.Lock()
	if s.state == StreamListening {
		s.mu.Unlock()
		return ErrStreamActive
	}
	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StreamListening
	s.mu.Unlock()

	go s.run(runCtx, gen, onResult, onError)
	return nil
}

// Stop ends recognition on purpose. Late recognizer events are discarded.
// It does not wait for the stream goroutine, so callbacks may call it.
func (s *SpeechStream) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	wasRunning := s.state != StreamIdle
	s.gen++
	s.state = StreamIdle
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasRunning {
		s.rec.Stop()
		s.rec.SetFeedbackMuted(false)
	}
}

func (s *SpeechStream) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state != StreamIdle
}

func (s *SpeechStream) finish(gen uint64, state StreamState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.state = state
	if state == StreamIdle && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

type sessionOutcome int

const (
	outcomeStopped sessionOutcome = iota
	outcomeResult
	outcomeTransient
	outcomeFatal
)

func (s *SpeechStream) run(ctx context.Context, gen uint64, onResult ResultHandler, onError ErrorHandler) {
	restarts := 0
	unmuteAfter := s.cfg.InitialUnmute

	for {
		if ctx.Err() != nil || !s.current(gen) {
			return
		}

		s.rec.SetFeedbackMuted(true)
		events, err := s.rec.Start(ctx, s.cfg.Locale)
		if err != nil {
			s.rec.SetFeedbackMuted(false)
			if ctx.Err() != nil {
				return
			}
			s.fail(gen, fmt.Sprintf("recognizer start: %v", err), onError)
			return
		}
		safety := time.AfterFunc(unmuteAfter, func() { s.rec.SetFeedbackMuted(false) })

		outcome, detail, heard := s.pump(ctx, gen, events, onResult)
		safety.Stop()
		s.rec.SetFeedbackMuted(false)
		if heard {
			restarts = 0
		}

		switch outcome {
		case outcomeStopped:
			return
		case outcomeResult:
			s.finish(gen, StreamResult)
			return
		case outcomeFatal:
			s.fail(gen, detail, onError)
			return
		}

		restarts++
		if restarts > s.cfg.MaxRestarts {
			s.fail(gen, fmt.Sprintf("recognizer kept failing after %d restarts: %s", s.cfg.MaxRestarts, detail), onError)
			return
		}
		s.metrics.RecognizerRestart(detail)
		s.logger.Debug().Str("reason", detail).Int("restart", restarts).Msg("restarting recognizer")

		if restarts > s.cfg.FastRestarts {
			delay := reliability.ExponentialBackoff(restarts-s.cfg.FastRestarts-1, s.cfg.BackoffBase, s.cfg.BackoffCap)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		unmuteAfter = s.cfg.RestartUnmute
	}
}

// pump forwards one recognition session. heard reports whether any
// non-empty text arrived, which resets the restart budget.
func (s *SpeechStream) pump(ctx context.Context, gen uint64, events <-chan RecognizerEvent, onResult ResultHandler) (outcome sessionOutcome, detail string, heard bool) {
	for {
		select {
		case <-ctx.Done():
			return outcomeStopped, "", heard
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil || !s.current(gen) {
					return outcomeStopped, "", heard
				}
				return outcomeFatal, "recognizer session closed unexpectedly", heard
			}
			if !s.current(gen) {
				return outcomeStopped, "", heard
			}
			switch ev.Kind {
			case RecognizerReady:
				s.rec.SetFeedbackMuted(false)
			case RecognizerPartial:
				if strings.TrimSpace(ev.Text) == "" {
					continue
				}
				heard = true
				onResult(ev.Text, false)
			case RecognizerFinal:
				if strings.TrimSpace(ev.Text) == "" {
					return outcomeTransient, "empty_final", heard
				}
				heard = true
				onResult(ev.Text, true)
				return outcomeResult, "", heard
			case RecognizerError:
				if reliability.IsTransientRecognizerError(ev.Code) {
					return outcomeTransient, normalizeRestartReason(ev.Code), heard
				}
				msg := strings.TrimSpace(ev.Message)
				if msg == "" {
					msg = "recognizer error " + ev.Code
				}
				return outcomeFatal, msg, heard
			}
		}
	}
}

func (s *SpeechStream) fail(gen uint64, msg string, onError ErrorHandler) {
	if !s.current(gen) {
		return
	}
	s.finish(gen, StreamIdle)
	s.logger.Warn().Str("error", msg).Msg("speech recognition stopped")
	if onError != nil {
		onError(msg)
	}
}

func normalizeRestartReason(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	switch code {
	case "no match":
		return "no_match"
	case "timeout":
		return "speech_timeout"
	default:
		return code
	}
}
