// Package minimax talks to the MiniMax chat completion, text-to-speech and
// voice cloning APIs that play the remote caller.
package minimax

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/conversation"
	"github.com/ent0n29/coolphone/internal/observability"
)

// Reply is one spoken answer of the remote partner.
type Reply struct {
	Text    string
	Audio   []byte
	VoiceID string
}

// Service produces the partner's next line from the conversation so far.
// The new user text is sent after history and is not part of it.
type Service interface {
	Converse(ctx context.Context, history []conversation.Message, text, voiceID string) (Reply, error)
}

// VoiceCloner registers a user supplied voice sample as a synthesis voice.
type VoiceCloner interface {
	CreateVoice(ctx context.Context, filename string, sample []byte) (string, error)
}

var (
	ErrCloneForbidden = errors.New("voice cloning is not permitted for this account")
	ErrEmptyReply     = errors.New("chat completion returned no reply")
)

// ServiceError is a failed call to a MiniMax endpoint.
type ServiceError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
	retryable  bool
}

func (e *ServiceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != 0:
		return fmt.Sprintf("minimax %s: http %d: status %d: %s", e.Op, e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("minimax %s: http %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("minimax %s: status %d: %s", e.Op, e.Code, e.Message)
	}
}

// Retryable reports whether repeating the request may succeed.
func (e *ServiceError) Retryable() bool { return e.retryable }

// Config controls service construction.
type Config struct {
	Mode         string
	APIKey       string
	GroupID      string
	BaseURL      string
	ChatModel    string
	TTSModel     string
	DefaultVoice string
	Temperature  float64
	MaxTokens    int
	TopP         float64
	HTTPTimeout  time.Duration
}

// Backend is everything the daemon needs from the remote service.
type Backend interface {
	Service
	VoiceCloner
}

// NewBackend picks the live client or the offline mock.
func NewBackend(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) (Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	hasCreds := strings.TrimSpace(cfg.APIKey) != "" && strings.TrimSpace(cfg.GroupID) != ""

	switch mode {
	case "minimax":
		if !hasCreds {
			return nil, errors.New("minimax mode requires an API key and group id")
		}
		return NewClient(cfg, logger, metrics), nil
	case "auto":
		if hasCreds {
			return NewClient(cfg, logger, metrics), nil
		}
		return NewMockClient(), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported service mode %q", cfg.Mode)
	}
}
