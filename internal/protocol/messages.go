package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/coolphone/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Shell to core.
const (
	TypeShellHello       MessageType = "shell_hello"
	TypeRecognizerEvent  MessageType = "recognizer_event"
	TypePermissionResult MessageType = "permission_result"
	TypePlaybackDone     MessageType = "playback_done"
)

// Core to shell.
const (
	TypeRecognizerStart   MessageType = "recognizer_start"
	TypeRecognizerStop    MessageType = "recognizer_stop"
	TypePermissionRequest MessageType = "permission_request"
	TypeFeedbackMute      MessageType = "feedback_mute"
	TypePlayAudio         MessageType = "play_audio"
	TypeStopAudio         MessageType = "stop_audio"
	TypePlayRingtone      MessageType = "play_ringtone"
	TypeStopRingtone      MessageType = "stop_ringtone"
	TypePlayFiller        MessageType = "play_filler"
	TypeSpeakerRoute      MessageType = "speaker_route"
)

// Core to call observers.
const (
	TypeCallState  MessageType = "call_state"
	TypeErrorEvent MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ShellHello struct {
	Type     MessageType `json:"type"`
	Device   string      `json:"device"`
	Platform string      `json:"platform"`
}

// RecognizerEvent carries one platform recognizer callback. Kind is one of
// ready, partial, final or error.
type RecognizerEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
	Text      string      `json:"text,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

type PermissionResult struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Granted   bool        `json:"granted"`
}

type PlaybackDone struct {
	Type       MessageType `json:"type"`
	PlaybackID string      `json:"playback_id"`
	Error      string      `json:"error,omitempty"`
}

type RecognizerStart struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Locale    string      `json:"locale"`
}

type RecognizerStop struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

type PermissionRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

type FeedbackMute struct {
	Type  MessageType `json:"type"`
	Muted bool        `json:"muted"`
}

type PlayAudio struct {
	Type        MessageType `json:"type"`
	PlaybackID  string      `json:"playback_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type StopAudio struct {
	Type MessageType `json:"type"`
}

type PlayRingtone struct {
	Type        MessageType `json:"type"`
	Ringtone    string      `json:"ringtone"`
	AudioBase64 string      `json:"audio_base64"`
}

type StopRingtone struct {
	Type MessageType `json:"type"`
}

type PlayFiller struct {
	Type        MessageType `json:"type"`
	AudioBase64 string      `json:"audio_base64"`
}

type SpeakerRoute struct {
	Type    MessageType `json:"type"`
	Speaker bool        `json:"speaker"`
}

type CallState struct {
	Type  MessageType   `json:"type"`
	State session.State `json:"state"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

var recognizerKinds = map[string]bool{"ready": true, "partial": true, "final": true, "error": true}

// ParseShellMessage decodes and validates a message sent by the phone shell.
func ParseShellMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeShellHello:
		var msg ShellHello
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeRecognizerEvent:
		var msg RecognizerEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Kind = strings.ToLower(strings.TrimSpace(msg.Kind))
		if msg.SessionID == "" || !recognizerKinds[msg.Kind] {
			return nil, errors.New("invalid recognizer_event")
		}
		return msg, nil
	case TypePermissionResult:
		var msg PermissionResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" {
			return nil, errors.New("invalid permission_result")
		}
		return msg, nil
	case TypePlaybackDone:
		var msg PlaybackDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PlaybackID == "" {
			return nil, errors.New("invalid playback_done")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the type tag of any message in this package.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ShellHello:
		return m.Type, true
	case RecognizerEvent:
		return m.Type, true
	case PermissionResult:
		return m.Type, true
	case PlaybackDone:
		return m.Type, true
	case RecognizerStart:
		return m.Type, true
	case RecognizerStop:
		return m.Type, true
	case PermissionRequest:
		return m.Type, true
	case FeedbackMute:
		return m.Type, true
	case PlayAudio:
		return m.Type, true
	case StopAudio:
		return m.Type, true
	case PlayRingtone:
		return m.Type, true
	case StopRingtone:
		return m.Type, true
	case PlayFiller:
		return m.Type, true
	case SpeakerRoute:
		return m.Type, true
	case CallState:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
