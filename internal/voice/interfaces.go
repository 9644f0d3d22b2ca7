package voice

import (
	"context"

	"github.com/ent0n29/coolphone/internal/audio"
)

type RecognizerEventKind string

const (
	RecognizerReady   RecognizerEventKind = "ready"
	RecognizerPartial RecognizerEventKind = "partial"
	RecognizerFinal   RecognizerEventKind = "final"
	RecognizerError   RecognizerEventKind = "error"
)

type RecognizerEvent struct {
	Kind    RecognizerEventKind
	Text    string
	Code    string
	Message string
}

// Recognizer is the platform speech recognizer. Each Start opens one
// recognition session whose events arrive on the returned channel; the
// channel is closed when the session ends.
type Recognizer interface {
	RequestPermission(ctx context.Context) (bool, error)
	Start(ctx context.Context, locale string) (<-chan RecognizerEvent, error)
	Stop()
	SetFeedbackMuted(muted bool)
}

// AudioOutput plays assistant speech and call sounds. Play blocks until the
// clip finished or was stopped.
type AudioOutput interface {
	Play(ctx context.Context, clip []byte) error
	Stop()
	StartRingtone(ringtone audio.Ringtone) error
	StopRingtone()
	PlayFiller()
	SetSpeakerRouting(enabled bool)
}
