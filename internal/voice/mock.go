package voice

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/coolphone/internal/audio"
)

// MockRecognizer is an in-process recognizer. Nothing is heard unless a
// caller pushes events with Emit, which makes it the recognizer of choice
// for tests and headless runs driven over HTTP.
type MockRecognizer struct {
	mu       sync.Mutex
	granted  bool
	permErr  error
	startErr error
	current  chan RecognizerEvent
	starts   int
	stops    int
	muted    bool
	started  chan struct{}
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{granted: true, started: make(chan struct{}, 64)}
}

func (m *MockRecognizer) SetPermission(granted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted = granted
	m.permErr = err
}

func (m *MockRecognizer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockRecognizer) RequestPermission(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.granted, m.permErr
}

func (m *MockRecognizer) Start(context.Context, string) (<-chan RecognizerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.closeLocked()
	m.current = make(chan RecognizerEvent, 64)
	m.starts++
	select {
	case m.started <- struct{}{}:
	default:
	}
	return m.current, nil
}

func (m *MockRecognizer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.closeLocked()
}

func (m *MockRecognizer) SetFeedbackMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

// Emit delivers ev to the open session. It reports false when no session
// is open or its buffer is full.
func (m *MockRecognizer) Emit(ev RecognizerEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	select {
	case m.current <- ev:
		return true
	default:
		return false
	}
}

// EndSession closes the open session as if the platform dropped it.
func (m *MockRecognizer) EndSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Started fires once per Start call.
func (m *MockRecognizer) Started() <-chan struct{} { return m.started }

func (m *MockRecognizer) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *MockRecognizer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *MockRecognizer) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *MockRecognizer) closeLocked() {
	if m.current != nil {
		close(m.current)
		m.current = nil
	}
}

// MockOutput records what would have been played.
type MockOutput struct {
	mu        sync.Mutex
	playDelay time.Duration
	playErr   error
	stopCh    chan struct{}
	plays     [][]byte
	fillers   int
	stops     int
	ringing   bool
	ringtone  audio.Ringtone
	speaker   bool
}

func NewMockOutput() *MockOutput { return &MockOutput{} }

// SetPlayDelay makes Play block for d, standing in for clip duration.
func (m *MockOutput) SetPlayDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playDelay = d
}

func (m *MockOutput) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

func (m *MockOutput) Play(ctx context.Context, clip []byte) error {
	m.mu.Lock()
	m.plays = append(m.plays, append([]byte(nil), clip...))
	delay, err := m.playDelay, m.playErr
	stop := make(chan struct{})
	m.stopCh = stop
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case <-timer.C:
		return nil
	}
}

func (m *MockOutput) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

func (m *MockOutput) StartRingtone(ringtone audio.Ringtone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ringing = true
	m.ringtone = ringtone
	return nil
}

func (m *MockOutput) StopRingtone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ringing = false
}

func (m *MockOutput) PlayFiller() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillers++
}

func (m *MockOutput) SetSpeakerRouting(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speaker = enabled
}

func (m *MockOutput) Plays() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.plays))
	copy(out, m.plays)
	return out
}

func (m *MockOutput) Fillers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fillers
}

func (m *MockOutput) Ringing() (bool, audio.Ringtone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ringing, m.ringtone
}

func (m *MockOutput) SpeakerOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaker
}
