package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle position of the phone call UI.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseIncoming Phase = "incoming"
	PhaseActive   Phase = "active"
)

var (
	ErrNoCall         = errors.New("no active call")
	ErrStaleCall      = errors.New("call is no longer current")
	ErrTurnInProgress = errors.New("a turn is already in progress")
)

// State is the observable state of the single live call. Values handed out
// by Store are copies.
type State struct {
	CallID       string    `json:"call_id"`
	Phase        Phase     `json:"phase"`
	Active       bool      `json:"is_call_active"`
	Listening    bool      `json:"is_listening"`
	Processing   bool      `json:"is_processing"`
	Speaking     bool      `json:"is_speaking"`
	PartialText  string    `json:"current_partial_text"`
	LastSpeechAt time.Time `json:"last_speech_at"`
	Scenario     string    `json:"scenario,omitempty"`
	VoiceID      string    `json:"active_voice_id,omitempty"`
	ResponseText string    `json:"response_text"`
	LastError    string    `json:"last_error,omitempty"`
	SpeakerOn    bool      `json:"speaker_on"`
	ActiveTurnID string    `json:"active_turn_id,omitempty"`
	TurnCount    int       `json:"turn_count"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store owns the call state. Every mutation happens under one lock and is
// followed by a snapshot to subscribers.
type Store struct {
	mu    sync.Mutex
	state State
	subs  map[int]chan State
	next  int
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		state: State{Phase: PhaseIdle},
		subs:  make(map[int]chan State),
		now:   time.Now,
	}
}

// SetClock swaps the time source; tests use it to drive silence detection.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.now = now
}

func (s *Store) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe streams snapshots after every change. Slow readers lose
// intermediate snapshots, never the latest one.
func (s *Store) Subscribe(buffer int) (<-chan State, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan State, buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	ch <- s.state
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) SetPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == phase {
		return
	}
	s.state.Phase = phase
	s.publishLocked()
}

// BeginCall replaces any previous call with a fresh active one.
func (s *Store) BeginCall(scenario, voiceID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.state = State{
		CallID:    uuid.NewString(),
		Phase:     PhaseActive,
		Active:    true,
		Scenario:  scenario,
		VoiceID:   voiceID,
		SpeakerOn: s.state.SpeakerOn,
		StartedAt: now,
	}
	s.publishLocked()
	return s.state
}

// EndCall deactivates the call. It reports whether a call was active.
func (s *Store) EndCall() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasActive := s.state.Active
	s.state.Active = false
	s.state.Listening = false
	s.state.Processing = false
	s.state.Speaking = false
	s.state.PartialText = ""
	s.state.ActiveTurnID = ""
	s.state.SpeakerOn = false
	s.state.Phase = PhaseIdle
	s.publishLocked()
	return s.state, wasActive
}

// IsCurrent reports whether callID names the active call.
func (s *Store) IsCurrent(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(callID)
}

// Update applies fn when callID is still the active call and, if turnID is
// set, that turn is still the one in flight. Stale completions are refused.
func (s *Store) Update(callID, turnID string, fn func(*State)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(callID) {
		return false
	}
	if turnID != "" && s.state.ActiveTurnID != turnID {
		return false
	}
	fn(&s.state)
	s.publishLocked()
	return true
}

// BeginTurn claims the single turn slot for the call.
func (s *Store) BeginTurn(callID, turnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active {
		return ErrNoCall
	}
	if s.state.CallID != callID {
		return ErrStaleCall
	}
	if s.state.ActiveTurnID != "" {
		return ErrTurnInProgress
	}
	s.state.ActiveTurnID = turnID
	s.state.Processing = true
	s.state.LastError = ""
	s.publishLocked()
	return nil
}

// FinishTurn releases the turn slot. errMsg, when set, is exposed as the
// displayed error.
func (s *Store) FinishTurn(callID, turnID, errMsg string) bool {
	return s.Update(callID, turnID, func(st *State) {
		st.ActiveTurnID = ""
		st.Processing = false
		st.Speaking = false
		if errMsg != "" {
			st.LastError = errMsg
			st.ResponseText = errMsg
			return
		}
		st.TurnCount++
	})
}

// StartListening flips the listening flag. It refuses while a turn is in
// flight or when already listening.
func (s *Store) StartListening(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(callID) || s.state.Listening || s.state.ActiveTurnID != "" {
		return false
	}
	s.state.Listening = true
	s.state.PartialText = ""
	s.publishLocked()
	return true
}

// StopListening clears the listening flag. It reports whether it was set.
func (s *Store) StopListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Listening {
		return false
	}
	s.state.Listening = false
	s.publishLocked()
	return true
}

// ObservePartial records an in-progress transcript.
func (s *Store) ObservePartial(callID, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return s.Update(callID, "", func(st *State) {
		if !st.Listening {
			return
		}
		st.PartialText = text
		st.LastSpeechAt = s.now().UTC()
	})
}

// TakeFinal claims a final recognizer result as the completed utterance.
// It clears the pending transcript and the listening flag in the same step,
// so a racing silence tick finds nothing left to dispatch.
func (s *Store) TakeFinal(callID, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(callID) || !s.state.Listening {
		return false
	}
	s.state.PartialText = ""
	s.state.Listening = false
	s.publishLocked()
	return true
}

// TakeIfSilent takes the pending transcript when no speech has been
// observed for longer than threshold. Like TakeFinal it ends listening.
func (s *Store) TakeIfSilent(callID string, threshold time.Duration) (string, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(callID) || !s.state.Listening || s.state.PartialText == "" {
		return "", 0
	}
	silence := s.now().Sub(s.state.LastSpeechAt)
	if silence <= threshold {
		return "", 0
	}
	text := s.state.PartialText
	s.state.PartialText = ""
	s.state.Listening = false
	s.publishLocked()
	return text, silence
}

// SetSpeaker records the audio routing shown to clients.
func (s *Store) SetSpeaker(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.SpeakerOn == on {
		return
	}
	s.state.SpeakerOn = on
	s.publishLocked()
}

func (s *Store) currentLocked(callID string) bool {
	return s.state.Active && callID != "" && s.state.CallID == callID
}

func (s *Store) publishLocked() {
	s.state.UpdatedAt = s.now().UTC()
	snap := s.state
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
