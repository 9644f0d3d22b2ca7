package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/audio"
	"github.com/ent0n29/coolphone/internal/scenario"
	"github.com/ent0n29/coolphone/internal/session"
)

type fakeConversation struct {
	store *session.Store
	err   error

	mu       sync.Mutex
	started  []scenario.Scenario
	custom   string
	voice    string
	endCalls int
}

func (f *fakeConversation) StartCall(_ context.Context, sc scenario.Scenario, customText, voiceID string) (session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return session.State{}, f.err
	}
	f.started = append(f.started, sc)
	f.custom = customText
	f.voice = voiceID
	return f.store.BeginCall(string(sc), scenario.ResolveVoice(sc, voiceID)), nil
}

func (f *fakeConversation) EndCall() {
	f.mu.Lock()
	f.endCalls++
	f.mu.Unlock()
	f.store.EndCall()
}

type fakeRinger struct {
	mu      sync.Mutex
	ringing bool
	last    audio.Ringtone
	err     error
}

func (f *fakeRinger) StartRingtone(r audio.Ringtone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = r
	if f.err != nil {
		return f.err
	}
	f.ringing = true
	return nil
}

func (f *fakeRinger) StopRingtone() {
	f.mu.Lock()
	f.ringing = false
	f.mu.Unlock()
}

func (f *fakeRinger) isRinging() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ringing
}

func newTestController(t *testing.T) (*Controller, *session.Store, *fakeConversation, *fakeRinger, *SettingsStore) {
	t.Helper()
	store := session.NewStore()
	conv := &fakeConversation{store: store}
	ringer := &fakeRinger{}
	settings := NewSettingsStore(DefaultSettings(0))
	c := NewController(store, conv, ringer, settings, zerolog.Nop(), nil)
	t.Cleanup(c.Close)
	return c, store, conv, ringer, settings
}

func TestRingAnswerHangup(t *testing.T) {
	c, store, conv, ringer, settings := newTestController(t)
	if _, err := settings.Update(func(s *Settings) {
		s.Scenario = scenario.Delivery
		s.Ringtone = audio.RingtoneDigital
		s.CustomVoiceID = "cloned-voice"
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := c.Ring(context.Background()); err != nil {
		t.Fatalf("Ring() error = %v", err)
	}
	if c.Phase() != session.PhaseIncoming || !ringer.isRinging() || ringer.last != audio.RingtoneDigital {
		t.Fatalf("after Ring: phase=%s ringing=%v ringtone=%s", c.Phase(), ringer.isRinging(), ringer.last)
	}

	state, err := c.Answer(context.Background())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if ringer.isRinging() {
		t.Fatalf("ringtone still playing after Answer")
	}
	if state.Phase != session.PhaseActive || state.Scenario != string(scenario.Delivery) || state.VoiceID != "cloned-voice" {
		t.Fatalf("state = %+v", state)
	}
	if conv.voice != "cloned-voice" {
		t.Fatalf("voice passed to StartCall = %q", conv.voice)
	}

	if err := c.Hangup(); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	if conv.endCalls != 1 || store.Snapshot().Phase != session.PhaseIdle || store.Snapshot().Active {
		t.Fatalf("after Hangup: endCalls=%d state=%+v", conv.endCalls, store.Snapshot())
	}
}

func TestInvalidTransitions(t *testing.T) {
	c, _, _, _, _ := newTestController(t)

	if _, err := c.Answer(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Answer() from idle error = %v", err)
	}
	if err := c.Hangup(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Hangup() from idle error = %v", err)
	}
	if err := c.Decline(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Decline() from idle error = %v", err)
	}

	if err := c.Ring(context.Background()); err != nil {
		t.Fatalf("Ring() error = %v", err)
	}
	if err := c.Ring(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Ring() error = %v", err)
	}
	if _, err := c.Answer(context.Background()); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if err := c.Decline(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Decline() while active error = %v", err)
	}
	if _, err := c.Schedule(time.Second); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Schedule() while active error = %v", err)
	}
}

func TestDeclineStopsRinging(t *testing.T) {
	c, _, conv, ringer, _ := newTestController(t)
	if err := c.Ring(context.Background()); err != nil {
		t.Fatalf("Ring() error = %v", err)
	}
	if err := c.Decline(); err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	if ringer.isRinging() || c.Phase() != session.PhaseIdle {
		t.Fatalf("after Decline: ringing=%v phase=%s", ringer.isRinging(), c.Phase())
	}
	if len(conv.started) != 0 {
		t.Fatalf("conversation started on decline")
	}
}

func TestRingtoneFailureStillRings(t *testing.T) {
	c, _, _, ringer, _ := newTestController(t)
	ringer.err = errors.New("no speaker")
	if err := c.Ring(context.Background()); err != nil {
		t.Fatalf("Ring() error = %v", err)
	}
	if c.Phase() != session.PhaseIncoming {
		t.Fatalf("phase = %s, want incoming", c.Phase())
	}
}

func TestAnswerFailureReturnsToIdle(t *testing.T) {
	c, _, conv, _, _ := newTestController(t)
	conv.err = errors.New("bad scenario")
	if err := c.Ring(context.Background()); err != nil {
		t.Fatalf("Ring() error = %v", err)
	}
	if _, err := c.Answer(context.Background()); err == nil {
		t.Fatalf("Answer() expected error")
	}
	if c.Phase() != session.PhaseIdle {
		t.Fatalf("phase = %s, want idle", c.Phase())
	}
}

func TestScheduleRings(t *testing.T) {
	c, _, _, ringer, _ := newTestController(t)
	at, err := c.Schedule(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if pending, ok := c.Scheduled(); !ok || !pending.Equal(at) {
		t.Fatalf("Scheduled() = %v, %v", pending, ok)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Phase() != session.PhaseIncoming {
		if time.Now().After(deadline) {
			t.Fatalf("scheduled call never rang")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !ringer.isRinging() {
		t.Fatalf("ringtone not started by schedule")
	}
	if _, ok := c.Scheduled(); ok {
		t.Fatalf("schedule still pending after firing")
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	c, _, _, _, _ := newTestController(t)
	if _, err := c.Schedule(20 * time.Millisecond); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	later, err := c.Schedule(time.Hour)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if c.Phase() != session.PhaseIdle {
		t.Fatalf("replaced timer fired: phase = %s", c.Phase())
	}
	if pending, ok := c.Scheduled(); !ok || !pending.Equal(later) {
		t.Fatalf("Scheduled() = %v, %v; want %v", pending, ok, later)
	}
	if !c.CancelSchedule() {
		t.Fatalf("CancelSchedule() = false with a pending timer")
	}
	if c.CancelSchedule() {
		t.Fatalf("CancelSchedule() = true with nothing pending")
	}
}

func TestScheduleUsesSettingsDelay(t *testing.T) {
	c, _, _, _, settings := newTestController(t)
	if _, err := settings.Update(func(s *Settings) { s.DelaySeconds = 30 }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	at, err := c.Schedule(-1)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if want := now.Add(30 * time.Second); !at.Equal(want) {
		t.Fatalf("fire time = %v, want %v", at, want)
	}
}

func TestSettingsValidation(t *testing.T) {
	store := NewSettingsStore(DefaultSettings(5 * time.Second))
	if got := store.Get().DelaySeconds; got != 5 {
		t.Fatalf("DelaySeconds = %d, want 5", got)
	}

	cases := map[string]func(*Settings){
		"empty caller":        func(s *Settings) { s.CallerName = "  " },
		"unknown scenario":    func(s *Settings) { s.Scenario = "boss" },
		"custom without text": func(s *Settings) { s.Scenario = scenario.Custom; s.CustomScenarioText = "" },
		"bad ringtone":        func(s *Settings) { s.Ringtone = "jazz" },
		"negative delay":      func(s *Settings) { s.DelaySeconds = -1 },
	}
	for name, fn := range cases {
		if _, err := store.Update(fn); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if store.Get().CallerName != "王铁柱" {
		t.Fatalf("failed update leaked into store: %+v", store.Get())
	}

	updated, err := store.Update(func(s *Settings) {
		s.CallerName = " 妈妈 "
		s.Ringtone = ""
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.CallerName != "妈妈" || updated.Ringtone != audio.RingtoneClassic {
		t.Fatalf("updated = %+v", updated)
	}
}
