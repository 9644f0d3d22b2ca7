package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/audio"
	"github.com/ent0n29/coolphone/internal/observability"
	"github.com/ent0n29/coolphone/internal/scenario"
	"github.com/ent0n29/coolphone/internal/session"
)

var ErrInvalidTransition = errors.New("invalid call transition")

// Conversation is the part of the turn-taking orchestrator the controller
// drives.
type Conversation interface {
	StartCall(ctx context.Context, sc scenario.Scenario, customText, voiceID string) (session.State, error)
	EndCall()
}

// Ringer plays the incoming call sound.
type Ringer interface {
	StartRingtone(r audio.Ringtone) error
	StopRingtone()
}

// Controller moves the phone UI through idle, incoming and active.
type Controller struct {
	store    *session.Store
	conv     Conversation
	ringer   Ringer
	settings *SettingsStore
	logger   zerolog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	timer    *time.Timer
	timerGen uint64
	fireAt   time.Time
	now      func() time.Time
}

func NewController(
	store *session.Store,
	conv Conversation,
	ringer Ringer,
	settings *SettingsStore,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Controller {
	return &Controller{
		store:    store,
		conv:     conv,
		ringer:   ringer,
		settings: settings,
		logger:   logger.With().Str("component", "call").Logger(),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Phase reports where the UI is.
func (c *Controller) Phase() session.Phase {
	return c.store.Snapshot().Phase
}

// Ring shows the incoming call and starts the looping ringtone.
func (c *Controller) Ring(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelScheduleLocked()
	return c.ringLocked()
}

func (c *Controller) ringLocked() error {
	if phase := c.store.Snapshot().Phase; phase != session.PhaseIdle {
		return fmt.Errorf("%w: ring from %s", ErrInvalidTransition, phase)
	}
	c.store.SetPhase(session.PhaseIncoming)
	c.metrics.CallEvent("ring")

	settings := c.settings.Get()
	if err := c.ringer.StartRingtone(settings.Ringtone); err != nil {
		c.logger.Warn().Err(err).Str("ringtone", string(settings.Ringtone)).Msg("ringtone unavailable")
	}
	c.logger.Info().
		Str("caller", settings.CallerName).
		Str("scenario", string(settings.Scenario)).
		Msg("incoming call")
	return nil
}

// Answer picks up the incoming call and starts the conversation with the
// current settings.
func (c *Controller) Answer(ctx context.Context) (session.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if phase := c.store.Snapshot().Phase; phase != session.PhaseIncoming {
		return session.State{}, fmt.Errorf("%w: answer from %s", ErrInvalidTransition, phase)
	}
	c.ringer.StopRingtone()
	c.metrics.CallEvent("answer")

	settings := c.settings.Get()
	state, err := c.conv.StartCall(ctx, settings.Scenario, settings.CustomScenarioText, settings.CustomVoiceID)
	if err != nil {
		c.store.SetPhase(session.PhaseIdle)
		return session.State{}, err
	}
	return state, nil
}

// Hangup ends an active call or dismisses an incoming one.
func (c *Controller) Hangup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangupLocked()
}

func (c *Controller) hangupLocked() error {
	switch phase := c.store.Snapshot().Phase; phase {
	case session.PhaseIncoming:
		c.ringer.StopRingtone()
		c.store.SetPhase(session.PhaseIdle)
		c.metrics.CallEvent("decline")
		return nil
	case session.PhaseActive:
		c.conv.EndCall()
		c.store.SetPhase(session.PhaseIdle)
		c.metrics.CallEvent("hangup")
		return nil
	default:
		return fmt.Errorf("%w: hangup from %s", ErrInvalidTransition, phase)
	}
}

// Decline rejects an incoming call.
func (c *Controller) Decline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if phase := c.store.Snapshot().Phase; phase != session.PhaseIncoming {
		return fmt.Errorf("%w: decline from %s", ErrInvalidTransition, phase)
	}
	return c.hangupLocked()
}

// Schedule rings after delay. A negative delay uses the settings delay.
// Scheduling again replaces the pending timer.
func (c *Controller) Schedule(delay time.Duration) (time.Time, error) {
	if delay < 0 {
		delay = c.settings.Get().Delay()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if phase := c.store.Snapshot().Phase; phase != session.PhaseIdle {
		return time.Time{}, fmt.Errorf("%w: schedule from %s", ErrInvalidTransition, phase)
	}
	c.cancelScheduleLocked()

	c.timerGen++
	gen := c.timerGen
	c.fireAt = c.now().Add(delay)
	c.timer = time.AfterFunc(delay, func() { c.fire(gen) })
	c.metrics.CallEvent("scheduled")
	c.logger.Info().Dur("delay", delay).Msg("incoming call scheduled")
	return c.fireAt, nil
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.timerGen || c.timer == nil {
		return
	}
	c.timer = nil
	c.fireAt = time.Time{}
	if err := c.ringLocked(); err != nil {
		c.logger.Warn().Err(err).Msg("scheduled call skipped")
	}
}

// CancelSchedule drops a pending timer and reports whether one existed.
func (c *Controller) CancelSchedule() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelScheduleLocked()
}

func (c *Controller) cancelScheduleLocked() bool {
	if c.timer == nil {
		return false
	}
	c.timer.Stop()
	c.timer = nil
	c.fireAt = time.Time{}
	c.timerGen++
	c.metrics.CallEvent("schedule_cancelled")
	return true
}

// Scheduled returns the pending ring time, if any.
func (c *Controller) Scheduled() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fireAt, c.timer != nil
}

// Close cancels the schedule and silences a ringing phone.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelScheduleLocked()
	if c.store.Snapshot().Phase == session.PhaseIncoming {
		c.ringer.StopRingtone()
		c.store.SetPhase(session.PhaseIdle)
	}
}
