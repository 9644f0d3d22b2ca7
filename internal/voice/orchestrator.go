package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/conversation"
	"github.com/ent0n29/coolphone/internal/minimax"
	"github.com/ent0n29/coolphone/internal/observability"
	"github.com/ent0n29/coolphone/internal/policy"
	"github.com/ent0n29/coolphone/internal/scenario"
	"github.com/ent0n29/coolphone/internal/session"
)

var (
	ErrTurnInProgress = session.ErrTurnInProgress
	ErrCallInactive   = errors.New("call is not active")
	ErrEmptyUtterance = errors.New("utterance is empty")
	ErrInvalidCall    = errors.New("invalid call request")
)

const logTextMaxRunes = 80

type OrchestratorConfig struct {
	Locale              string
	MaxRestarts         int
	SilenceTimeout      time.Duration
	SilencePollInterval time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 800 * time.Millisecond
	}
	if c.SilencePollInterval <= 0 {
		c.SilencePollInterval = 100 * time.Millisecond
	}
	return c
}

// activeCall ties the call id to the context every turn of that call runs
// under. Ending the call cancels it.
type activeCall struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// Orchestrator runs the listen, think, speak loop of one phone call. At most
// one turn (greeting or reply) is in flight; its completion is applied only
// while the call and the turn are still current.
type Orchestrator struct {
	store   *session.Store
	history *conversation.History
	service minimax.Service
	output  AudioOutput
	stream  *SpeechStream
	metrics *observability.Metrics
	logger  zerolog.Logger
	cfg     OrchestratorConfig

	mu   sync.Mutex
	call *activeCall

	listenMu     sync.Mutex
	listenCancel context.CancelFunc

	turns sync.WaitGroup
}

func NewOrchestrator(
	store *session.Store,
	service minimax.Service,
	recognizer Recognizer,
	output AudioOutput,
	cfg OrchestratorConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	cfg = cfg.withDefaults()
	logger = logger.With().Str("component", "orchestrator").Logger()
	return &Orchestrator{
		store:   store,
		history: conversation.NewHistory(),
		service: service,
		output:  output,
		stream: NewSpeechStream(recognizer, SpeechStreamConfig{
			Locale:       cfg.Locale,
			MaxRestarts:  cfg.MaxRestarts,
			FastRestarts: 3,
		}, logger, metrics),
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// StartCall ends whatever call was running, seeds a fresh history for the
// scenario and asks the partner for the opening line. The greeting runs in
// the background; ctx only contributes values, not cancellation.
func (o *Orchestrator) StartCall(ctx context.Context, sc scenario.Scenario, customText, voiceID string) (session.State, error) {
	if !sc.Valid() {
		return session.State{}, fmt.Errorf("start call: %w: unknown scenario %q", ErrInvalidCall, sc)
	}
	if sc == scenario.Custom && strings.TrimSpace(customText) == "" {
		return session.State{}, fmt.Errorf("start call: %w: custom scenario needs a description", ErrInvalidCall)
	}

	o.EndCall()
	o.history.Reset(scenario.SystemPrompt(sc, customText))
	voiceID = scenario.ResolveVoice(sc, voiceID)
	st := o.store.BeginCall(string(sc), voiceID)

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.call = &activeCall{id: st.CallID, ctx: callCtx, cancel: cancel}
	o.mu.Unlock()

	turnID := uuid.NewString()
	if err := o.store.BeginTurn(st.CallID, turnID); err != nil {
		cancel()
		return o.store.Snapshot(), fmt.Errorf("start call: %w", err)
	}

	o.metrics.CallEvent("start")
	o.metrics.SetCallActive(true)
	o.logger.Info().
		Str("call_id", st.CallID).
		Str("scenario", string(sc)).
		Str("voice_id", voiceID).
		Msg("call started")

	st = o.store.Snapshot()
	o.turns.Add(1)
	go o.runGreeting(callCtx, st.CallID, turnID, voiceID)
	return st, nil
}

func (o *Orchestrator) runGreeting(ctx context.Context, callID, turnID, voiceID string) {
	defer o.turns.Done()
	defer o.recoverTurn(callID, turnID)

	started := time.Now()
	reply, err := o.service.Converse(ctx, o.history.Messages(), scenario.GreetingInstruction, voiceID)
	if err != nil {
		o.failTurn(ctx, callID, turnID, "greeting", err)
		return
	}
	replied := time.Since(started)

	var appendErr error
	committed := o.store.Update(callID, turnID, func(st *session.State) {
		if appendErr = o.history.AppendGreeting(reply.Text); appendErr != nil {
			return
		}
		o.exposeReply(st, reply)
	})
	if !committed {
		o.metrics.TurnResult("stale_completion")
		return
	}
	if appendErr != nil {
		o.failTurn(ctx, callID, turnID, "greeting", appendErr)
		return
	}

	o.logger.Info().
		Str("call_id", callID).
		Str("reply", policy.LogText(reply.Text, logTextMaxRunes)).
		Bool("has_audio", len(reply.Audio) > 0).
		Msg("greeting ready")

	played := o.speak(ctx, callID, reply.Audio)
	if !o.store.FinishTurn(callID, turnID, "") {
		return
	}
	o.metrics.TurnResult("greeting")
	o.recordTurn(callID, turnOrigin{source: observability.DispatchGreeting}, reply, replied, played, time.Since(started))
	if err := o.startListening(callID); err != nil {
		o.logger.Warn().Err(err).Str("call_id", callID).Msg("listening did not start after greeting")
	}
}

// HandleUserMessage submits a completed utterance as the next turn. It
// returns once the turn is claimed; the reply is produced in the background.
func (o *Orchestrator) HandleUserMessage(text string) error {
	return o.submit(text, turnOrigin{source: observability.DispatchDirect})
}

// turnOrigin records how an utterance was closed.
type turnOrigin struct {
	source  observability.DispatchSource
	silence time.Duration
}

func (o *Orchestrator) submit(text string, origin turnOrigin) error {
	o.StopListening()

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyUtterance
	}

	st := o.store.Snapshot()
	call := o.currentCall(st.CallID)
	if !st.Active || call == nil {
		return ErrCallInactive
	}

	turnID := uuid.NewString()
	if err := o.store.BeginTurn(st.CallID, turnID); err != nil {
		if errors.Is(err, session.ErrTurnInProgress) {
			o.metrics.TurnResult("rejected")
			return ErrTurnInProgress
		}
		return ErrCallInactive
	}

	o.turns.Add(1)
	go o.runTurn(call.ctx, st.CallID, turnID, text, st.VoiceID, origin)
	return nil
}

func (o *Orchestrator) runTurn(ctx context.Context, callID, turnID, text, voiceID string, origin turnOrigin) {
	defer o.turns.Done()
	defer o.recoverTurn(callID, turnID)

	o.output.PlayFiller()

	started := time.Now()
	reply, err := o.service.Converse(ctx, o.history.Messages(), text, voiceID)
	if err != nil {
		o.failTurn(ctx, callID, turnID, "turn", err)
		return
	}
	replied := time.Since(started)

	var appendErr error
	committed := o.store.Update(callID, turnID, func(st *session.State) {
		if appendErr = o.history.AppendExchange(text, reply.Text); appendErr != nil {
			return
		}
		o.exposeReply(st, reply)
	})
	if !committed {
		o.metrics.TurnResult("stale_completion")
		return
	}
	if appendErr != nil {
		o.failTurn(ctx, callID, turnID, "turn", appendErr)
		return
	}

	o.logger.Info().
		Str("call_id", callID).
		Str("user_text", policy.LogText(text, logTextMaxRunes)).
		Str("reply", policy.LogText(reply.Text, logTextMaxRunes)).
		Bool("has_audio", len(reply.Audio) > 0).
		Msg("turn replied")

	played := o.speak(ctx, callID, reply.Audio)
	if !o.store.FinishTurn(callID, turnID, "") {
		return
	}
	o.metrics.TurnResult("ok")
	o.recordTurn(callID, origin, reply, replied, played, time.Since(started))

	if err := o.startListening(callID); err != nil {
		o.logger.Warn().Err(err).Str("call_id", callID).Msg("listening did not resume after turn")
	}
}

// exposeReply runs under the store lock.
func (o *Orchestrator) exposeReply(st *session.State, reply minimax.Reply) {
	st.ResponseText = reply.Text
	st.Speaking = len(reply.Audio) > 0
	if reply.VoiceID != "" {
		st.VoiceID = reply.VoiceID
	}
}

// speak plays clip and reports how long playback took.
func (o *Orchestrator) speak(ctx context.Context, callID string, clip []byte) time.Duration {
	if len(clip) == 0 {
		return 0
	}
	started := time.Now()
	if err := o.output.Play(ctx, clip); err != nil && ctx.Err() == nil {
		o.logger.Warn().Err(err).Str("call_id", callID).Msg("playback failed")
	}
	return time.Since(started)
}

func (o *Orchestrator) recordTurn(callID string, origin turnOrigin, reply minimax.Reply, replied, played, total time.Duration) {
	o.metrics.ObserveTurn(observability.TurnTiming{
		CallID:   callID,
		Turn:     o.store.Snapshot().TurnCount,
		Source:   origin.source,
		Silence:  origin.silence,
		Reply:    replied,
		Playback: played,
		Total:    total,
		Degraded: len(reply.Audio) == 0,
	})
}

func (o *Orchestrator) failTurn(ctx context.Context, callID, turnID, kind string, err error) {
	if ctx.Err() != nil {
		o.metrics.TurnResult("cancelled")
		return
	}
	msg := "Error: " + err.Error()
	if !o.store.FinishTurn(callID, turnID, msg) {
		o.metrics.TurnResult("stale_completion")
		return
	}
	o.metrics.TurnResult("error")
	o.logger.Error().Err(err).Str("call_id", callID).Str("turn", kind).Msg("turn failed")
}

func (o *Orchestrator) recoverTurn(callID, turnID string) {
	r := recover()
	if r == nil {
		return
	}
	o.logger.Error().Interface("panic", r).Str("call_id", callID).Msg("turn panicked")
	o.metrics.TurnResult("panic")
	o.store.FinishTurn(callID, turnID, fmt.Sprintf("Error: internal failure: %v", r))
}

// StartListening opens the microphone for the active call. It is a no-op
// while a turn is in flight or when already listening.
func (o *Orchestrator) StartListening() error {
	st := o.store.Snapshot()
	if !st.Active {
		return ErrCallInactive
	}
	return o.startListening(st.CallID)
}

func (o *Orchestrator) startListening(callID string) error {
	call := o.currentCall(callID)
	if call == nil {
		return ErrCallInactive
	}

	granted, err := o.stream.RequestPermissions(call.ctx)
	if err != nil || !granted {
		o.logger.Warn().Err(err).Str("call_id", callID).Msg("microphone permission not granted")
		return nil
	}

	o.listenMu.Lock()
	defer o.listenMu.Unlock()
	if !o.store.StartListening(callID) {
		return nil
	}
	listenCtx, cancel := context.WithCancel(call.ctx)
	if o.listenCancel != nil {
		o.listenCancel()
	}
	o.listenCancel = cancel

	err = o.stream.Start(listenCtx,
		func(text string, isFinal bool) { o.onResult(callID, text, isFinal) },
		func(message string) { o.onRecognizerError(callID, message) },
	)
	if err != nil {
		cancel()
		o.listenCancel = nil
		o.store.StopListening()
		return fmt.Errorf("start speech stream: %w", err)
	}
	go o.silenceLoop(listenCtx, callID)
	return nil
}

func (o *Orchestrator) onResult(callID, text string, isFinal bool) {
	if !isFinal {
		o.store.ObservePartial(callID, text)
		return
	}
	if !o.store.TakeFinal(callID, text) {
		return
	}
	o.dispatch(callID, text, turnOrigin{source: observability.DispatchFinal})
}

func (o *Orchestrator) onRecognizerError(callID, message string) {
	if !o.store.IsCurrent(callID) {
		return
	}
	o.StopListening()
	o.store.Update(callID, "", func(st *session.State) {
		st.LastError = "Error: speech recognition: " + message
	})
}

// silenceLoop dispatches the pending transcript once the caller paused
// longer than the silence timeout.
func (o *Orchestrator) silenceLoop(ctx context.Context, callID string) {
	ticker := time.NewTicker(o.cfg.SilencePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		text, silence := o.store.TakeIfSilent(callID, o.cfg.SilenceTimeout)
		if text == "" {
			continue
		}
		o.dispatch(callID, text, turnOrigin{
			source:  observability.DispatchSilence,
			silence: silence - o.cfg.SilenceTimeout,
		})
		return
	}
}

func (o *Orchestrator) dispatch(callID, text string, origin turnOrigin) {
	if err := o.submit(text, origin); err != nil {
		o.logger.Debug().Err(err).Str("call_id", callID).Msg("utterance not dispatched")
	}
}

// StopListening closes the microphone. It is idempotent.
func (o *Orchestrator) StopListening() {
	o.listenMu.Lock()
	cancel := o.listenCancel
	o.listenCancel = nil
	o.listenMu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.store.StopListening()
	o.stream.Stop()
}

// EndCall hangs up: pending work is cancelled, the microphone closed and
// audio silenced. It is idempotent.
func (o *Orchestrator) EndCall() {
	o.mu.Lock()
	call := o.call
	o.call = nil
	o.mu.Unlock()

	st, wasActive := o.store.EndCall()
	if call != nil {
		call.cancel()
	}
	o.StopListening()
	o.output.Stop()
	o.output.SetSpeakerRouting(false)
	o.history.Clear()

	if wasActive {
		o.metrics.CallEvent("end")
		o.metrics.SetCallActive(false)
		o.logger.Info().Str("call_id", st.CallID).Int("turns", st.TurnCount).Msg("call ended")
	}
}

// Resume restarts listening after a turn halted on an error.
func (o *Orchestrator) Resume() error {
	st := o.store.Snapshot()
	if !st.Active {
		return ErrCallInactive
	}
	if st.ActiveTurnID != "" {
		return ErrTurnInProgress
	}
	o.store.Update(st.CallID, "", func(s *session.State) { s.LastError = "" })
	return o.startListening(st.CallID)
}

// SetSpeaker routes playback to the loudspeaker or back to the earpiece.
func (o *Orchestrator) SetSpeaker(enabled bool) {
	o.output.SetSpeakerRouting(enabled)
	o.store.SetSpeaker(enabled)
}

func (o *Orchestrator) History() []conversation.Message {
	return o.history.Messages()
}

func (o *Orchestrator) State() session.State {
	return o.store.Snapshot()
}

// Close ends the call and waits for in-flight turns to unwind.
func (o *Orchestrator) Close() {
	o.EndCall()
	o.turns.Wait()
}

func (o *Orchestrator) currentCall(callID string) *activeCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil || callID == "" || o.call.id != callID {
		return nil
	}
	return o.call
}
