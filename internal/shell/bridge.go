// Package shell bridges the call core to the phone shell, the thin native
// app that owns the microphone, the platform speech recognizer and the
// audio session. The shell connects over a websocket and the bridge exposes
// it as a voice.Recognizer and a voice.AudioOutput.
package shell

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/audio"
	"github.com/ent0n29/coolphone/internal/observability"
	"github.com/ent0n29/coolphone/internal/protocol"
	"github.com/ent0n29/coolphone/internal/voice"
)

var ErrNoShell = errors.New("no phone shell connected")

const (
	writeTimeout      = 5 * time.Second
	readTimeout       = 120 * time.Second
	permissionTimeout = 15 * time.Second
	sessionBuffer     = 64
)

type shellConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

type recognitionSession struct {
	id     string
	events chan voice.RecognizerEvent
}

// Bridge holds at most one shell connection; a new connection replaces
// the previous one.
type Bridge struct {
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	conn    *shellConn
	granted bool
	session *recognitionSession
	perms   map[string]chan bool
	plays   map[string]chan error

	fillerOnce sync.Once
	filler     string
	fillerSent chan struct{}
}

func NewBridge(logger zerolog.Logger, metrics *observability.Metrics) *Bridge {
	return &Bridge{
		logger:  logger.With().Str("component", "shell_bridge").Logger(),
		metrics: metrics,
		perms:   make(map[string]chan bool),
		plays:   make(map[string]chan error),
	}
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Serve runs the read loop for an upgraded shell connection until it
// closes or ctx ends.
func (b *Bridge) Serve(ctx context.Context, ws *websocket.Conn) error {
	c := &shellConn{ws: ws}

	b.mu.Lock()
	prev := b.conn
	b.conn = c
	if prev != nil {
		b.resetLocked()
	}
	b.mu.Unlock()

	if prev != nil {
		b.logger.Info().Msg("shell connection replaced")
		_ = prev.ws.Close()
	}
	b.metrics.CallEvent("shell_connected")
	defer b.detach(c)

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read shell message: %w", err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseShellMessage(data)
		if err != nil {
			b.logger.Warn().Err(err).Msg("invalid shell message")
			_ = b.write(c, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_shell_message",
				Detail: err.Error(),
			})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			b.metrics.WSMessage("inbound", string(t))
		}
		b.handle(parsed)
	}
}

func (b *Bridge) handle(msg any) {
	switch m := msg.(type) {
	case protocol.ShellHello:
		b.logger.Info().Str("device", m.Device).Str("platform", m.Platform).Msg("shell connected")
	case protocol.RecognizerEvent:
		b.deliverRecognizerEvent(m)
	case protocol.PermissionResult:
		b.mu.Lock()
		ch, ok := b.perms[m.RequestID]
		delete(b.perms, m.RequestID)
		if m.Granted {
			b.granted = true
		}
		b.mu.Unlock()
		if ok {
			ch <- m.Granted
		}
	case protocol.PlaybackDone:
		var err error
		if m.Error != "" {
			err = fmt.Errorf("shell playback: %s", m.Error)
		}
		b.mu.Lock()
		b.resolvePlayLocked(m.PlaybackID, err)
		b.mu.Unlock()
	}
}

func (b *Bridge) deliverRecognizerEvent(m protocol.RecognizerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.session
	if s == nil || s.id != m.SessionID {
		b.logger.Debug().Str("session_id", m.SessionID).Str("kind", m.Kind).Msg("dropping event for ended recognition session")
		return
	}
	ev := voice.RecognizerEvent{
		Kind:    voice.RecognizerEventKind(m.Kind),
		Text:    m.Text,
		Code:    m.Code,
		Message: m.Message,
	}
	select {
	case s.events <- ev:
	default:
		b.logger.Warn().Str("kind", m.Kind).Msg("recognizer event buffer full")
	}
	// The platform ends a recognition session after a final or an error.
	if ev.Kind == voice.RecognizerFinal || ev.Kind == voice.RecognizerError {
		b.endSessionLocked()
	}
}

func (b *Bridge) detach(c *shellConn) {
	b.mu.Lock()
	current := b.conn == c
	if current {
		b.conn = nil
		b.resetLocked()
	}
	b.mu.Unlock()
	_ = c.ws.Close()
	if current {
		b.metrics.CallEvent("shell_disconnected")
		b.logger.Info().Msg("shell disconnected")
	}
}

// resetLocked fails everything that waited on the shell.
func (b *Bridge) resetLocked() {
	b.granted = false
	for id, ch := range b.perms {
		delete(b.perms, id)
		ch <- false
	}
	for id := range b.plays {
		b.resolvePlayLocked(id, ErrNoShell)
	}
	if s := b.session; s != nil {
		select {
		case s.events <- voice.RecognizerEvent{Kind: voice.RecognizerError, Code: "shell_disconnected", Message: "phone shell disconnected"}:
		default:
		}
		b.endSessionLocked()
	}
}

func (b *Bridge) endSessionLocked() {
	if b.session != nil {
		close(b.session.events)
		b.session = nil
	}
}

func (b *Bridge) resolvePlayLocked(id string, err error) {
	ch, ok := b.plays[id]
	if !ok {
		return
	}
	delete(b.plays, id)
	ch <- err
}

func (b *Bridge) current() *shellConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *Bridge) send(v any) error {
	c := b.current()
	if c == nil {
		return ErrNoShell
	}
	return b.write(c, v)
}

func (b *Bridge) write(c *shellConn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("write shell message: %w", err)
	}
	if t, ok := protocol.TypeOf(v); ok {
		b.metrics.WSMessage("outbound", string(t))
	}
	return nil
}

func (b *Bridge) sendBestEffort(v any) {
	if err := b.send(v); err != nil && !errors.Is(err, ErrNoShell) {
		b.logger.Debug().Err(err).Msg("shell message not delivered")
	}
}

// Recognizer returns the shell's speech recognizer.
func (b *Bridge) Recognizer() *Recognizer { return &Recognizer{b: b} }

// Output returns the shell's audio output.
func (b *Bridge) Output() *Output { return &Output{b: b} }

type Recognizer struct{ b *Bridge }

// RequestPermission asks the shell for microphone and recognition access.
// A grant is remembered for the lifetime of the connection. Without a shell
// permission is simply denied.
func (r *Recognizer) RequestPermission(ctx context.Context) (bool, error) {
	b := r.b
	id := uuid.NewString()
	ch := make(chan bool, 1)

	b.mu.Lock()
	c := b.conn
	if c == nil {
		b.mu.Unlock()
		return false, nil
	}
	if b.granted {
		b.mu.Unlock()
		return true, nil
	}
	b.perms[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.perms, id)
		b.mu.Unlock()
	}()

	if err := b.write(c, protocol.PermissionRequest{Type: protocol.TypePermissionRequest, RequestID: id}); err != nil {
		return false, err
	}
	timer := time.NewTimer(permissionTimeout)
	defer timer.Stop()
	select {
	case granted := <-ch:
		return granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, errors.New("shell did not answer permission request")
	}
}

func (r *Recognizer) Start(_ context.Context, locale string) (<-chan voice.RecognizerEvent, error) {
	b := r.b
	b.mu.Lock()
	c := b.conn
	if c == nil {
		b.mu.Unlock()
		return nil, ErrNoShell
	}
	b.endSessionLocked()
	s := &recognitionSession{id: uuid.NewString(), events: make(chan voice.RecognizerEvent, sessionBuffer)}
	b.session = s
	b.mu.Unlock()

	err := b.write(c, protocol.RecognizerStart{Type: protocol.TypeRecognizerStart, SessionID: s.id, Locale: locale})
	if err != nil {
		b.mu.Lock()
		if b.session == s {
			b.endSessionLocked()
		}
		b.mu.Unlock()
		return nil, err
	}
	return s.events, nil
}

func (r *Recognizer) Stop() {
	b := r.b
	b.mu.Lock()
	s := b.session
	b.endSessionLocked()
	b.mu.Unlock()
	if s != nil {
		b.sendBestEffort(protocol.RecognizerStop{Type: protocol.TypeRecognizerStop, SessionID: s.id})
	}
}

func (r *Recognizer) SetFeedbackMuted(muted bool) {
	r.b.sendBestEffort(protocol.FeedbackMute{Type: protocol.TypeFeedbackMute, Muted: muted})
}

type Output struct{ b *Bridge }

// Play hands clip to the shell and waits for its playback_done.
func (o *Output) Play(ctx context.Context, clip []byte) error {
	if len(clip) == 0 {
		return nil
	}
	b := o.b
	id := uuid.NewString()
	ch := make(chan error, 1)

	b.mu.Lock()
	c := b.conn
	if c == nil {
		b.mu.Unlock()
		return ErrNoShell
	}
	b.plays[id] = ch
	pendingFiller := b.fillerSent
	b.mu.Unlock()

	// The reply must reach the shell after the filler that preceded it.
	if pendingFiller != nil {
		select {
		case <-pendingFiller:
		case <-ctx.Done():
			b.mu.Lock()
			delete(b.plays, id)
			b.mu.Unlock()
			return ctx.Err()
		}
	}

	format := string(audio.Sniff(clip))
	if format == "" {
		format = string(audio.FormatMP3)
	}
	err := b.write(c, protocol.PlayAudio{
		Type:        protocol.TypePlayAudio,
		PlaybackID:  id,
		Format:      format,
		AudioBase64: base64.StdEncoding.EncodeToString(clip),
	})
	if err != nil {
		b.mu.Lock()
		delete(b.plays, id)
		b.mu.Unlock()
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		o.Stop()
		return ctx.Err()
	}
}

// Stop silences the shell and releases every waiting Play.
func (o *Output) Stop() {
	b := o.b
	b.mu.Lock()
	for id := range b.plays {
		b.resolvePlayLocked(id, nil)
	}
	b.mu.Unlock()
	b.sendBestEffort(protocol.StopAudio{Type: protocol.TypeStopAudio})
}

func (o *Output) StartRingtone(r audio.Ringtone) error {
	wav, err := audio.EncodeWAVPCM16LE(audio.RingtonePCM(r, audio.SampleRate), audio.SampleRate)
	if err != nil {
		return err
	}
	return o.b.send(protocol.PlayRingtone{
		Type:        protocol.TypePlayRingtone,
		Ringtone:    string(r),
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
	})
}

func (o *Output) StopRingtone() {
	o.b.sendBestEffort(protocol.StopRingtone{Type: protocol.TypeStopRingtone})
}

// PlayFiller queues the thinking blip and returns without waiting for the
// websocket write.
func (o *Output) PlayFiller() {
	b := o.b
	sent := make(chan struct{})
	b.mu.Lock()
	b.fillerSent = sent
	b.mu.Unlock()

	go func() {
		defer close(sent)
		b.fillerOnce.Do(func() {
			wav, err := audio.EncodeWAVPCM16LE(audio.FillerPCM(audio.SampleRate), audio.SampleRate)
			if err == nil {
				b.filler = base64.StdEncoding.EncodeToString(wav)
			}
		})
		b.sendBestEffort(protocol.PlayFiller{Type: protocol.TypePlayFiller, AudioBase64: b.filler})
	}()
}

func (o *Output) SetSpeakerRouting(enabled bool) {
	o.b.sendBestEffort(protocol.SpeakerRoute{Type: protocol.TypeSpeakerRoute, Speaker: enabled})
}
