package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/coolphone/internal/audio"
	"github.com/ent0n29/coolphone/internal/protocol"
)

type options struct {
	baseURL      string
	scenario     string
	turns        int
	partialEvery time.Duration
	partialRunes int
	realtime     float64
	fallbackClip time.Duration
	turnTimeout  time.Duration
	texts        []string
	verbose      bool
}

// shellEvent is something the simulated phone observed from the core.
type shellEvent struct {
	kind      protocol.MessageType
	sessionID string
	at        time.Time
}

var defaultUtterances = []string{
	"喂，我现在在开会",
	"什么事这么急啊",
	"好的我马上过去",
	"那你先等我一下",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var partialMS, turnTimeoutMS, fallbackMS int

	fs := flag.NewFlagSet("callsim", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "coolphone base URL")
	fs.StringVar(&cfg.scenario, "scenario", "", "scenario id to set before ringing (optional)")
	fs.IntVar(&cfg.turns, "turns", 4, "number of user turns to simulate")
	fs.IntVar(&partialMS, "partial-ms", 120, "interval between partial transcripts in milliseconds")
	fs.IntVar(&cfg.partialRunes, "partial-runes", 3, "characters revealed per partial transcript")
	fs.Float64Var(&cfg.realtime, "realtime", 4.0, "playback speed multiplier for acknowledging audio (1.0=realtime)")
	fs.IntVar(&fallbackMS, "fallback-clip-ms", 300, "playback time assumed for clips that cannot be decoded")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for each reply in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print simulation progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.partialRunes <= 0 {
		return options{}, fmt.Errorf("partial-runes must be > 0")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if partialMS < 10 {
		partialMS = 10
	}
	if fallbackMS < 0 {
		fallbackMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.partialEvery = time.Duration(partialMS) * time.Millisecond
	cfg.fallbackClip = time.Duration(fallbackMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if cfg.scenario != "" {
		if err := callAPI(ctx, httpClient, http.MethodPut, cfg.baseURL+"/v1/settings", map[string]any{"scenario": cfg.scenario}); err != nil {
			return fmt.Errorf("set scenario: %w", err)
		}
	}

	wsURL, err := websocketURL(cfg.baseURL, "/v1/shell/ws")
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open shell websocket: %w", err)
	}
	defer conn.Close()

	sim := &shell{conn: conn, cfg: cfg, events: make(chan shellEvent, 256), readErr: make(chan error, 1)}
	if err := sim.send(protocol.ShellHello{Type: protocol.TypeShellHello, Device: "callsim", Platform: "simulator"}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	go sim.readLoop()

	if err := callAPI(ctx, httpClient, http.MethodPost, cfg.baseURL+"/v1/call/ring", nil); err != nil {
		return fmt.Errorf("ring: %w", err)
	}
	if err := callAPI(ctx, httpClient, http.MethodPost, cfg.baseURL+"/v1/call/answer", nil); err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	defer func() {
		_ = callAPI(context.Background(), httpClient, http.MethodPost, cfg.baseURL+"/v1/call/hangup", nil)
	}()

	answeredAt := time.Now()
	greeting, err := sim.await(protocol.TypePlayAudio, cfg.turnTimeout)
	if err != nil {
		return fmt.Errorf("await greeting: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("callsim: greeting after %s\n", greeting.at.Sub(answeredAt).Round(time.Millisecond))
	}

	latencies := make([]time.Duration, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		listen, err := sim.await(protocol.TypeRecognizerStart, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await listening: %w", i+1, err)
		}

		text := cfg.texts[i%len(cfg.texts)]
		lastPartial, err := sim.speak(listen.sessionID, text)
		if err != nil {
			return fmt.Errorf("turn %d speak: %w", i+1, err)
		}

		reply, err := sim.await(protocol.TypePlayAudio, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		latency := reply.at.Sub(lastPartial)
		latencies = append(latencies, latency)
		if cfg.verbose {
			fmt.Printf("callsim: turn %d/%d text=%q reply_after_last_partial=%s\n", i+1, cfg.turns, text, latency.Round(time.Millisecond))
		}
	}

	p50, p95, mean := summarize(latencies)
	fmt.Printf("callsim: turns=%d p50=%s p95=%s mean=%s\n", len(latencies), p50.Round(time.Millisecond), p95.Round(time.Millisecond), mean.Round(time.Millisecond))
	return nil
}

// shell plays the phone side of the bridge protocol.
type shell struct {
	conn    *websocket.Conn
	cfg     options
	writeMu sync.Mutex
	events  chan shellEvent
	readErr chan error
}

func (s *shell) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *shell) emit(ev shellEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *shell) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.readErr <- err:
			default:
			}
			return
		}
		s.handle(data, time.Now())
	}
}

func (s *shell) handle(data []byte, at time.Time) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch env.Type {
	case protocol.TypePermissionRequest:
		var req protocol.PermissionRequest
		if json.Unmarshal(data, &req) == nil {
			_ = s.send(protocol.PermissionResult{Type: protocol.TypePermissionResult, RequestID: req.RequestID, Granted: true})
		}
	case protocol.TypeRecognizerStart:
		var start protocol.RecognizerStart
		if json.Unmarshal(data, &start) != nil {
			return
		}
		_ = s.send(protocol.RecognizerEvent{Type: protocol.TypeRecognizerEvent, SessionID: start.SessionID, Kind: "ready"})
		s.emit(shellEvent{kind: env.Type, sessionID: start.SessionID, at: at})
	case protocol.TypePlayAudio:
		var play protocol.PlayAudio
		if json.Unmarshal(data, &play) != nil {
			return
		}
		s.emit(shellEvent{kind: env.Type, at: at})
		wait := s.playbackTime(play.AudioBase64)
		time.AfterFunc(wait, func() {
			_ = s.send(protocol.PlaybackDone{Type: protocol.TypePlaybackDone, PlaybackID: play.PlaybackID})
		})
	default:
		if s.cfg.verbose {
			fmt.Printf("callsim: %s\n", env.Type)
		}
	}
}

// playbackTime is how long the simulated phone pretends the clip plays.
func (s *shell) playbackTime(b64 string) time.Duration {
	clip, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return s.cfg.fallbackClip
	}
	d, err := audio.Duration(clip)
	if err != nil || d <= 0 {
		return s.cfg.fallbackClip
	}
	return time.Duration(float64(d) / s.cfg.realtime)
}

func (s *shell) await(kind protocol.MessageType, timeout time.Duration) (shellEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-s.events:
			if ev.kind == kind {
				return ev, nil
			}
		case err := <-s.readErr:
			return shellEvent{}, err
		case <-timer.C:
			return shellEvent{}, fmt.Errorf("timeout after %s waiting for %s", timeout, kind)
		}
	}
}

// speak streams text as growing partial transcripts and returns when the
// last one was sent. The core's silence timer closes the utterance.
func (s *shell) speak(sessionID, text string) (time.Time, error) {
	var last time.Time
	for i, partial := range splitPartials(text, s.cfg.partialRunes) {
		if i > 0 {
			time.Sleep(s.cfg.partialEvery)
		}
		if err := s.send(protocol.RecognizerEvent{
			Type:      protocol.TypeRecognizerEvent,
			SessionID: sessionID,
			Kind:      "partial",
			Text:      partial,
		}); err != nil {
			return time.Time{}, err
		}
		last = time.Now()
	}
	return last, nil
}

// splitPartials returns the growing prefixes a recognizer would report.
func splitPartials(text string, step int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if step <= 0 {
		step = 1
	}
	out := make([]string, 0, len(runes)/step+1)
	for end := step; end < len(runes); end += step {
		out = append(out, string(runes[:end]))
	}
	return append(out, string(runes))
}

func summarize(samples []time.Duration) (p50, p95, mean time.Duration) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	at := func(q float64) time.Duration {
		idx := int(q*float64(len(sorted)-1) + 0.5)
		return sorted[idx]
	}
	return at(0.50), at(0.95), total / time.Duration(len(sorted))
}

func callAPI(ctx context.Context, client *http.Client, method, endpoint string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

func websocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
