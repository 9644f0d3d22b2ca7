package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/call"
	"github.com/ent0n29/coolphone/internal/config"
	"github.com/ent0n29/coolphone/internal/minimax"
	"github.com/ent0n29/coolphone/internal/observability"
	"github.com/ent0n29/coolphone/internal/session"
	"github.com/ent0n29/coolphone/internal/shell"
	"github.com/ent0n29/coolphone/internal/voice"
)

type testServer struct {
	url      string
	store    *session.Store
	settings *call.SettingsStore
	output   *voice.MockOutput
}

type forbiddenCloner struct{}

func (forbiddenCloner) CreateVoice(context.Context, string, []byte) (string, error) {
	return "", minimax.ErrCloneForbidden
}

func newTestServer(t *testing.T, cfg config.Config, cloner minimax.VoiceCloner, metrics *observability.Metrics) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	store := session.NewStore()
	output := voice.NewMockOutput()
	orch := voice.NewOrchestrator(store, minimax.NewMockClient(), voice.NewMockRecognizer(), output, voice.OrchestratorConfig{
		Locale:              "zh-CN",
		SilenceTimeout:      time.Hour,
		SilencePollInterval: 10 * time.Millisecond,
	}, logger, metrics)
	settings := call.NewSettingsStore(call.DefaultSettings(0))
	controller := call.NewController(store, orch, output, settings, logger, metrics)
	bridge := shell.NewBridge(logger, metrics)

	srv := New(cfg, Deps{
		Store:        store,
		Calls:        controller,
		Conversation: orch,
		Settings:     settings,
		Cloner:       cloner,
		Shell:        bridge,
		Metrics:      metrics,
		Logger:       logger,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		controller.Close()
		orch.Close()
		ts.Close()
	})
	return &testServer{url: ts.URL, store: store, settings: settings, output: output}
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return res.StatusCode
}

func TestReadyWaitsForShell(t *testing.T) {
	ts := newTestServer(t, config.Config{AudioBackend: "shell", RecognizerBackend: "shell"}, nil, nil)
	if status := doJSON(t, http.MethodGet, ts.url+"/readyz", nil, nil); status != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want %d", status, http.StatusServiceUnavailable)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/v1/shell/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		var payload map[string]any
		status := doJSON(t, http.MethodGet, ts.url+"/readyz", nil, &payload)
		if status == http.StatusOK && payload["shell_connected"] == true {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("readyz never became ready: %d %+v", status, payload)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var health map[string]any
	if status := doJSON(t, http.MethodGet, ts.url+"/healthz", nil, &health); status != http.StatusOK {
		t.Fatalf("healthz status = %d", status)
	}
	if health["audio_backend"] != "shell" {
		t.Fatalf("healthz = %+v", health)
	}
}

func TestReadyWithoutShellBackends(t *testing.T) {
	ts := newTestServer(t, config.Config{AudioBackend: "mock", RecognizerBackend: "mock"}, nil, nil)
	if status := doJSON(t, http.MethodGet, ts.url+"/readyz", nil, nil); status != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", status, http.StatusOK)
	}
}

func TestScenarioCatalogue(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil, nil)
	var payload struct {
		Scenarios []struct {
			ID    string `json:"id"`
			Voice string `json:"voice"`
		} `json:"scenarios"`
		Default string `json:"default_voice_id"`
	}
	if status := doJSON(t, http.MethodGet, ts.url+"/v1/scenarios", nil, &payload); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(payload.Scenarios) != 17 || payload.Default == "" {
		t.Fatalf("scenarios = %d, default = %q", len(payload.Scenarios), payload.Default)
	}
}

func TestSettingsPatch(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil, nil)

	var got call.Settings
	if status := doJSON(t, http.MethodGet, ts.url+"/v1/settings", nil, &got); status != http.StatusOK {
		t.Fatalf("GET status = %d", status)
	}
	if got.CallerName != "王铁柱" || got.Scenario != "urgent" {
		t.Fatalf("default settings = %+v", got)
	}

	status := doJSON(t, http.MethodPut, ts.url+"/v1/settings", map[string]any{
		"scenario":    "Work",
		"caller_name": "老板",
		"ringtone":    "digital",
	}, &got)
	if status != http.StatusOK {
		t.Fatalf("PUT status = %d", status)
	}
	if got.Scenario != "work" || got.CallerName != "老板" || got.Ringtone != "digital" || got.CallerNumber != "138 8888 8888" {
		t.Fatalf("patched settings = %+v", got)
	}

	var apiErr errorResponse
	status = doJSON(t, http.MethodPut, ts.url+"/v1/settings", map[string]any{"ringtone": "jazz"}, &apiErr)
	if status != http.StatusBadRequest || apiErr.Code != "invalid_settings" {
		t.Fatalf("invalid PUT = %d %+v", status, apiErr)
	}
	if ts.settings.Get().Ringtone != "digital" {
		t.Fatalf("invalid PUT changed settings: %+v", ts.settings.Get())
	}
}

func TestCallLifecycle(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil, nil)

	var st session.State
	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/ring", nil, &st); status != http.StatusOK {
		t.Fatalf("ring status = %d", status)
	}
	if st.Phase != session.PhaseIncoming {
		t.Fatalf("phase after ring = %s", st.Phase)
	}
	if ringing, _ := ts.output.Ringing(); !ringing {
		t.Fatalf("ringtone not started")
	}

	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/answer", nil, &st); status != http.StatusOK {
		t.Fatalf("answer status = %d", status)
	}
	if st.Phase != session.PhaseActive || !st.Active {
		t.Fatalf("state after answer = %+v", st)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var view callResponse
		doJSON(t, http.MethodGet, ts.url+"/v1/call", nil, &view)
		if len(view.History) >= 2 && view.State.Listening {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("greeting never completed: %+v", view)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/speaker", map[string]any{"enabled": true}, &st); status != http.StatusOK {
		t.Fatalf("speaker status = %d", status)
	}
	if !st.SpeakerOn || !ts.output.SpeakerOn() {
		t.Fatalf("speaker not routed: %+v", st)
	}

	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/hangup", nil, &st); status != http.StatusOK {
		t.Fatalf("hangup status = %d", status)
	}
	if st.Phase != session.PhaseIdle || st.Active || st.Listening || st.Processing {
		t.Fatalf("state after hangup = %+v", st)
	}

	var apiErr errorResponse
	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/hangup", nil, &apiErr); status != http.StatusConflict || apiErr.Code != "invalid_transition" {
		t.Fatalf("second hangup = %d %+v", status, apiErr)
	}
	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/resume", nil, &apiErr); status != http.StatusConflict || apiErr.Code != "call_inactive" {
		t.Fatalf("resume without call = %d %+v", status, apiErr)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil, nil)

	var view scheduleView
	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/schedule", map[string]any{"delay_seconds": 3600}, &view); status != http.StatusAccepted {
		t.Fatalf("schedule status = %d", status)
	}
	if !view.Pending || view.FireAt == nil || time.Until(*view.FireAt) < 59*time.Minute {
		t.Fatalf("schedule view = %+v", view)
	}

	var cancelled map[string]bool
	doJSON(t, http.MethodDelete, ts.url+"/v1/call/schedule", nil, &cancelled)
	if !cancelled["cancelled"] {
		t.Fatalf("DELETE schedule = %+v", cancelled)
	}

	var apiErr errorResponse
	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/schedule", map[string]any{"delay_seconds": -5}, &apiErr); status != http.StatusBadRequest {
		t.Fatalf("negative delay status = %d", status)
	}
}

func postRaw(t *testing.T, url, body string) (int, errorResponse) {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	var apiErr errorResponse
	_ = json.NewDecoder(res.Body).Decode(&apiErr)
	return res.StatusCode, apiErr
}

func TestTruncatedBodiesAreRejected(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil, nil)

	status, apiErr := postRaw(t, ts.url+"/v1/call/schedule", `{"delay_seconds": 3600`)
	if status != http.StatusBadRequest || apiErr.Code != "invalid_request" {
		t.Fatalf("truncated schedule = %d %+v", status, apiErr)
	}
	var view callResponse
	doJSON(t, http.MethodGet, ts.url+"/v1/call", nil, &view)
	if view.Schedule.Pending {
		t.Fatalf("truncated schedule request still scheduled a call: %+v", view.Schedule)
	}

	before := ts.store.Snapshot().SpeakerOn
	status, apiErr = postRaw(t, ts.url+"/v1/call/speaker", `{"enabled": false`)
	if status != http.StatusBadRequest || apiErr.Code != "invalid_request" {
		t.Fatalf("truncated speaker = %d %+v", status, apiErr)
	}
	if got := ts.store.Snapshot().SpeakerOn; got != before {
		t.Fatalf("speaker toggled by a rejected request: %v -> %v", before, got)
	}
}

func TestDecodeJSONEmptyVersusTruncated(t *testing.T) {
	var out map[string]any
	empty := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := decodeJSON(empty, &out); !errors.Is(err, errEmptyBody) {
		t.Fatalf("decodeJSON(empty) error = %v, want errEmptyBody", err)
	}
	truncated := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"enabled": false`))
	err := decodeJSON(truncated, &out)
	if err == nil || errors.Is(err, errEmptyBody) {
		t.Fatalf("decodeJSON(truncated) error = %v, want a decode error", err)
	}
}

func TestCallEventsFeed(t *testing.T) {
	ts := newTestServer(t, config.Config{}, nil, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/v1/call/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return msg
	}

	first := read()
	if first["type"] != "call_state" {
		t.Fatalf("first message = %+v", first)
	}

	if status := doJSON(t, http.MethodPost, ts.url+"/v1/call/ring", nil, nil); status != http.StatusOK {
		t.Fatalf("ring status = %d", status)
	}
	for {
		msg := read()
		state, _ := msg["state"].(map[string]any)
		if state["phase"] == "incoming" {
			return
		}
	}
}

func multipartSample(t *testing.T, apply bool) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "me.m4a")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	_, _ = fw.Write([]byte("fake audio sample"))
	if apply {
		_ = mw.WriteField("apply", "true")
	}
	_ = mw.Close()
	return &body, mw.FormDataContentType()
}

func TestCloneVoice(t *testing.T) {
	ts := newTestServer(t, config.Config{}, minimax.NewMockClient(), nil)

	body, contentType := multipartSample(t, true)
	res, err := http.Post(ts.url+"/v1/voices/clone", contentType, body)
	if err != nil {
		t.Fatalf("POST clone error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("clone status = %d", res.StatusCode)
	}
	var out cloneVoiceResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode clone response: %v", err)
	}
	if !strings.HasPrefix(out.VoiceID, "MockVoice") || !out.Applied {
		t.Fatalf("clone response = %+v", out)
	}
	if ts.settings.Get().CustomVoiceID != out.VoiceID {
		t.Fatalf("custom voice not applied: %+v", ts.settings.Get())
	}
}

func TestCloneVoiceForbidden(t *testing.T) {
	ts := newTestServer(t, config.Config{}, forbiddenCloner{}, nil)

	body, contentType := multipartSample(t, false)
	res, err := http.Post(ts.url+"/v1/voices/clone", contentType, body)
	if err != nil {
		t.Fatalf("POST clone error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("clone status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestPerfLatency(t *testing.T) {
	metrics := observability.NewMetrics("test_httpapi_perf_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	metrics.ObserveTurn(observability.TurnTiming{
		CallID: "call-1",
		Turn:   2,
		Source: observability.DispatchSilence,
		Reply:  120 * time.Millisecond,
		Total:  400 * time.Millisecond,
	})
	ts := newTestServer(t, config.Config{}, nil, metrics)

	var snap observability.LatencyReport
	if status := doJSON(t, http.MethodGet, ts.url+"/v1/perf/latency", nil, &snap); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if snap.Turns != 1 || len(snap.Stages) == 0 || len(snap.Recent) != 1 {
		t.Fatalf("report = %+v", snap)
	}
	if snap.Recent[0].ReplyMS != 120 || snap.Recent[0].Source != observability.DispatchSilence {
		t.Fatalf("recent turn = %+v", snap.Recent[0])
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.url+"/v1/perf/latency", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	res.Body.Close()
	doJSON(t, http.MethodGet, ts.url+"/v1/perf/latency", nil, &snap)
	if len(snap.Stages) != 0 {
		t.Fatalf("stages after reset = %+v", snap.Stages)
	}
}

func TestRespondCallErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{call.ErrInvalidTransition, http.StatusConflict},
		{voice.ErrTurnInProgress, http.StatusConflict},
		{minimax.ErrCloneForbidden, http.StatusForbidden},
		{fmt.Errorf("start call: %w: custom scenario needs a description", voice.ErrInvalidCall), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		respondCallError(rec, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("respondCallError(%v) = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}
