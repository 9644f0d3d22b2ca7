package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/config"
	"github.com/ent0n29/coolphone/internal/shell"
	"github.com/ent0n29/coolphone/internal/voice"
)

func TestResolveBackends(t *testing.T) {
	bridge := shell.NewBridge(zerolog.Nop(), nil)
	consoleInput = strings.NewReader("")

	setup, err := resolveBackends(config.Config{AudioBackend: "shell", RecognizerBackend: "console"}, bridge, zerolog.Nop())
	if err != nil {
		t.Fatalf("resolveBackends() error = %v", err)
	}
	if _, ok := setup.output.(*shell.Output); !ok {
		t.Fatalf("output = %T, want *shell.Output", setup.output)
	}
	if _, ok := setup.recognizer.(*voice.ConsoleRecognizer); !ok {
		t.Fatalf("recognizer = %T, want *voice.ConsoleRecognizer", setup.recognizer)
	}
	if setup.detail != "audio=shell recognizer=console" {
		t.Fatalf("detail = %q", setup.detail)
	}

	setup, err = resolveBackends(config.Config{AudioBackend: "mock", RecognizerBackend: "mock"}, bridge, zerolog.Nop())
	if err != nil {
		t.Fatalf("resolveBackends() error = %v", err)
	}
	if _, ok := setup.output.(*voice.MockOutput); !ok {
		t.Fatalf("output = %T, want *voice.MockOutput", setup.output)
	}

	if _, err := resolveBackends(config.Config{AudioBackend: "bluetooth"}, bridge, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unknown audio backend")
	}
	if _, err := resolveBackends(config.Config{RecognizerBackend: "whisper"}, bridge, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unknown recognizer backend")
	}
}

func TestBuildMockStack(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:  "test_app_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"),
		ServiceMode:       "mock",
		AudioBackend:      "mock",
		RecognizerBackend: "mock",
		STTLocale:         "zh-CN",
		CallDefaultDelay:  10 * time.Second,
	}
	res, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if res.Backends.Service != "mock" {
		t.Fatalf("service = %q, want mock", res.Backends.Service)
	}
	if got := res.Settings.Get().DelaySeconds; got != 10 {
		t.Fatalf("DelaySeconds = %d, want 10", got)
	}
	if err := res.Controller.Ring(context.Background()); err != nil {
		t.Fatalf("Ring() error = %v", err)
	}
	if _, err := res.Controller.Answer(context.Background()); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !res.Store.Snapshot().Active {
		t.Fatalf("call not active after Answer")
	}
}

func TestBuildRejectsUnknownServiceMode(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace: "test_app_bad_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"),
		ServiceMode:      "openai",
	}
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("Build() expected error for unknown service mode")
	}
}
