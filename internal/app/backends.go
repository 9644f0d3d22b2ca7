package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/audio/speaker"
	"github.com/ent0n29/coolphone/internal/config"
	"github.com/ent0n29/coolphone/internal/shell"
	"github.com/ent0n29/coolphone/internal/voice"
)

var _ voice.AudioOutput = (*speaker.Output)(nil)

type backendSetup struct {
	recognizer voice.Recognizer
	output     voice.AudioOutput
	detail     string
}

// consoleInput is swapped by tests.
var consoleInput io.Reader = os.Stdin

func resolveBackends(cfg config.Config, bridge *shell.Bridge, logger zerolog.Logger) (backendSetup, error) {
	var (
		setup  backendSetup
		detail []string
	)

	switch mode := strings.ToLower(strings.TrimSpace(cfg.AudioBackend)); mode {
	case "", "shell":
		setup.output = bridge.Output()
		detail = append(detail, "audio=shell")
	case "speaker":
		out, err := speaker.NewOutput(cfg.RingtonePath, logger)
		if err != nil {
			// Headless hosts have no sound device; keep serving over the shell.
			logger.Warn().Err(err).Msg("local speaker unavailable, falling back to shell audio")
			setup.output = bridge.Output()
			detail = append(detail, "audio=shell (speaker unavailable)")
			break
		}
		setup.output = out
		detail = append(detail, "audio=speaker")
	case "mock":
		setup.output = voice.NewMockOutput()
		detail = append(detail, "audio=mock")
	default:
		return backendSetup{}, fmt.Errorf("invalid AUDIO_BACKEND: %q (expected shell|speaker|mock)", cfg.AudioBackend)
	}

	switch mode := strings.ToLower(strings.TrimSpace(cfg.RecognizerBackend)); mode {
	case "", "shell":
		setup.recognizer = bridge.Recognizer()
		detail = append(detail, "recognizer=shell")
	case "console":
		setup.recognizer = voice.NewConsoleRecognizer(consoleInput)
		detail = append(detail, "recognizer=console")
	case "mock":
		setup.recognizer = voice.NewMockRecognizer()
		detail = append(detail, "recognizer=mock")
	default:
		return backendSetup{}, fmt.Errorf("invalid RECOGNIZER_BACKEND: %q (expected shell|console|mock)", cfg.RecognizerBackend)
	}

	setup.detail = strings.Join(detail, " ")
	return setup, nil
}
