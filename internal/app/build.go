package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/call"
	"github.com/ent0n29/coolphone/internal/config"
	"github.com/ent0n29/coolphone/internal/httpapi"
	"github.com/ent0n29/coolphone/internal/minimax"
	"github.com/ent0n29/coolphone/internal/observability"
	"github.com/ent0n29/coolphone/internal/session"
	"github.com/ent0n29/coolphone/internal/shell"
	"github.com/ent0n29/coolphone/internal/voice"
)

type BackendInfo struct {
	Service string
	Detail  string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Store        *session.Store
	Orchestrator *voice.Orchestrator
	Controller   *call.Controller
	Settings     *call.SettingsStore
	Bridge       *shell.Bridge
	Metrics      *observability.Metrics
	Backends     BackendInfo

	// Cleanup ends any live call and silences the outputs.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	backend, err := minimax.NewBackend(minimax.Config{
		Mode:         cfg.ServiceMode,
		APIKey:       cfg.MiniMaxAPIKey,
		GroupID:      cfg.MiniMaxGroupID,
		BaseURL:      cfg.MiniMaxBaseURL,
		ChatModel:    cfg.MiniMaxChatModel,
		TTSModel:     cfg.MiniMaxTTSModel,
		DefaultVoice: cfg.MiniMaxDefaultVoice,
		Temperature:  cfg.MiniMaxTemperature,
		MaxTokens:    cfg.MiniMaxMaxTokens,
		TopP:         cfg.MiniMaxTopP,
		HTTPTimeout:  cfg.MiniMaxHTTPTimeout,
	}, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("conversation service init failed: %w", err)
	}
	serviceName := "minimax"
	if _, ok := backend.(*minimax.MockClient); ok {
		serviceName = "mock"
	}

	bridge := shell.NewBridge(logger, metrics)
	backends, err := resolveBackends(cfg, bridge, logger)
	if err != nil {
		return nil, err
	}

	store := session.NewStore()
	orchestrator := voice.NewOrchestrator(store, backend, backends.recognizer, backends.output, voice.OrchestratorConfig{
		Locale:              cfg.STTLocale,
		MaxRestarts:         cfg.STTMaxRestarts,
		SilenceTimeout:      cfg.SilenceTimeout,
		SilencePollInterval: cfg.SilencePollInterval,
	}, logger, metrics)

	settings := call.NewSettingsStore(call.DefaultSettings(cfg.CallDefaultDelay))
	controller := call.NewController(store, orchestrator, backends.output, settings, logger, metrics)

	api := httpapi.New(cfg, httpapi.Deps{
		Store:        store,
		Calls:        controller,
		Conversation: orchestrator,
		Settings:     settings,
		Cloner:       backend,
		Shell:        bridge,
		Metrics:      metrics,
		Logger:       logger,
	})

	cleanup := func() error {
		controller.Close()
		orchestrator.Close()
		backends.output.StopRingtone()
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Store:        store,
		Orchestrator: orchestrator,
		Controller:   controller,
		Settings:     settings,
		Bridge:       bridge,
		Metrics:      metrics,
		Backends: BackendInfo{
			Service: serviceName,
			Detail:  backends.detail,
		},
		Cleanup: cleanup,
	}, nil
}
