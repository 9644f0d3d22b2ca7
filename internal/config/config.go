package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the call daemon.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	ServiceMode string

	MiniMaxAPIKey       string
	MiniMaxGroupID      string
	MiniMaxBaseURL      string
	MiniMaxChatModel    string
	MiniMaxTTSModel     string
	MiniMaxDefaultVoice string
	MiniMaxHTTPTimeout  time.Duration
	MiniMaxTemperature  float64
	MiniMaxMaxTokens    int
	MiniMaxTopP         float64

	AudioBackend      string
	RecognizerBackend string
	RingtonePath      string

	STTLocale      string
	STTMaxRestarts int

	SilenceTimeout      time.Duration
	SilencePollInterval time.Duration

	CallDefaultDelay time.Duration
}

// Load reads environment variables and applies safe defaults.
// A .env file in the working directory is applied first; variables already
// present in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "coolphone"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ServiceMode:      envOrDefault("SERVICE_MODE", "auto"),
		MiniMaxAPIKey:    stringsTrimSpace("MINIMAX_API_KEY"),
		MiniMaxGroupID:   stringsTrimSpace("MINIMAX_GROUP_ID"),
		MiniMaxBaseURL:   envOrDefault("MINIMAX_BASE_URL", "https://api.minimaxi.com"),
		MiniMaxChatModel: envOrDefault("MINIMAX_CHAT_MODEL", "M2-her"),
		// HD model; turbo variants trade realism for latency.
		MiniMaxTTSModel:     envOrDefault("MINIMAX_TTS_MODEL", "speech-01-hd"),
		MiniMaxDefaultVoice: envOrDefault("MINIMAX_DEFAULT_VOICE", "female-tianmei"),
		MiniMaxHTTPTimeout:  30 * time.Second,
		MiniMaxTemperature:  0.7,
		MiniMaxMaxTokens:    100,
		MiniMaxTopP:         0.95,
		AudioBackend:        envOrDefault("AUDIO_BACKEND", "shell"),
		RecognizerBackend:   envOrDefault("RECOGNIZER_BACKEND", "shell"),
		RingtonePath:        stringsTrimSpace("RINGTONE_PATH"),
		STTLocale:           envOrDefault("STT_LOCALE", "zh-CN"),
		STTMaxRestarts:      20,
		ShutdownTimeout:     15 * time.Second,
		SilenceTimeout:      800 * time.Millisecond,
		SilencePollInterval: 100 * time.Millisecond,
		CallDefaultDelay:    0,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MiniMaxHTTPTimeout, err = durationFromEnv("MINIMAX_HTTP_TIMEOUT", cfg.MiniMaxHTTPTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MiniMaxTemperature, err = floatFromEnv("MINIMAX_TEMPERATURE", cfg.MiniMaxTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.MiniMaxMaxTokens, err = intFromEnv("MINIMAX_MAX_TOKENS", cfg.MiniMaxMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.MiniMaxTopP, err = floatFromEnv("MINIMAX_TOP_P", cfg.MiniMaxTopP)
	if err != nil {
		return Config{}, err
	}
	cfg.STTMaxRestarts, err = intFromEnv("STT_MAX_RESTARTS", cfg.STTMaxRestarts)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceTimeout, err = durationFromEnv("SILENCE_TIMEOUT", cfg.SilenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SilencePollInterval, err = durationFromEnv("SILENCE_POLL_INTERVAL", cfg.SilencePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CallDefaultDelay, err = durationFromEnv("CALL_DEFAULT_DELAY", cfg.CallDefaultDelay)
	if err != nil {
		return Config{}, err
	}

	cfg.ServiceMode = strings.ToLower(cfg.ServiceMode)
	cfg.AudioBackend = strings.ToLower(cfg.AudioBackend)
	cfg.RecognizerBackend = strings.ToLower(cfg.RecognizerBackend)

	switch cfg.ServiceMode {
	case "auto", "minimax", "mock":
	default:
		return Config{}, fmt.Errorf("SERVICE_MODE must be one of auto, minimax, mock")
	}
	switch cfg.AudioBackend {
	case "shell", "speaker", "mock":
	default:
		return Config{}, fmt.Errorf("AUDIO_BACKEND must be one of shell, speaker, mock")
	}
	switch cfg.RecognizerBackend {
	case "shell", "console", "mock":
	default:
		return Config{}, fmt.Errorf("RECOGNIZER_BACKEND must be one of shell, console, mock")
	}
	if cfg.ServiceMode == "minimax" && (cfg.MiniMaxAPIKey == "" || cfg.MiniMaxGroupID == "") {
		return Config{}, fmt.Errorf("SERVICE_MODE=minimax requires MINIMAX_API_KEY and MINIMAX_GROUP_ID")
	}
	if cfg.MiniMaxHTTPTimeout < time.Second {
		return Config{}, fmt.Errorf("MINIMAX_HTTP_TIMEOUT must be at least 1s")
	}
	if cfg.MiniMaxTemperature < 0 || cfg.MiniMaxTemperature > 1 {
		return Config{}, fmt.Errorf("MINIMAX_TEMPERATURE must be within [0,1]")
	}
	if cfg.MiniMaxTopP <= 0 || cfg.MiniMaxTopP > 1 {
		return Config{}, fmt.Errorf("MINIMAX_TOP_P must be within (0,1]")
	}
	if cfg.MiniMaxMaxTokens <= 0 {
		return Config{}, fmt.Errorf("MINIMAX_MAX_TOKENS must be positive")
	}
	if cfg.STTMaxRestarts <= 0 {
		return Config{}, fmt.Errorf("STT_MAX_RESTARTS must be positive")
	}
	if cfg.SilencePollInterval <= 0 {
		return Config{}, fmt.Errorf("SILENCE_POLL_INTERVAL must be positive")
	}
	if cfg.SilenceTimeout < cfg.SilencePollInterval {
		return Config{}, fmt.Errorf("SILENCE_TIMEOUT must be >= SILENCE_POLL_INTERVAL")
	}
	if cfg.CallDefaultDelay < 0 {
		return Config{}, fmt.Errorf("CALL_DEFAULT_DELAY must be >= 0")
	}

	return cfg, nil
}

// UseMiniMax reports whether the remote MiniMax service should back calls.
func (c Config) UseMiniMax() bool {
	switch c.ServiceMode {
	case "minimax":
		return true
	case "mock":
		return false
	default:
		return c.MiniMaxAPIKey != "" && c.MiniMaxGroupID != ""
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
