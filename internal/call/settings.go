package call

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/coolphone/internal/audio"
	"github.com/ent0n29/coolphone/internal/scenario"
)

const maxDelaySeconds = 24 * 60 * 60

// Settings describes the next fake incoming call. The core only reads it
// when the call is answered.
type Settings struct {
	CallerName         string            `json:"caller_name"`
	CallerNumber       string            `json:"caller_number"`
	CallerRelation     string            `json:"caller_relation"`
	Scenario           scenario.Scenario `json:"scenario"`
	CustomScenarioText string            `json:"custom_scenario_text"`
	CustomVoiceID      string            `json:"custom_voice_id,omitempty"`
	Ringtone           audio.Ringtone    `json:"ringtone"`
	DelaySeconds       int               `json:"delay_seconds"`
}

// DefaultSettings returns the preset caller. defaultDelay seeds the
// schedule delay.
func DefaultSettings(defaultDelay time.Duration) Settings {
	return Settings{
		CallerName:         "王铁柱",
		CallerNumber:       "138 8888 8888",
		CallerRelation:     "朋友",
		Scenario:           scenario.Urgent,
		CustomScenarioText: "我是你的AI助手，请告诉我怎么配合你演戏。",
		Ringtone:           audio.RingtoneClassic,
		DelaySeconds:       int(defaultDelay / time.Second),
	}
}

// Delay is the schedule delay as a duration.
func (s Settings) Delay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

func (s *Settings) normalize() {
	s.CallerName = strings.TrimSpace(s.CallerName)
	s.CallerNumber = strings.TrimSpace(s.CallerNumber)
	s.CallerRelation = strings.TrimSpace(s.CallerRelation)
	s.CustomScenarioText = strings.TrimSpace(s.CustomScenarioText)
	s.CustomVoiceID = strings.TrimSpace(s.CustomVoiceID)
}

// Validate checks s after trimming its text fields.
func (s *Settings) Validate() error {
	s.normalize()
	if s.CallerName == "" {
		return errors.New("caller_name is required")
	}
	if !s.Scenario.Valid() {
		return fmt.Errorf("unknown scenario %q", s.Scenario)
	}
	if s.Scenario == scenario.Custom && s.CustomScenarioText == "" {
		return errors.New("custom_scenario_text is required for the custom scenario")
	}
	if _, err := audio.ParseRingtone(string(s.Ringtone)); err != nil {
		return err
	}
	if s.DelaySeconds < 0 || s.DelaySeconds > maxDelaySeconds {
		return fmt.Errorf("delay_seconds must be within [0,%d]", maxDelaySeconds)
	}
	return nil
}

// SettingsStore keeps the settings in memory.
type SettingsStore struct {
	mu       sync.RWMutex
	settings Settings
}

func NewSettingsStore(initial Settings) *SettingsStore {
	return &SettingsStore{settings: initial}
}

func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies fn to a copy and stores it only if the result validates.
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.settings
	fn(&next)
	if next.Ringtone == "" {
		next.Ringtone = audio.RingtoneClassic
	}
	if err := next.Validate(); err != nil {
		return s.settings, err
	}
	s.settings = next
	return next, nil
}
