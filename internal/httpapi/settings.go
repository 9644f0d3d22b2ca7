package httpapi

import (
	"net/http"

	"github.com/ent0n29/coolphone/internal/audio"
	"github.com/ent0n29/coolphone/internal/call"
	"github.com/ent0n29/coolphone/internal/scenario"
)

// settingsPatch holds the fields a PUT may change; nil means unchanged.
type settingsPatch struct {
	CallerName         *string `json:"caller_name"`
	CallerNumber       *string `json:"caller_number"`
	CallerRelation     *string `json:"caller_relation"`
	Scenario           *string `json:"scenario"`
	CustomScenarioText *string `json:"custom_scenario_text"`
	CustomVoiceID      *string `json:"custom_voice_id"`
	Ringtone           *string `json:"ringtone"`
	DelaySeconds       *int    `json:"delay_seconds"`
}

func (p settingsPatch) apply(s *call.Settings) {
	if p.CallerName != nil {
		s.CallerName = *p.CallerName
	}
	if p.CallerNumber != nil {
		s.CallerNumber = *p.CallerNumber
	}
	if p.CallerRelation != nil {
		s.CallerRelation = *p.CallerRelation
	}
	if p.Scenario != nil {
		s.Scenario = scenario.Scenario(*p.Scenario)
	}
	if p.CustomScenarioText != nil {
		s.CustomScenarioText = *p.CustomScenarioText
	}
	if p.CustomVoiceID != nil {
		s.CustomVoiceID = *p.CustomVoiceID
	}
	if p.Ringtone != nil {
		s.Ringtone = audio.Ringtone(*p.Ringtone)
	}
	if p.DelaySeconds != nil {
		s.DelaySeconds = *p.DelaySeconds
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.settings.Get())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if patch.Scenario != nil {
		sc, err := scenario.Parse(*patch.Scenario)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
			return
		}
		id := string(sc)
		patch.Scenario = &id
	}
	updated, err := s.settings.Update(patch.apply)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

type scenariosResponse struct {
	Scenarios []scenario.Info `json:"scenarios"`
	Default   string          `json:"default_voice_id"`
}

func (s *Server) handleListScenarios(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, scenariosResponse{
		Scenarios: scenario.All(),
		Default:   scenario.DefaultVoice,
	})
}
