package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ent0n29/coolphone/internal/audio"
	"github.com/ent0n29/coolphone/internal/call"
	"github.com/ent0n29/coolphone/internal/minimax"
)

const maxVoiceSampleBytes = 20 << 20

type cloneVoiceResponse struct {
	VoiceID string `json:"voice_id"`
	Applied bool   `json:"applied"`
}

// handleCloneVoice registers an uploaded recording as a voice. With
// apply=true the new voice becomes the custom voice for the next call.
func (s *Server) handleCloneVoice(w http.ResponseWriter, r *http.Request) {
	if s.cloner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice cloning not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceSampleBytes+1<<20)
	if err := r.ParseMultipartForm(maxVoiceSampleBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_file", "multipart field file is required")
		return
	}
	defer file.Close()

	sample, err := io.ReadAll(io.LimitReader(file, maxVoiceSampleBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(sample) == 0 {
		respondError(w, http.StatusBadRequest, "empty_sample", "voice sample is empty")
		return
	}
	if len(sample) > maxVoiceSampleBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "sample_too_large", "voice sample exceeds 20MB")
		return
	}

	filename := header.Filename
	if audio.Sniff(sample) == audio.FormatWAV && !strings.HasSuffix(strings.ToLower(filename), ".wav") {
		filename += ".wav"
	}

	voiceID, err := s.cloner.CreateVoice(r.Context(), filename, sample)
	if err != nil {
		if errors.Is(err, minimax.ErrCloneForbidden) {
			respondCallError(w, err)
			return
		}
		s.logger.Warn().Err(err).Int("bytes", len(sample)).Msg("voice clone failed")
		respondError(w, http.StatusBadGateway, "clone_failed", err.Error())
		return
	}

	applied := false
	if strings.EqualFold(strings.TrimSpace(r.FormValue("apply")), "true") && s.settings != nil {
		if _, err := s.settings.Update(func(st *call.Settings) { st.CustomVoiceID = voiceID }); err == nil {
			applied = true
		}
	}
	s.logger.Info().Str("voice_id", voiceID).Bool("applied", applied).Msg("voice cloned")
	respondJSON(w, http.StatusCreated, cloneVoiceResponse{VoiceID: voiceID, Applied: applied})
}
