package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/ent0n29/coolphone/internal/conversation"
	"github.com/ent0n29/coolphone/internal/session"
)

type scheduleView struct {
	Pending bool       `json:"pending"`
	FireAt  *time.Time `json:"fire_at,omitempty"`
}

type callResponse struct {
	State    session.State          `json:"state"`
	Phase    session.Phase          `json:"phase"`
	History  []conversation.Message `json:"history"`
	Schedule scheduleView           `json:"schedule"`
}

func (s *Server) scheduleView() scheduleView {
	at, ok := s.calls.Scheduled()
	if !ok {
		return scheduleView{}
	}
	at = at.UTC()
	return scheduleView{Pending: true, FireAt: &at}
}

func (s *Server) handleGetCall(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Snapshot()
	history := s.conv.History()
	if history == nil {
		history = []conversation.Message{}
	}
	respondJSON(w, http.StatusOK, callResponse{
		State:    st,
		Phase:    st.Phase,
		History:  history,
		Schedule: s.scheduleView(),
	})
}

type scheduleRequest struct {
	DelaySeconds *int `json:"delay_seconds"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	delay := time.Duration(-1)
	if req.DelaySeconds != nil {
		if *req.DelaySeconds < 0 {
			respondError(w, http.StatusBadRequest, "invalid_delay", "delay_seconds must not be negative")
			return
		}
		delay = time.Duration(*req.DelaySeconds) * time.Second
	}
	if _, err := s.calls.Schedule(delay); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.scheduleView())
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"cancelled": s.calls.CancelSchedule()})
}

func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	if err := s.calls.Ring(r.Context()); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	st, err := s.calls.Answer(r.Context())
	if err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleDecline(w http.ResponseWriter, _ *http.Request) {
	if err := s.calls.Decline(); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleHangup(w http.ResponseWriter, _ *http.Request) {
	if err := s.calls.Hangup(); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if err := s.conv.Resume(); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}

type speakerRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSpeaker(w http.ResponseWriter, r *http.Request) {
	var req speakerRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	enabled := !s.store.Snapshot().SpeakerOn
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	s.conv.SetSpeaker(enabled)
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}
