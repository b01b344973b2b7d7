package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

type triggerResponse struct {
	RunID   string                 `json:"run_id"`
	Started bool                   `json:"started"`
	State   constants.RetrainState `json:"state"`
}

// triggerRetrain starts a run, or reports the one already in flight.
func (s *Server) triggerRetrain(w http.ResponseWriter, r *http.Request) {
	run, started, err := s.deps.Retrain.Trigger(r.Context(), constants.RetrainManual)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if !started {
		status = http.StatusOK
	}
	s.writeJSON(w, r, status, triggerResponse{RunID: run.ID, Started: started, State: run.State})
}

func (s *Server) getRetrainRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Retrain.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, run)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Models.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*entity.ModelVersion{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"models": list})
}

func (s *Server) activateModel(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Retrain.ActivateVersion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, v)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"categories": constants.AsStringSlice(),
		"fallback":   constants.Other,
		"threshold":  constants.ConfidenceThreshold,
	})
}
