package server

import (
	"net/http"

	"github.com/joffreyzhang/kurangame/internal/mission"
)

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := s.runtime.Missions(r.PathValue("sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if missions == nil {
		missions = []*mission.Mission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"missions": missions})
}

func (s *Server) handleSubmitMission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeValidation(w, "invalid request body: "+err.Error())
			return
		}
	}

	outcome, err := s.runtime.SubmitMission(r.Context(), r.PathValue("sessionID"), r.PathValue("missionID"), streamMode(req.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleAbandonMission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeValidation(w, "invalid request body: "+err.Error())
			return
		}
	}

	outcome, err := s.runtime.AbandonMission(r.Context(), r.PathValue("sessionID"), r.PathValue("missionID"), streamMode(req.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleStoryline(w http.ResponseWriter, r *http.Request) {
	st, err := s.runtime.Storyline(r.PathValue("sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
