package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/internal/session"
)

// streamMode translates the wire mode field. Anything but "live" is buffered.
func streamMode(raw string) session.StreamMode {
	if raw == "live" {
		return session.ModeLive
	}
	return session.ModeBuffered
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID     string `json:"sessionId"`
		FileID        string `json:"fileId"`
		PlayerName    string `json:"playerName"`
		LiteraryStyle string `json:"literaryStyle"`
	}
	if err := decode(r, &req); err != nil {
		writeValidation(w, "invalid request body: "+err.Error())
		return
	}
	if req.FileID == "" {
		writeValidation(w, "fileId is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	style := prompt.DefaultStyle
	if req.LiteraryStyle != "" {
		parsed, err := prompt.ParseStyle(req.LiteraryStyle)
		if err != nil {
			writeValidation(w, err.Error())
			return
		}
		style = parsed
	}

	state, err := s.runtime.Create(req.SessionID, req.FileID, req.PlayerName, style)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.runtime.Recover(r.PathValue("sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.runtime.Close(r.PathValue("sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents is the SSE feed. The connection stays open until the client
// goes away; events for in-flight actions keep arriving via the hub.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if err := s.hub.ServeSSE(w, r, sessionID); err != nil {
		s.log.Error("sse stream failed", "session_id", sessionID, "err", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if err := s.hub.ServeWebSocket(w, r, sessionID); err != nil {
		s.log.Error("websocket stream failed", "session_id", sessionID, "err", err)
	}
}

func (s *Server) handleProcessAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
		Mode   string `json:"mode"`
	}
	if err := decode(r, &req); err != nil {
		writeValidation(w, "invalid request body: "+err.Error())
		return
	}
	if req.Action == "" {
		writeValidation(w, "action is required")
		return
	}

	result, err := s.runtime.ProcessAction(r.Context(), r.PathValue("sessionID"), req.Action, streamMode(req.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUseItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	// An empty body means buffered mode.
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeValidation(w, "invalid request body: "+err.Error())
			return
		}
	}

	result, err := s.runtime.UseItem(r.Context(), r.PathValue("sessionID"), r.PathValue("itemID"), streamMode(req.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChangeScene(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SceneID string `json:"sceneId"`
	}
	if err := decode(r, &req); err != nil {
		writeValidation(w, "invalid request body: "+err.Error())
		return
	}
	if req.SceneID == "" {
		writeValidation(w, "sceneId is required")
		return
	}

	change, err := s.runtime.ChangeScene(r.Context(), r.PathValue("sessionID"), req.SceneID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleSkipEra(w http.ResponseWriter, r *http.Request) {
	skip, err := s.runtime.SkipToNextEra(r.PathValue("sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, skip)
}

func (s *Server) handleRecap(w http.ResponseWriter, r *http.Request) {
	recap, err := s.runtime.Recap(r.Context(), r.PathValue("sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"recap": recap})
}

func (s *Server) handleNPCChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		writeValidation(w, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeValidation(w, "message is required")
		return
	}

	reply, err := s.runtime.ChatWithNPC(r.Context(), r.PathValue("sessionID"), r.PathValue("npcID"), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
