package server

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/joffreyzhang/kurangame/internal/task"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string       `json:"userId"`
		FileName       string       `json:"fileName"`
		FileDataBase64 string       `json:"fileDataBase64"`
		Options        task.Options `json:"options"`
	}
	if err := decode(r, &req); err != nil {
		writeValidation(w, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeValidation(w, "userId is required")
		return
	}
	if req.FileName == "" {
		writeValidation(w, "fileName is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.FileDataBase64)
	if err != nil {
		writeValidation(w, "fileDataBase64 is not valid base64")
		return
	}
	if len(data) == 0 {
		writeValidation(w, "fileDataBase64 is required")
		return
	}

	// The workflow outlives this request; detach it from the request context
	// so a client disconnect does not cancel the ingest.
	taskID, err := s.tasks.Create(context.WithoutCancel(r.Context()), req.UserID, req.FileName, data, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.Get(r.PathValue("taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskID")
	if err := s.tasks.Resume(context.WithoutCancel(r.Context()), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeValidation(w, "userId query parameter is required")
		return
	}
	list, err := s.tasks.ListByUser(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
