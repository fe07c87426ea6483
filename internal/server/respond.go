package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/internal/mission"
	"github.com/joffreyzhang/kurangame/internal/session"
	"github.com/joffreyzhang/kurangame/internal/status"
	"github.com/joffreyzhang/kurangame/internal/task"
)

// errorBody is the JSON envelope for all error responses.
type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":{"kind":"Internal","message":"encoding failed"}}`, http.StatusInternalServerError)
	}
}

// writeError maps a core error to its HTTP status and error kind.
func writeError(w http.ResponseWriter, err error) {
	code, kind := classify(err)
	writeJSON(w, code, errorBody{Error: errorInfo{Kind: kind, Message: err.Error()}})
}

// writeValidation reports a caller contract violation.
func writeValidation(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorInfo{Kind: "ValidationFailure", Message: msg}})
}

// classify maps sentinel errors from the core packages to HTTP semantics.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrTemplateNotFound),
		errors.Is(err, session.ErrMissionNotFound),
		errors.Is(err, session.ErrNPCNotFound),
		errors.Is(err, status.ErrItemNotFound),
		errors.Is(err, status.ErrSceneNotFound),
		errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound, "NotFound"

	case errors.Is(err, status.ErrSceneLocked):
		return http.StatusConflict, "SceneLocked"

	case errors.Is(err, session.ErrAlreadyAtLastEra):
		return http.StatusConflict, "AlreadyAtLastEra"

	case errors.Is(err, mission.ErrNotActive):
		return http.StatusConflict, "MissionNotActive"

	case errors.Is(err, task.ErrNotResumable):
		return http.StatusConflict, "TaskRecoveryFailure"

	case errors.Is(err, session.ErrLLMFailure):
		return http.StatusBadGateway, "LLMFailure"

	case errors.Is(err, session.ErrNoSummariser):
		return http.StatusServiceUnavailable, "NotConfigured"

	default:
		return http.StatusInternalServerError, "PersistenceFailure"
	}
}

// decode parses a JSON request body into v. Unknown fields are rejected so
// client typos surface as 400s rather than silently ignored options.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
