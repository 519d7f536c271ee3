package http

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"ferryx/internal/dispatch"
	"ferryx/internal/middleware/auth"
	"ferryx/pkg/errors"
	"ferryx/pkg/requestid"
)

// PublishResponse is returned for an accepted deploy
type PublishResponse struct {
	Status string   `json:"status"`
	Groups []string `json:"groups"`
}

func (a *Adapter) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	caller, _ := auth.GetAuthInfo(r.Context())

	if a.config.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxRequestSize)
	}

	var event dispatch.Event
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&event); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(event.Target) == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	result, err := a.publisher.Publish(r.Context(), event, caller)
	if err != nil {
		a.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PublishResponse{Status: "published", Groups: result.Groups})
}

// handleError maps typed errors to JSON responses
func (a *Adapter) handleError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := requestid.FromContext(r.Context())

	var e *errors.Error
	if !stderrors.As(err, &e) {
		a.logger.Error("request failed", "id", reqID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := e.HTTPStatusCode()
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "id", reqID, "type", e.Type, "error", e.Error())
	}
	writeError(w, status, e.Message)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
