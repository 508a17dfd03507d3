package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-userhooks/core"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Category  string         `json:"category"`
	Code      int            `json:"code"`
	TextCode  string         `json:"text_code"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Retriable bool           `json:"retriable"`
}

// writeError reports non-retriable failures as client errors with
// X-No-Retry set and everything else as 500 so the sender retries.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rich := core.MapError(err)
	status := http.StatusInternalServerError
	if core.IsNonRetriable(err) {
		w.Header().Set(HeaderNoRetry, "true")
		status = http.StatusBadRequest
		if rich.Code >= 400 && rich.Code < 500 {
			status = rich.Code
		}
	}
	fields := map[string]any{
		"status":     status,
		"error":      err.Error(),
		"error_code": rich.TextCode,
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	}
	level := "warn"
	if status >= http.StatusInternalServerError {
		level = "error"
	}
	s.observer.Log(r.Context(), level, "request failed", fields)

	payload := newErrorPayload(rich, status)
	payload.RequestID = middleware.GetReqID(r.Context())
	payload.Retriable = !core.IsNonRetriable(err)
	writeJSON(w, status, errorBody{Error: payload})
}

func writeErrorBody(w http.ResponseWriter, status int, rich *goerrors.Error) {
	writeJSON(w, status, errorBody{Error: newErrorPayload(rich, status)})
}

func newErrorPayload(rich *goerrors.Error, status int) errorPayload {
	if rich == nil {
		return errorPayload{Code: status, TextCode: core.ErrorInternal}
	}
	return errorPayload{
		Category: string(rich.Category),
		Code:     status,
		TextCode: rich.TextCode,
		Message:  rich.Message,
		Metadata: rich.Metadata,
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
