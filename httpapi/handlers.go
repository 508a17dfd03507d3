package httpapi

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-userhooks/command"
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/inbound"
	"github.com/goliatone/go-userhooks/query"
)

const (
	HeaderNoRetry    = "X-No-Retry"
	HeaderRetryAfter = "Retry-After"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, core.NonRetriable(core.MalformedEnvelope("webhook body exceeds the size limit", map[string]any{
				"limit": tooLarge.Limit,
			}).WithCode(http.StatusRequestEntityTooLarge)))
			return
		}
		s.writeError(w, r, core.NonRetriable(core.MalformedEnvelope("webhook body could not be read", nil)))
		return
	}

	headers := core.NewHeaders(r.Header)
	if s.burst != nil {
		decision, err := s.burst.Allow(r.Context(), headers)
		if err == nil && !decision.Allow {
			s.observer.Log(r.Context(), "debug", "webhook delivery suppressed", decision.Metadata)
			writeJSON(w, http.StatusAccepted, burstResponse{Status: "suppressed", Metadata: decision.Metadata})
			return
		}
	}

	result, err := s.executeIngest(r.Context(), command.IngestWebhookMessage{Request: inbound.Request{
		Headers: r.Header,
		Body:    body,
		Query:   r.URL.Query(),
	}})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.burst != nil && result.Status != core.RunStatusPermanentlyFailed {
		if err := s.burst.Record(r.Context(), headers); err != nil {
			s.observer.Log(r.Context(), "warn", "webhook delivery not recorded for burst control", map[string]any{"error": err.Error()})
		}
	}

	switch result.Status {
	case core.RunStatusCompleted:
		writeJSON(w, http.StatusOK, result)
	case core.RunStatusPermanentlyFailed:
		w.Header().Set(HeaderNoRetry, "true")
		writeJSON(w, failureStatus(result.ErrorCode), result)
	default:
		writeJSON(w, http.StatusAccepted, result)
	}
}

type burstResponse struct {
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleServeList(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.catalog.Query(r.Context(), query.ListFunctionsMessage{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (s *Server) handleServeSync(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.catalog.Query(r.Context(), query.ListFunctionsMessage{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.observer.Log(r.Context(), "info", "functions synced", map[string]any{
		"app_id":         catalog.AppID,
		"function_count": catalog.FunctionCount,
	})
	writeJSON(w, http.StatusOK, catalog)
}

func (s *Server) handleServeExecute(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	result, err := s.executeResume(r.Context(), command.ResumeRunMessage{
		FunctionID: params.Get("fnId"),
		RunID:      params.Get("runId"),
	})
	if err != nil {
		if core.IsNonRetriable(err) && isNotFound(err) {
			w.Header().Set(HeaderNoRetry, "true")
			writeErrorBody(w, http.StatusNotFound, core.MapError(err))
			return
		}
		s.writeError(w, r, err)
		return
	}

	switch result.Status {
	case core.RunStatusCompleted:
		writeJSON(w, http.StatusOK, result)
	case core.RunStatusPermanentlyFailed:
		w.Header().Set(HeaderNoRetry, "true")
		writeJSON(w, http.StatusBadRequest, result)
	default:
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(s.retryAfterSeconds(result)))
		writeJSON(w, http.StatusPartialContent, result)
	}
}

func (s *Server) executeIngest(ctx context.Context, msg command.IngestWebhookMessage) (core.HandlerResult, error) {
	collector := gocmd.NewResult[core.HandlerResult]()
	if err := s.ingest.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return core.HandlerResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}

func (s *Server) executeResume(ctx context.Context, msg command.ResumeRunMessage) (core.HandlerResult, error) {
	collector := gocmd.NewResult[core.HandlerResult]()
	if err := s.resume.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return core.HandlerResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}

func (s *Server) retryAfterSeconds(result core.HandlerResult) int {
	if result.RetryAt == nil {
		return 1
	}
	seconds := int(math.Ceil(result.RetryAt.Sub(s.now()).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func isNotFound(err error) bool {
	return core.HasTextCode(err, core.ErrorNoHandlerRegistered) || core.HasTextCode(err, core.ErrorRunNotFound)
}

// failureStatus maps the error code recorded on a permanently failed run to
// the client error reported to the webhook sender.
func failureStatus(errorCode string) int {
	switch {
	case core.IsAuthenticationCode(errorCode):
		return http.StatusUnauthorized
	case errorCode == core.ErrorUnknownEventType:
		return http.StatusUnprocessableEntity
	case errorCode == core.ErrorNoHandlerRegistered:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
