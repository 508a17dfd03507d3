package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/inbound"
	"github.com/goliatone/go-userhooks/webhooks"
)

var testNow = time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

type stubService struct {
	ingestResult core.HandlerResult
	ingestErr    error
	resumeResult core.HandlerResult
	resumeErr    error
	catalog      core.FunctionCatalog

	lastRequest  inbound.Request
	lastFunction string
	lastRun      string
}

func (s *stubService) Ingest(_ context.Context, req inbound.Request) (core.HandlerResult, error) {
	s.lastRequest = req
	return s.ingestResult, s.ingestErr
}

func (s *stubService) Resume(_ context.Context, functionID string, runID string) (core.HandlerResult, error) {
	s.lastFunction = functionID
	s.lastRun = runID
	return s.resumeResult, s.resumeErr
}

func (s *stubService) Catalog() core.FunctionCatalog {
	return s.catalog
}

func newTestServer(t *testing.T, service *stubService) http.Handler {
	t.Helper()
	cfg := ConfigFrom(core.DefaultConfig())
	cfg.MaxBodyBytes = 64
	server, err := NewServer(cfg, service, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server.Router()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func TestWebhookStatusMapping(t *testing.T) {
	retryAt := testNow.Add(30 * time.Second)
	tests := []struct {
		name      string
		result    core.HandlerResult
		err       error
		status    int
		noRetry   bool
		errorCode string
	}{
		{
			name:   "completed",
			result: core.HandlerResult{RunID: "run_1", Status: core.RunStatusCompleted},
			status: http.StatusOK,
		},
		{
			name:   "suspended",
			result: core.HandlerResult{RunID: "run_1", Status: core.RunStatusSuspended, RetryAt: &retryAt},
			status: http.StatusAccepted,
		},
		{
			name: "permanently failed signature",
			result: core.HandlerResult{
				RunID:     "run_1",
				Status:    core.RunStatusPermanentlyFailed,
				ErrorCode: core.ErrorSignatureInvalid,
				NoRetry:   true,
			},
			status:  http.StatusUnauthorized,
			noRetry: true,
		},
		{
			name:      "unknown event type",
			err:       core.NonRetriable(core.UnknownEventType("session.created")),
			status:    http.StatusUnprocessableEntity,
			noRetry:   true,
			errorCode: core.ErrorUnknownEventType,
		},
		{
			name:      "store outage",
			err:       core.DownstreamUnavailable(errors.New("connection refused"), "run store"),
			status:    http.StatusInternalServerError,
			errorCode: core.ErrorDownstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &stubService{ingestResult: tt.result, ingestErr: tt.err}
			handler := newTestServer(t, service)

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity?source=test", strings.NewReader(`{"type":"user.created"}`))
			req.Header.Set("svix-id", "msg_1")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d (%s)", tt.status, rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get(HeaderNoRetry) == "true"; got != tt.noRetry {
				t.Fatalf("expected no-retry header %v, got %v", tt.noRetry, got)
			}
			if tt.errorCode != "" {
				if payload := decodeError(t, rec); payload.TextCode != tt.errorCode {
					t.Fatalf("expected text code %q, got %q", tt.errorCode, payload.TextCode)
				}
			}
			if string(service.lastRequest.Body) != `{"type":"user.created"}` {
				t.Fatalf("expected raw body to reach the service, got %q", service.lastRequest.Body)
			}
			if service.lastRequest.Headers["Svix-Id"][0] != "msg_1" {
				t.Fatalf("expected headers to reach the service, got %#v", service.lastRequest.Headers)
			}
			if service.lastRequest.Query["source"][0] != "test" {
				t.Fatalf("expected query to reach the service, got %#v", service.lastRequest.Query)
			}
		})
	}
}

func TestWebhookRejectsEmptyAndOversizedBodies(t *testing.T) {
	service := &stubService{}
	handler := newTestServer(t, service)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader("")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}
	if payload := decodeError(t, rec); payload.TextCode != core.ErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", payload.TextCode)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader(strings.Repeat("x", 65))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderNoRetry) != "true" {
		t.Fatalf("expected no-retry header on oversized body")
	}
	if service.lastRequest.Body != nil {
		t.Fatalf("expected service not to be called")
	}
}

func TestServeListAndSyncReturnCatalog(t *testing.T) {
	service := &stubService{catalog: core.FunctionCatalog{
		AppID:         "userhooks",
		FunctionCount: 1,
		Functions: []core.FunctionDescriptor{{
			ID:    "userhooks/user-created",
			Event: core.EventUserCreated,
		}},
	}}
	handler := newTestServer(t, service)

	for _, method := range []string{http.MethodGet, http.MethodPut} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(method, "/api/durable", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", method, rec.Code)
		}
		var catalog core.FunctionCatalog
		if err := json.Unmarshal(rec.Body.Bytes(), &catalog); err != nil {
			t.Fatalf("%s: decode catalog: %v", method, err)
		}
		if catalog.AppID != "userhooks" || catalog.FunctionCount != 1 || len(catalog.Functions) != 1 {
			t.Fatalf("%s: unexpected catalog %#v", method, catalog)
		}
	}
}

func TestServeExecuteStatusMapping(t *testing.T) {
	retryAt := testNow.Add(90*time.Second + 200*time.Millisecond)
	tests := []struct {
		name       string
		query      string
		result     core.HandlerResult
		err        error
		status     int
		noRetry    bool
		retryAfter string
	}{
		{
			name:   "completed",
			query:  "?fnId=fn_1&runId=run_1",
			result: core.HandlerResult{Status: core.RunStatusCompleted, Output: json.RawMessage(`{"ok":true}`)},
			status: http.StatusOK,
		},
		{
			name:       "suspended",
			query:      "?fnId=fn_1&runId=run_1",
			result:     core.HandlerResult{Status: core.RunStatusSuspended, RetryAt: &retryAt},
			status:     http.StatusPartialContent,
			retryAfter: "91",
		},
		{
			name:    "permanently failed",
			query:   "?fnId=fn_1&runId=run_1",
			result:  core.HandlerResult{Status: core.RunStatusPermanentlyFailed, NoRetry: true},
			status:  http.StatusBadRequest,
			noRetry: true,
		},
		{
			name:    "unknown function",
			query:   "?fnId=missing&runId=run_1",
			err:     core.NonRetriable(core.NoHandlerRegistered("missing")),
			status:  http.StatusNotFound,
			noRetry: true,
		},
		{
			name:    "unknown run",
			query:   "?fnId=fn_1&runId=missing",
			err:     core.NonRetriable(core.RunNotFound("missing")),
			status:  http.StatusNotFound,
			noRetry: true,
		},
		{
			name:    "missing run id",
			query:   "?fnId=fn_1",
			status:  http.StatusBadRequest,
			noRetry: true,
		},
		{
			name:   "store outage",
			query:  "?fnId=fn_1&runId=run_1",
			err:    core.DownstreamUnavailable(errors.New("timeout"), "run store"),
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &stubService{resumeResult: tt.result, resumeErr: tt.err}
			handler := newTestServer(t, service)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/durable"+tt.query, nil))

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d (%s)", tt.status, rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get(HeaderNoRetry) == "true"; got != tt.noRetry {
				t.Fatalf("expected no-retry header %v, got %v", tt.noRetry, got)
			}
			if got := rec.Header().Get(HeaderRetryAfter); got != tt.retryAfter {
				t.Fatalf("expected Retry-After %q, got %q", tt.retryAfter, got)
			}
		})
	}
}

func TestServeExecutePassesIdentifiers(t *testing.T) {
	service := &stubService{resumeResult: core.HandlerResult{Status: core.RunStatusCompleted}}
	handler := newTestServer(t, service)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/durable?fnId=userhooks%2Fuser-created&runId=run_9", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if service.lastFunction != "userhooks/user-created" || service.lastRun != "run_9" {
		t.Fatalf("unexpected identifiers %q %q", service.lastFunction, service.lastRun)
	}
}

func TestNewServerValidatesInputs(t *testing.T) {
	if _, err := NewServer(ConfigFrom(core.DefaultConfig()), nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
	if _, err := NewServer(Config{WebhookPath: "/hooks"}, &stubService{}); err == nil {
		t.Fatalf("expected error for missing serve path")
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(t, &stubService{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWebhookSuppressesBurstDuplicates(t *testing.T) {
	service := &stubService{ingestResult: core.HandlerResult{Status: core.RunStatusCompleted}}
	cfg := ConfigFrom(core.DefaultConfig())
	server, err := NewServer(cfg, service, WithBurstController(webhooks.NewBurstController(webhooks.BurstOptions{
		Mode:   webhooks.BurstModeCoalesce,
		Window: time.Minute,
		Now:    func() time.Time { return testNow },
	})))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	handler := server.Router()

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader(`{"type":"user.created"}`))
		req.Header.Set("svix-id", "msg_burst")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("expected first delivery to complete, got %d", rec.Code)
	}
	service.lastRequest = inbound.Request{}
	rec := send()
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected duplicate to be accepted, got %d", rec.Code)
	}
	if service.lastRequest.Body != nil {
		t.Fatalf("expected duplicate not to reach the service")
	}
}

func TestWebhookBurstControlOnlyRecordsAcceptedDeliveries(t *testing.T) {
	tests := []struct {
		name   string
		result core.HandlerResult
		err    error
		status int
	}{
		{
			name:   "infrastructure error",
			err:    core.DownstreamUnavailable(errors.New("connection refused"), "run store"),
			status: http.StatusInternalServerError,
		},
		{
			name: "rejected signature",
			result: core.HandlerResult{
				Status:    core.RunStatusPermanentlyFailed,
				ErrorCode: core.ErrorSignatureInvalid,
			},
			status: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &stubService{ingestResult: tt.result, ingestErr: tt.err}
			server, err := NewServer(ConfigFrom(core.DefaultConfig()), service, WithBurstController(webhooks.NewBurstController(webhooks.BurstOptions{
				Mode:   webhooks.BurstModeCoalesce,
				Window: 2 * time.Second,
				Now:    func() time.Time { return testNow },
			})))
			if err != nil {
				t.Fatalf("new server: %v", err)
			}
			handler := server.Router()
			send := func() *httptest.ResponseRecorder {
				req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader(`{"type":"user.created"}`))
				req.Header.Set("svix-id", "msg_retry")
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				return rec
			}

			if rec := send(); rec.Code != tt.status {
				t.Fatalf("expected first attempt %d, got %d", tt.status, rec.Code)
			}

			service.ingestResult = core.HandlerResult{Status: core.RunStatusCompleted}
			service.ingestErr = nil
			service.lastRequest = inbound.Request{}
			rec := send()
			if rec.Code != http.StatusOK {
				t.Fatalf("expected retry to reach the pipeline, got %d (%s)", rec.Code, rec.Body.String())
			}
			if service.lastRequest.Body == nil {
				t.Fatalf("expected retry to reach the service")
			}

			if rec := send(); rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), "suppressed") {
				t.Fatalf("expected accepted delivery to suppress the next duplicate, got %d", rec.Code)
			}
		})
	}
}
