package durable

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-userhooks/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Executor drives runs through their lifecycle. Invocations of the same run
// are serialized in process; separate runs proceed concurrently.
type Executor struct {
	client *Client

	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu      sync.Mutex
	holders int
}

func NewExecutor(client *Client) (*Executor, error) {
	if client == nil {
		return nil, fmt.Errorf("durable: client is required")
	}
	return &Executor{client: client, locks: map[string]*runLock{}}, nil
}

func (e *Executor) Client() *Client {
	if e == nil {
		return nil
	}
	return e.client
}

// Start creates the pending run for fn and event, or returns the run already
// created for the same delivery. The boolean reports an existing run.
func (e *Executor) Start(ctx context.Context, fn Function, event core.CanonicalEvent) (core.RunRecord, bool, error) {
	if e == nil || e.client == nil {
		return core.RunRecord{}, false, fmt.Errorf("durable: executor is not configured")
	}
	now := e.client.currentTime()
	run := core.RunRecord{
		ID:         e.client.newID(),
		FunctionID: fn.ID,
		EventKey:   EventKey(event),
		EventType:  event.EventType,
		Status:     core.RunStatusPending,
		Envelope:   event.Payload.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, existed, err := e.client.store.CreateRun(ctx, run)
	if err != nil {
		return core.RunRecord{}, false, core.DownstreamUnavailable(err, "run store")
	}
	return created, existed, nil
}

// Execute advances run through fn's steps. Terminal runs are reported as
// recorded without invoking any step. The returned error is reserved for
// failures of the run store or scheduler; step failures are reflected in the
// result status.
func (e *Executor) Execute(ctx context.Context, fn Function, run core.RunRecord, event core.CanonicalEvent) (core.HandlerResult, error) {
	if e == nil || e.client == nil {
		return core.HandlerResult{}, fmt.Errorf("durable: executor is not configured")
	}
	if run.FunctionID != fn.ID {
		return core.HandlerResult{}, core.NonRetriable(core.BadInput("durable: run does not belong to function", map[string]any{
			"run_id":      run.ID,
			"function_id": fn.ID,
		}))
	}
	if run.Status.Terminal() {
		return ResultFromRun(run, true), nil
	}

	unlock := e.lock(run.ID)
	defer unlock()

	// another invocation may have advanced the run while we waited
	current, err := e.client.store.GetRun(ctx, run.ID)
	if err != nil {
		return core.HandlerResult{}, err
	}
	if current.Status.Terminal() {
		return ResultFromRun(current, true), nil
	}
	run = current

	startedAt := time.Now()
	ctx, span := e.client.tracer.Start(ctx, "durable.run", trace.WithAttributes(
		attribute.String("function_id", fn.ID),
		attribute.String("run_id", run.ID),
		attribute.String("event_type", string(run.EventType)),
	))
	defer span.End()

	run.Status = core.RunStatusRunning
	run.Attempts++
	run.NextAttemptAt = nil
	run.UpdatedAt = e.client.currentTime()
	if err := e.client.store.UpdateRun(ctx, run); err != nil {
		return core.HandlerResult{}, core.DownstreamUnavailable(err, "run store")
	}

	history, err := e.client.store.ListSteps(ctx, run.ID)
	if err != nil {
		return core.HandlerResult{}, core.DownstreamUnavailable(err, "run store")
	}

	invocation := newRun(e.client, run, event, history)
	var output json.RawMessage
	for _, step := range fn.Steps {
		output, err = invocation.Step(ctx, step.Name, step.Action)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result, settleErr := e.settleFailure(ctx, invocation.record, err)
			result.Replayed = len(invocation.replayed) > 0
			e.observe(ctx, startedAt, fn, result, settleErr)
			return result, settleErr
		}
	}
	span.SetAttributes(attribute.StringSlice("replayed_steps", invocation.Replayed()))

	run = invocation.record
	run.Status = core.RunStatusCompleted
	run.Output = output
	run.LastError = ""
	run.ErrorCode = ""
	run.UpdatedAt = e.client.currentTime()
	if err := e.client.store.UpdateRun(ctx, run); err != nil {
		return core.HandlerResult{}, core.DownstreamUnavailable(err, "run store")
	}
	result := ResultFromRun(run, len(invocation.replayed) > 0)
	e.observe(ctx, startedAt, fn, result, nil)
	return result, nil
}

func (e *Executor) settleFailure(ctx context.Context, run core.RunRecord, cause error) (core.HandlerResult, error) {
	run.LastError = cause.Error()
	run.ErrorCode = core.TextCode(cause)
	run.UpdatedAt = e.client.currentTime()

	var retryAt time.Time
	switch {
	case core.IsNonRetriable(cause):
		run.Status = core.RunStatusPermanentlyFailed
		run.NextAttemptAt = nil
		if core.IsAuthenticationCode(run.ErrorCode) {
			// a rejected delivery must not hold the key of the genuine one
			run.EventKey = RejectedEventKey(run)
		}
	case run.Attempts >= e.client.maxAttempts:
		run.Status = core.RunStatusPermanentlyFailed
		run.NextAttemptAt = nil
		run.LastError = "retry budget exhausted: " + cause.Error()
	default:
		run.Status = core.RunStatusSuspended
		retryAt = run.UpdatedAt.Add(e.client.retry.NextDelay(run.Attempts))
		run.NextAttemptAt = &retryAt
	}

	if err := e.client.store.UpdateRun(ctx, run); err != nil {
		return core.HandlerResult{}, core.DownstreamUnavailable(err, "run store")
	}
	result := ResultFromRun(run, false)
	if run.Status == core.RunStatusSuspended && e.client.scheduler != nil {
		if err := e.client.scheduler.ScheduleRun(ctx, run, retryAt); err != nil {
			return result, core.DownstreamUnavailable(err, "scheduler")
		}
	}
	return result, nil
}

func (e *Executor) observe(ctx context.Context, startedAt time.Time, fn Function, result core.HandlerResult, err error) {
	fields := map[string]any{
		"function_id": fn.ID,
		"event_type":  string(fn.Event),
		"run_id":      result.RunID,
		"run_status":  string(result.Status),
		"attempt":     result.Attempt,
	}
	if result.Error != "" {
		fields["run_error"] = result.Error
	}
	e.client.observer.Observe(ctx, startedAt, "durable.run", err, fields)
}

// lock serializes invocations of one run. Entries are dropped once the last
// holder releases them.
func (e *Executor) lock(runID string) func() {
	e.mu.Lock()
	if e.locks == nil {
		e.locks = map[string]*runLock{}
	}
	l, ok := e.locks[runID]
	if !ok {
		l = &runLock{}
		e.locks[runID] = l
	}
	l.holders++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(e.locks, runID)
		}
		e.mu.Unlock()
	}
}

// EventKey identifies the delivery behind event: the provider message id
// bound to a digest of the raw body, or the digest alone when no id was
// sent. A different body under a known message id is a different delivery.
func EventKey(event core.CanonicalEvent) string {
	sum := sha256.Sum256(event.Payload.RawBody)
	digest := "sha256:" + hex.EncodeToString(sum[:])
	if id := event.EventKey(); id != "" {
		return id + "/" + digest
	}
	return digest
}

// RejectedEventKey is the key a run keeps once its delivery failed
// authentication, leaving the original key free for a later delivery.
func RejectedEventKey(run core.RunRecord) string {
	return run.EventKey + "#rejected/" + run.ID
}

// ResultFromRun reports a run record as a handler result.
func ResultFromRun(run core.RunRecord, replayed bool) core.HandlerResult {
	result := core.HandlerResult{
		FunctionID: run.FunctionID,
		RunID:      run.ID,
		EventType:  run.EventType,
		Status:     run.Status,
		Replayed:   replayed,
		Attempt:    run.Attempts,
		NoRetry:    run.Status == core.RunStatusPermanentlyFailed,
		Output:     append(json.RawMessage(nil), run.Output...),
		Error:      strings.TrimSpace(run.LastError),
		ErrorCode:  run.ErrorCode,
	}
	if run.NextAttemptAt != nil {
		at := run.NextAttemptAt.UTC()
		result.RetryAt = &at
	}
	return result
}
