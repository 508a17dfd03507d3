package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-userhooks/core"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

// RunResumer continues a stored run. registry.Registry satisfies it.
type RunResumer interface {
	Resume(ctx context.Context, functionID string, runID string) (core.HandlerResult, error)
}

type WorkerOption func(*RunWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *RunWorker) {
		w.policy = policy
	}
}

func WithHooks(hooks ...worker.Hook) WorkerOption {
	return func(w *RunWorker) {
		for _, hook := range hooks {
			if hook != nil {
				w.hooks = append(w.hooks, hook)
			}
		}
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *RunWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// RunWorker consumes resume jobs and settles each delivery from the run
// outcome: completed and suspended runs are acked (a suspended run has
// already been rescheduled by the executor), permanently failed runs and
// undecodable jobs go to the dead letter queue, and infrastructure errors
// are requeued.
type RunWorker struct {
	resumer RunResumer
	policy  RetryPolicy
	hooks   []worker.Hook
	now     func() time.Time
}

func NewRunWorker(resumer RunResumer, opts ...WorkerOption) (*RunWorker, error) {
	if resumer == nil {
		return nil, fmt.Errorf("gojob: run resumer is required")
	}
	w := &RunWorker{
		resumer: resumer,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run dequeues and handles deliveries until ctx is done.
func (w *RunWorker) Run(ctx context.Context, dequeuer queue.Dequeuer) error {
	if w == nil || dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	for {
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if delivery == nil {
			continue
		}
		_ = w.Handle(ctx, delivery)
	}
}

// Handle resumes the run named by one delivery and acks or nacks it.
func (w *RunWorker) Handle(ctx context.Context, delivery queue.Delivery) error {
	if w == nil || w.resumer == nil {
		return fmt.Errorf("gojob: run worker is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	event := worker.Event{Message: msg, Delivery: delivery, StartedAt: w.now()}

	req, err := ParseResumeMessage(msg)
	if err != nil {
		event.Err = err
		w.emit(ctx, hookFailure, event)
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}
	event.Attempt = req.Attempt

	if wait := req.NotBefore.Sub(w.now()); wait > 0 {
		event.Delay = wait
		w.emit(ctx, hookRetry, event)
		return delivery.Nack(ctx, queue.NackOptions{Delay: wait, Requeue: true, Reason: "not due"})
	}

	w.emit(ctx, hookStart, event)
	result, err := w.resumer.Resume(ctx, req.FunctionID, req.RunID)
	event.Duration = w.now().Sub(event.StartedAt)
	if err != nil {
		event.Err = err
		if core.IsNonRetriable(err) {
			w.emit(ctx, hookFailure, event)
			return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
		}
		event.Delay = w.policy.retryDelay()
		w.emit(ctx, hookRetry, event)
		return delivery.Nack(ctx, w.policy.NormalizeAttempt(queue.NackOptions{
			Delay:   event.Delay,
			Requeue: true,
			Reason:  err.Error(),
		}, req.Attempt))
	}

	switch result.Status {
	case core.RunStatusPermanentlyFailed:
		event.Err = errors.New(strings.TrimSpace(result.Error))
		w.emit(ctx, hookFailure, event)
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: result.Error})
	default:
		w.emit(ctx, hookSuccess, event)
		return delivery.Ack(ctx)
	}
}

type hookKind int

const (
	hookStart hookKind = iota
	hookSuccess
	hookFailure
	hookRetry
)

func (w *RunWorker) emit(ctx context.Context, kind hookKind, event worker.Event) {
	for _, hook := range w.hooks {
		switch kind {
		case hookStart:
			hook.OnStart(ctx, event)
		case hookSuccess:
			hook.OnSuccess(ctx, event)
		case hookFailure:
			hook.OnFailure(ctx, event)
		case hookRetry:
			hook.OnRetry(ctx, event)
		}
	}
}

// LoggingHook reports worker lifecycle events through a glog logger.
type LoggingHook struct {
	observer core.Observer
}

func NewLoggingHook(logger core.Logger) *LoggingHook {
	return &LoggingHook{observer: core.NewObserver(glog.Ensure(logger), nil)}
}

func (h *LoggingHook) OnStart(ctx context.Context, event worker.Event) {
	h.log(ctx, "debug", "resume job started", event)
}

func (h *LoggingHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.log(ctx, "info", "resume job settled", event)
}

func (h *LoggingHook) OnFailure(ctx context.Context, event worker.Event) {
	h.log(ctx, "error", "resume job dead lettered", event)
}

func (h *LoggingHook) OnRetry(ctx context.Context, event worker.Event) {
	h.log(ctx, "warn", "resume job requeued", event)
}

func (h *LoggingHook) log(ctx context.Context, level string, message string, event worker.Event) {
	if h == nil {
		return
	}
	fields := map[string]any{
		"attempt":     event.Attempt,
		"duration_ms": event.Duration.Milliseconds(),
	}
	if event.Message != nil {
		fields["job_id"] = event.Message.JobID
		fields["run_id"] = stringParam(event.Message.Parameters, ParamRunID)
		fields["function_id"] = stringParam(event.Message.Parameters, ParamFunctionID)
	}
	if event.Delay > 0 {
		fields["delay"] = event.Delay.String()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	h.observer.Log(ctx, level, message, fields)
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func intParam(params map[string]any, key string) int {
	switch value := params[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return 0
}

var _ worker.Hook = (*LoggingHook)(nil)
