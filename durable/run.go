package durable

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-userhooks/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Run is one invocation of a durable run. Steps must be requested in their
// declared order; positions are assigned by call order.
type Run struct {
	client   *Client
	record   core.RunRecord
	event    core.CanonicalEvent
	history  map[string]core.StepRecord
	results  StepResults
	invoked  map[string]struct{}
	replayed []string
	next     int
}

func newRun(client *Client, record core.RunRecord, event core.CanonicalEvent, history []core.StepRecord) *Run {
	run := &Run{
		client:  client,
		record:  record,
		event:   event,
		history: make(map[string]core.StepRecord, len(history)),
		results: StepResults{},
		invoked: map[string]struct{}{},
	}
	for _, step := range history {
		run.history[step.Name] = step
	}
	return run
}

func (r *Run) ID() string {
	return r.record.ID
}

// Replayed lists the steps served from recorded history in this invocation.
func (r *Run) Replayed() []string {
	return append([]string(nil), r.replayed...)
}

// Step returns the recorded result for name when it already completed in this
// run; otherwise it invokes action and records the outcome.
func (r *Run) Step(ctx context.Context, name string, action gocmd.Querier[StepInput, any]) (json.RawMessage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.NonRetriable(core.BadInput("durable: step name is required", nil))
	}
	if _, seen := r.invoked[name]; seen {
		return nil, core.NonRetriable(core.BadInput("durable: step invoked twice in one run", map[string]any{"step": name}))
	}
	position := r.next
	r.next++
	r.invoked[name] = struct{}{}

	record, recorded := r.history[name]
	if recorded && record.Position != position {
		return nil, core.NonRetriable(core.StepOrderMismatch(name, record.Position, position))
	}
	if recorded && record.Status == core.StepStatusCompleted {
		r.results[name] = record.Result
		r.replayed = append(r.replayed, name)
		r.log(ctx, "debug", "step replayed from history", name, nil)
		return append(json.RawMessage(nil), record.Result...), nil
	}
	if recorded && record.Status == core.StepStatusFailed {
		return nil, core.NonRetriable(errors.New(record.LastError))
	}
	if action == nil {
		return nil, core.NonRetriable(core.BadInput("durable: step action is required", map[string]any{"step": name}))
	}

	now := r.client.currentTime()
	if !recorded {
		record = core.StepRecord{
			ID:        r.client.newID(),
			RunID:     r.record.ID,
			Name:      name,
			Position:  position,
			Status:    core.StepStatusPending,
			CreatedAt: now,
		}
	}
	record.Attempts++

	ctx, span := r.client.tracer.Start(ctx, "durable.step", trace.WithAttributes(
		attribute.String("function_id", r.record.FunctionID),
		attribute.String("run_id", r.record.ID),
		attribute.String("step", name),
		attribute.Int("attempt", record.Attempts),
	))
	defer span.End()

	value, err := action.Query(ctx, StepInput{
		RunID:      r.record.ID,
		FunctionID: r.record.FunctionID,
		Attempt:    r.record.Attempts,
		Event:      r.event,
		Results:    r.results.clone(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		record.Status = core.StepStatusPending
		if core.IsNonRetriable(err) {
			record.Status = core.StepStatusFailed
		}
		record.LastError = err.Error()
		record.UpdatedAt = r.client.currentTime()
		if saveErr := r.client.store.SaveStep(ctx, record); saveErr != nil {
			r.log(ctx, "warn", "step failure could not be recorded", name, map[string]any{"store_error": saveErr.Error()})
		}
		r.log(ctx, "warn", "step failed", name, map[string]any{
			"error":     err.Error(),
			"retriable": !core.IsNonRetriable(err),
		})
		return nil, err
	}

	encoded, err := encodeResult(value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, core.NonRetriable(core.Internal("durable: step result is not serializable", map[string]any{
			"step":  name,
			"cause": err.Error(),
		}))
	}
	record.Status = core.StepStatusCompleted
	record.Result = encoded
	record.LastError = ""
	record.UpdatedAt = r.client.currentTime()
	if err := r.client.store.SaveStep(ctx, record); err != nil {
		span.RecordError(err)
		return nil, core.DownstreamUnavailable(err, "run store")
	}
	r.history[name] = record
	r.results[name] = encoded
	r.log(ctx, "debug", "step completed", name, nil)
	return append(json.RawMessage(nil), encoded...), nil
}

func (r *Run) log(ctx context.Context, level string, message string, step string, fields map[string]any) {
	merged := map[string]any{
		"function_id": r.record.FunctionID,
		"run_id":      r.record.ID,
		"event_type":  string(r.record.EventType),
		"attempt":     r.record.Attempts,
		"step":        step,
	}
	for key, value := range fields {
		merged[key] = value
	}
	r.client.observer.Log(ctx, level, message, merged)
}

func encodeResult(value any) (json.RawMessage, error) {
	switch typed := value.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(typed) {
			return nil, errors.New("raw result is not valid JSON")
		}
		return append(json.RawMessage(nil), typed...), nil
	default:
		return json.Marshal(value)
	}
}
