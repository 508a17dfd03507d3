package registry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/durable"
	"github.com/goliatone/go-userhooks/inbound"
)

// Registry maps each supported event type to the single function that
// handles it and dispatches canonical events to the durable executor.
// Functions are registered at process start.
type Registry struct {
	executor   *durable.Executor
	normalizer *inbound.Normalizer

	mu      sync.RWMutex
	byEvent map[core.EventType]durable.Function
	byID    map[string]durable.Function
}

func New(executor *durable.Executor) (*Registry, error) {
	if executor == nil {
		return nil, fmt.Errorf("registry: executor is required")
	}
	r := &Registry{
		executor: executor,
		byEvent:  map[core.EventType]durable.Function{},
		byID:     map[string]durable.Function{},
	}
	r.normalizer = inbound.NewNormalizer(r)
	return r, nil
}

// Register binds fn to eventType. Each event type and function id may be
// registered once.
func (r *Registry) Register(eventType core.EventType, fn durable.Function) error {
	if r == nil {
		return core.Internal("registry: registry is nil", nil)
	}
	eventType = core.EventType(strings.TrimSpace(string(eventType)))
	if !core.IsSupportedEventType(eventType) {
		return core.UnknownEventType(string(eventType))
	}
	if fn.Event == "" {
		fn.Event = eventType
	}
	if fn.Event != eventType {
		return core.BadInput("registry: function subscribes to a different event type", map[string]any{
			"function_id": fn.ID,
			"event_type":  string(eventType),
			"subscribed":  string(fn.Event),
		})
	}
	if err := fn.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, exists := r.byEvent[eventType]; exists {
		return conflict("registry: handler already registered for event type", map[string]any{
			"event_type":  string(eventType),
			"function_id": existing.ID,
		})
	}
	if _, exists := r.byID[fn.ID]; exists {
		return conflict("registry: function id already registered", map[string]any{"function_id": fn.ID})
	}
	r.byEvent[eventType] = fn
	r.byID[fn.ID] = fn
	return nil
}

// RegisterAll registers each function under its own event type.
func (r *Registry) RegisterAll(fns ...durable.Function) error {
	for _, fn := range fns {
		if err := r.Register(fn.Event, fn); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether a handler is registered for eventType. It lets the
// registry act as the normalizer's set of known event types.
func (r *Registry) Has(eventType core.EventType) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEvent[eventType]
	return ok
}

func (r *Registry) Lookup(functionID string) (durable.Function, bool) {
	if r == nil {
		return durable.Function{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byID[strings.TrimSpace(functionID)]
	return fn, ok
}

// Functions returns the registered set sorted by function id.
func (r *Registry) Functions() []core.FunctionDescriptor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]core.FunctionDescriptor, 0, len(r.byID))
	for _, fn := range r.byID {
		out = append(out, fn.Descriptor())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) AppID() string {
	if r == nil {
		return ""
	}
	return r.executor.Client().AppID()
}

func (r *Registry) Catalog() core.FunctionCatalog {
	functions := r.Functions()
	if functions == nil {
		functions = []core.FunctionDescriptor{}
	}
	return core.FunctionCatalog{
		AppID:         r.AppID(),
		FunctionCount: len(functions),
		Functions:     functions,
	}
}

// Normalizer returns the normalizer bound to this registry's event types.
func (r *Registry) Normalizer() *inbound.Normalizer {
	if r == nil {
		return nil
	}
	return r.normalizer
}

// Dispatch routes event to its function. An unregistered event type fails
// with NoHandlerRegistered before any run is created. Redelivered events
// resolve to their existing run and continue from the envelope stored with
// it; terminal runs are replayed.
func (r *Registry) Dispatch(ctx context.Context, event core.CanonicalEvent) (core.HandlerResult, error) {
	if r == nil {
		return core.HandlerResult{}, core.Internal("registry: registry is nil", nil)
	}
	r.mu.RLock()
	fn, ok := r.byEvent[event.EventType]
	r.mu.RUnlock()
	if !ok {
		return core.HandlerResult{}, core.NonRetriable(core.NoHandlerRegistered(string(event.EventType)))
	}

	for attempt := 0; ; attempt++ {
		run, existed, err := r.executor.Start(ctx, fn, event)
		if err != nil {
			return core.HandlerResult{}, err
		}
		if !existed {
			return r.executor.Execute(ctx, fn, run, event)
		}
		result, err := r.continueRun(ctx, fn, run)
		if err != nil || attempt > 0 || !rejected(result) {
			return result, err
		}
		// the run holding this key failed authentication, which released the
		// key; this delivery gets a run of its own
	}
}

func (r *Registry) continueRun(ctx context.Context, fn durable.Function, run core.RunRecord) (core.HandlerResult, error) {
	if run.Status.Terminal() {
		return durable.ResultFromRun(run, true), nil
	}
	event, err := r.normalizer.FromEnvelope(ctx, run.Envelope)
	if err != nil {
		return core.HandlerResult{}, core.NonRetriable(err)
	}
	return r.executor.Execute(ctx, fn, run, event)
}

func rejected(result core.HandlerResult) bool {
	return result.Status == core.RunStatusPermanentlyFailed && core.IsAuthenticationCode(result.ErrorCode)
}

// Ingest normalizes one inbound webhook and dispatches it.
func (r *Registry) Ingest(ctx context.Context, req inbound.Request) (core.HandlerResult, error) {
	if r == nil {
		return core.HandlerResult{}, core.Internal("registry: registry is nil", nil)
	}
	event, err := r.normalizer.Normalize(ctx, req)
	if err != nil {
		return core.HandlerResult{}, core.NonRetriable(err)
	}
	return r.Dispatch(ctx, event)
}

// Resume re-invokes a stored run. The canonical event is rebuilt from the
// envelope persisted with the run.
func (r *Registry) Resume(ctx context.Context, functionID string, runID string) (core.HandlerResult, error) {
	if r == nil {
		return core.HandlerResult{}, core.Internal("registry: registry is nil", nil)
	}
	fn, ok := r.Lookup(functionID)
	if !ok {
		return core.HandlerResult{}, core.NonRetriable(core.NoHandlerRegistered(strings.TrimSpace(functionID)))
	}
	run, err := r.executor.Client().Store().GetRun(ctx, strings.TrimSpace(runID))
	if err != nil {
		if core.HasTextCode(err, core.ErrorRunNotFound) {
			return core.HandlerResult{}, core.NonRetriable(err)
		}
		return core.HandlerResult{}, core.DownstreamUnavailable(err, "run store")
	}
	if run.FunctionID != fn.ID {
		return core.HandlerResult{}, core.NonRetriable(core.RunNotFound(run.ID))
	}
	return r.continueRun(ctx, fn, run)
}

func conflict(message string, metadata map[string]any) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(core.ErrorBadInput).
		WithMetadata(metadata)
}
