package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-userhooks/core"
)

// StepInput is handed to every step action.
type StepInput struct {
	RunID      string
	FunctionID string
	Attempt    int
	Event      core.CanonicalEvent
	Results    StepResults
}

// StepResults holds the recorded outputs of the steps completed before the
// current one, keyed by step name.
type StepResults map[string]json.RawMessage

func (r StepResults) Decode(name string, target any) error {
	raw, ok := r[name]
	if !ok {
		return fmt.Errorf("durable: no recorded result for step %q", name)
	}
	return json.Unmarshal(raw, target)
}

func (r StepResults) clone() StepResults {
	out := make(StepResults, len(r))
	for key, value := range r {
		out[key] = append(json.RawMessage(nil), value...)
	}
	return out
}

// StepFunc adapts a plain function into a step action.
type StepFunc func(ctx context.Context, in StepInput) (any, error)

func (f StepFunc) Query(ctx context.Context, in StepInput) (any, error) {
	return f(ctx, in)
}

// Step is a named command registered ahead of execution.
type Step struct {
	Name   string
	Action gocmd.Querier[StepInput, any]
}

func NewStep(name string, fn StepFunc) Step {
	return Step{Name: strings.TrimSpace(name), Action: fn}
}

// Function is a declarative handler: the event it subscribes to and the
// ordered steps it runs.
type Function struct {
	ID    string
	Name  string
	Event core.EventType
	Steps []Step
}

func (f Function) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return core.BadInput("durable: function id is required", nil)
	}
	if !core.IsSupportedEventType(f.Event) {
		return core.BadInput("durable: function event type is not supported", map[string]any{
			"function_id": f.ID,
			"event_type":  string(f.Event),
		})
	}
	if len(f.Steps) == 0 {
		return core.BadInput("durable: function requires at least one step", map[string]any{"function_id": f.ID})
	}
	seen := make(map[string]struct{}, len(f.Steps))
	for _, step := range f.Steps {
		name := strings.TrimSpace(step.Name)
		if name == "" {
			return core.BadInput("durable: step name is required", map[string]any{"function_id": f.ID})
		}
		if step.Action == nil {
			return core.BadInput("durable: step action is required", map[string]any{"function_id": f.ID, "step": name})
		}
		if _, exists := seen[name]; exists {
			return core.BadInput("durable: step names must be unique", map[string]any{"function_id": f.ID, "step": name})
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (f Function) StepNames() []string {
	names := make([]string, 0, len(f.Steps))
	for _, step := range f.Steps {
		names = append(names, strings.TrimSpace(step.Name))
	}
	return names
}

func (f Function) Descriptor() core.FunctionDescriptor {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		name = f.ID
	}
	return core.FunctionDescriptor{
		ID:    f.ID,
		Name:  name,
		Event: f.Event,
		Steps: f.StepNames(),
	}
}
