package durable

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-userhooks/core"
)

// MemoryStore is an in-process core.RunStore for tests and single-node use.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]core.RunRecord
	byKey map[string]string
	steps map[string]map[string]core.StepRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  map[string]core.RunRecord{},
		byKey: map[string]string{},
		steps: map[string]map[string]core.StepRecord{},
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run core.RunRecord) (core.RunRecord, bool, error) {
	if strings.TrimSpace(run.ID) == "" || strings.TrimSpace(run.FunctionID) == "" || strings.TrimSpace(run.EventKey) == "" {
		return core.RunRecord{}, false, core.BadInput("durable: run id, function id and event key are required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(run.FunctionID, run.EventKey)
	if existingID, ok := s.byKey[key]; ok {
		return cloneRun(s.runs[existingID]), true, nil
	}
	s.runs[run.ID] = cloneRun(run)
	s.byKey[key] = run.ID
	return cloneRun(run), false, nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		return core.RunRecord{}, core.RunNotFound(id)
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run core.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return core.RunNotFound(run.ID)
	}
	if existing.EventKey != run.EventKey && strings.TrimSpace(run.EventKey) != "" {
		oldKey := runKey(existing.FunctionID, existing.EventKey)
		if s.byKey[oldKey] == run.ID {
			delete(s.byKey, oldKey)
		}
		s.byKey[runKey(existing.FunctionID, run.EventKey)] = run.ID
	} else {
		run.EventKey = existing.EventKey
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) ListSteps(_ context.Context, runID string) ([]core.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.steps[strings.TrimSpace(runID)]
	out := make([]core.StepRecord, 0, len(steps))
	for _, step := range steps {
		out = append(out, cloneStep(step))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s *MemoryStore) SaveStep(_ context.Context, step core.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[step.RunID]; !ok {
		return core.RunNotFound(step.RunID)
	}
	if s.steps[step.RunID] == nil {
		s.steps[step.RunID] = map[string]core.StepRecord{}
	}
	if existing, ok := s.steps[step.RunID][step.Name]; ok && existing.Status == core.StepStatusCompleted {
		// completed records are authoritative for the life of the run
		return nil
	}
	s.steps[step.RunID][step.Name] = cloneStep(step)
	return nil
}

func runKey(functionID string, eventKey string) string {
	return strings.TrimSpace(functionID) + "\x00" + strings.TrimSpace(eventKey)
}

func cloneRun(run core.RunRecord) core.RunRecord {
	out := run
	out.Envelope = run.Envelope.Clone()
	out.Output = append(json.RawMessage(nil), run.Output...)
	if run.NextAttemptAt != nil {
		at := *run.NextAttemptAt
		out.NextAttemptAt = &at
	}
	return out
}

func cloneStep(step core.StepRecord) core.StepRecord {
	out := step
	out.Result = append(json.RawMessage(nil), step.Result...)
	return out
}
