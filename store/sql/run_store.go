package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-userhooks/core"
	"github.com/uptrace/bun"
)

// RunStore persists durable runs and their step history.
type RunStore struct {
	db    *bun.DB
	runs  repository.Repository[*runRecord]
	steps repository.Repository[*stepRecord]
}

func NewRunStore(db *bun.DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	runs := repository.NewRepository[*runRecord](db, runHandlers())
	if validator, ok := runs.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid run repository wiring: %w", err)
		}
	}
	steps := repository.NewRepository[*stepRecord](db, stepHandlers())
	if validator, ok := steps.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid step repository wiring: %w", err)
		}
	}
	return &RunStore{db: db, runs: runs, steps: steps}, nil
}

func (s *RunStore) CreateRun(ctx context.Context, run core.RunRecord) (core.RunRecord, bool, error) {
	if s == nil || s.runs == nil {
		return core.RunRecord{}, false, fmt.Errorf("sqlstore: run store is not configured")
	}
	run.ID = strings.TrimSpace(run.ID)
	run.FunctionID = strings.TrimSpace(run.FunctionID)
	run.EventKey = strings.TrimSpace(run.EventKey)
	if run.ID == "" || run.FunctionID == "" || run.EventKey == "" {
		return core.RunRecord{}, false, core.BadInput("sqlstore: run id, function id and event key are required", nil)
	}

	created, err := s.runs.Create(ctx, newRunRecord(run))
	if err != nil {
		if !isUniqueViolation(err) {
			return core.RunRecord{}, false, err
		}
		existing, findErr := s.findByEventKey(ctx, run.FunctionID, run.EventKey)
		if findErr != nil {
			return core.RunRecord{}, false, findErr
		}
		if existing == nil {
			return core.RunRecord{}, false, err
		}
		return existing.toDomain(), true, nil
	}
	return created.toDomain(), false, nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (core.RunRecord, error) {
	if s == nil || s.db == nil {
		return core.RunRecord{}, fmt.Errorf("sqlstore: run store is not configured")
	}
	id = strings.TrimSpace(id)
	record := &runRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.RunRecord{}, core.RunNotFound(id)
		}
		return core.RunRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *RunStore) UpdateRun(ctx context.Context, run core.RunRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: run store is not configured")
	}
	record := newRunRecord(run)
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	columns := []string{"status", "attempts", "next_attempt_at", "last_error", "error_code", "output", "updated_at"}
	if strings.TrimSpace(record.EventKey) != "" {
		columns = append(columns, "event_key")
	}
	result, err := s.db.NewUpdate().
		Model(record).
		Column(columns...).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return core.RunNotFound(record.ID)
	}
	return nil
}

func (s *RunStore) ListSteps(ctx context.Context, runID string) ([]core.StepRecord, error) {
	if s == nil || s.steps == nil {
		return nil, fmt.Errorf("sqlstore: run store is not configured")
	}
	records, _, err := s.steps.List(ctx,
		repository.SelectBy("run_id", "=", strings.TrimSpace(runID)),
		repository.OrderBy("step_position ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.StepRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// SaveStep inserts or updates the step identified by run id and name. A
// completed step is never overwritten.
func (s *RunStore) SaveStep(ctx context.Context, step core.StepRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: run store is not configured")
	}
	step.RunID = strings.TrimSpace(step.RunID)
	step.Name = strings.TrimSpace(step.Name)
	if step.RunID == "" || step.Name == "" {
		return core.BadInput("sqlstore: step run id and name are required", nil)
	}
	now := time.Now().UTC()
	if step.UpdatedAt.IsZero() {
		step.UpdatedAt = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &stepRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.run_id = ?", step.RunID).
			Where("?TableAlias.name = ?", step.Name).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			record := newStepRecord(step)
			if record.CreatedAt.IsZero() {
				record.CreatedAt = now
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if isForeignKeyViolation(insertErr) {
					return core.RunNotFound(step.RunID)
				}
				return insertErr
			}
			return nil
		case err != nil:
			return err
		}

		if core.StepStatus(existing.Status) == core.StepStatusCompleted {
			return nil
		}
		existing.Status = string(step.Status)
		existing.Attempts = step.Attempts
		existing.Result = string(step.Result)
		existing.LastError = step.LastError
		existing.UpdatedAt = step.UpdatedAt
		_, err = tx.NewUpdate().
			Model(existing).
			Column("status", "attempts", "result", "last_error", "updated_at").
			Where("id = ?", existing.ID).
			Exec(ctx)
		return err
	})
}

func (s *RunStore) findByEventKey(ctx context.Context, functionID string, eventKey string) (*runRecord, error) {
	record := &runRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.function_id = ?", functionID).
		Where("?TableAlias.event_key = ?", eventKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
