package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// RunStore persists durable runs and their step history.
type RunStore interface {
	// CreateRun inserts a pending run or returns the existing run for the same
	// function and event key. The boolean reports whether the run already existed.
	CreateRun(ctx context.Context, run RunRecord) (RunRecord, bool, error)
	GetRun(ctx context.Context, id string) (RunRecord, error)
	// UpdateRun persists a run's mutable fields. A non-empty event key replaces
	// the stored one and releases the previous key.
	UpdateRun(ctx context.Context, run RunRecord) error
	ListSteps(ctx context.Context, runID string) ([]StepRecord, error)
	SaveStep(ctx context.Context, step StepRecord) error
}

// Scheduler is the external durable-execution collaborator that re-invokes
// suspended runs.
type Scheduler interface {
	ScheduleRun(ctx context.Context, run RunRecord, at time.Time) error
}

// UserRepository is the persistence contract invoked after verification.
type UserRepository interface {
	UpsertUser(ctx context.Context, id string, attrs UserAttributes) error
	DeleteUser(ctx context.Context, id string) error
}

type UserReader interface {
	GetUser(ctx context.Context, id string) (User, error)
}

type EventPublisher interface {
	PublishUserSync(ctx context.Context, msg UserSyncMessage) error
}

// SecretSource supplies the shared webhook signing secret.
type SecretSource interface {
	SigningSecret(ctx context.Context) (string, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// StaticSecret serves a secret resolved from configuration.
type StaticSecret string

func (s StaticSecret) SigningSecret(context.Context) (string, error) {
	if s == "" {
		return "", Internal("webhook signing secret is not configured", nil)
	}
	return string(s), nil
}
