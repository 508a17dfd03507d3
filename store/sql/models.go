package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/goliatone/go-userhooks/core"
	"github.com/uptrace/bun"
)

type runRecord struct {
	bun.BaseModel `bun:"table:userhooks_runs,alias:ur"`

	ID            string            `bun:"id,pk"`
	FunctionID    string            `bun:"function_id,notnull"`
	EventKey      string            `bun:"event_key,notnull"`
	EventType     string            `bun:"event_type,notnull"`
	Status        string            `bun:"status,notnull"`
	Attempts      int               `bun:"attempts,notnull"`
	NextAttemptAt *time.Time        `bun:"next_attempt_at,nullzero"`
	LastError     string            `bun:"last_error,notnull"`
	ErrorCode     string            `bun:"error_code,notnull"`
	RawBody       []byte            `bun:"raw_body,notnull"`
	Headers       map[string]string `bun:"headers,type:jsonb,notnull"`
	QueryParams   map[string]string `bun:"query_params,type:jsonb,notnull"`
	Output        string            `bun:"output,notnull"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type stepRecord struct {
	bun.BaseModel `bun:"table:userhooks_run_steps,alias:urs"`

	ID        string    `bun:"id,pk"`
	RunID     string    `bun:"run_id,notnull"`
	Name      string    `bun:"name,notnull"`
	Position  int       `bun:"step_position,notnull"`
	Status    string    `bun:"status,notnull"`
	Attempts  int       `bun:"attempts,notnull"`
	Result    string    `bun:"result,notnull"`
	LastError string    `bun:"last_error,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	ImageURL  string    `bun:"image_url,notnull"`
	Email     string    `bun:"email,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newRunRecord(run core.RunRecord) *runRecord {
	record := &runRecord{
		ID:          run.ID,
		FunctionID:  run.FunctionID,
		EventKey:    run.EventKey,
		EventType:   string(run.EventType),
		Status:      string(run.Status),
		Attempts:    run.Attempts,
		LastError:   run.LastError,
		ErrorCode:   run.ErrorCode,
		RawBody:     append([]byte(nil), run.Envelope.RawBody...),
		Headers:     copyStringMap(run.Envelope.Headers),
		QueryParams: copyStringMap(run.Envelope.QueryParams),
		Output:      string(run.Output),
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
	}
	if run.NextAttemptAt != nil {
		at := run.NextAttemptAt.UTC()
		record.NextAttemptAt = &at
	}
	if record.RawBody == nil {
		record.RawBody = []byte{}
	}
	return record
}

func (r *runRecord) toDomain() core.RunRecord {
	if r == nil {
		return core.RunRecord{}
	}
	run := core.RunRecord{
		ID:         r.ID,
		FunctionID: r.FunctionID,
		EventKey:   r.EventKey,
		EventType:  core.EventType(r.EventType),
		Status:     core.RunStatus(r.Status),
		Attempts:   r.Attempts,
		LastError:  r.LastError,
		ErrorCode:  r.ErrorCode,
		Envelope: core.Envelope{
			RawBody:     append([]byte(nil), r.RawBody...),
			Headers:     core.Headers(copyStringMap(r.Headers)),
			QueryParams: copyStringMap(r.QueryParams),
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.Output != "" {
		run.Output = json.RawMessage(r.Output)
	}
	if r.NextAttemptAt != nil {
		at := r.NextAttemptAt.UTC()
		run.NextAttemptAt = &at
	}
	return run
}

func newStepRecord(step core.StepRecord) *stepRecord {
	return &stepRecord{
		ID:        step.ID,
		RunID:     step.RunID,
		Name:      step.Name,
		Position:  step.Position,
		Status:    string(step.Status),
		Attempts:  step.Attempts,
		Result:    string(step.Result),
		LastError: step.LastError,
		CreatedAt: step.CreatedAt,
		UpdatedAt: step.UpdatedAt,
	}
}

func (r *stepRecord) toDomain() core.StepRecord {
	if r == nil {
		return core.StepRecord{}
	}
	step := core.StepRecord{
		ID:        r.ID,
		RunID:     r.RunID,
		Name:      r.Name,
		Position:  r.Position,
		Status:    core.StepStatus(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.Result != "" {
		step.Result = json.RawMessage(r.Result)
	}
	return step
}

func (r *userRecord) toDomain() core.User {
	if r == nil {
		return core.User{}
	}
	return core.User{
		ID:        r.ID,
		Name:      r.Name,
		ImageURL:  r.ImageURL,
		Email:     r.Email,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
