package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-userhooks/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const (
	JobIDResumeRun = "userhooks.run.resume"

	ParamRunID      = "run_id"
	ParamFunctionID = "function_id"
	ParamNotBefore  = "not_before"
	ParamAttempt    = "attempt"

	dedupPolicyDrop = "drop"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	RetryDelay      time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func (p RetryPolicy) retryDelay() time.Duration {
	if p.RetryDelay > 0 {
		return p.RetryDelay
	}
	return 5 * time.Second
}

// ResumeRequest is the decoded payload of a resume job.
type ResumeRequest struct {
	RunID      string
	FunctionID string
	NotBefore  time.Time
	Attempt    int
}

// ResumeMessage builds the go-job message that asks a worker to resume run
// once at has passed. The idempotency key is scoped to the run attempt.
func ResumeMessage(run core.RunRecord, at time.Time) *job.ExecutionMessage {
	runID := strings.TrimSpace(run.ID)
	return &job.ExecutionMessage{
		JobID:      JobIDResumeRun,
		ScriptPath: JobIDResumeRun,
		Parameters: map[string]any{
			ParamRunID:      runID,
			ParamFunctionID: strings.TrimSpace(run.FunctionID),
			ParamNotBefore:  at.UTC().Format(time.RFC3339Nano),
			ParamAttempt:    run.Attempts,
		},
		IdempotencyKey: runID + ":" + strconv.Itoa(run.Attempts),
		DedupPolicy:    job.DeduplicationPolicy(dedupPolicyDrop),
	}
}

// ParseResumeMessage decodes a resume job. Parameters may arrive as strings
// after a trip through a serializing queue.
func ParseResumeMessage(msg *job.ExecutionMessage) (ResumeRequest, error) {
	if msg == nil {
		return ResumeRequest{}, core.BadInput("gojob: execution message is required", nil)
	}
	if strings.TrimSpace(msg.JobID) != JobIDResumeRun {
		return ResumeRequest{}, core.BadInput("gojob: unsupported job id", map[string]any{"job_id": msg.JobID})
	}
	req := ResumeRequest{
		RunID:      stringParam(msg.Parameters, ParamRunID),
		FunctionID: stringParam(msg.Parameters, ParamFunctionID),
		Attempt:    intParam(msg.Parameters, ParamAttempt),
	}
	if req.RunID == "" || req.FunctionID == "" {
		return ResumeRequest{}, core.BadInput("gojob: run id and function id are required", map[string]any{
			"run_id":      req.RunID,
			"function_id": req.FunctionID,
		})
	}
	if raw := stringParam(msg.Parameters, ParamNotBefore); raw != "" {
		notBefore, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return ResumeRequest{}, core.BadInput("gojob: invalid not_before parameter", map[string]any{"not_before": raw})
		}
		req.NotBefore = notBefore.UTC()
	}
	return req, nil
}

// RunScheduler is a core.Scheduler that enqueues resume jobs.
type RunScheduler struct {
	enqueuer queue.Enqueuer
}

func NewRunScheduler(enqueuer queue.Enqueuer) *RunScheduler {
	return &RunScheduler{enqueuer: enqueuer}
}

func (s *RunScheduler) ScheduleRun(ctx context.Context, run core.RunRecord, at time.Time) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(run.ID) == "" || strings.TrimSpace(run.FunctionID) == "" {
		return core.BadInput("gojob: run id and function id are required", nil)
	}
	if err := s.enqueuer.Enqueue(ctx, ResumeMessage(run, at)); err != nil {
		return core.DownstreamUnavailable(err, "job queue")
	}
	return nil
}

var _ core.Scheduler = (*RunScheduler)(nil)
