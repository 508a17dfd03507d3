package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/inbound"
)

type WebhookIngester interface {
	Ingest(ctx context.Context, req inbound.Request) (core.HandlerResult, error)
}

type RunResumer interface {
	Resume(ctx context.Context, functionID string, runID string) (core.HandlerResult, error)
}

// IngestWebhookCommand normalizes and dispatches one webhook delivery. The
// handler result is stored in the context result collector when present.
type IngestWebhookCommand struct {
	service WebhookIngester
}

func NewIngestWebhookCommand(service WebhookIngester) *IngestWebhookCommand {
	return &IngestWebhookCommand{service: service}
}

func (c *IngestWebhookCommand) Execute(ctx context.Context, msg IngestWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook ingester is required")
	}
	if err := msg.Validate(); err != nil {
		return core.NonRetriable(err)
	}
	out, err := c.service.Ingest(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResumeRunCommand struct {
	service RunResumer
}

func NewResumeRunCommand(service RunResumer) *ResumeRunCommand {
	return &ResumeRunCommand{service: service}
}

func (c *ResumeRunCommand) Execute(ctx context.Context, msg ResumeRunMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: run resumer is required")
	}
	if err := msg.Validate(); err != nil {
		return core.NonRetriable(err)
	}
	out, err := c.service.Resume(ctx, msg.FunctionID, msg.RunID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
