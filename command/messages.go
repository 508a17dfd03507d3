package command

import (
	"strings"

	"github.com/goliatone/go-userhooks/inbound"
)

const (
	TypeIngestWebhook = "userhooks.command.webhook.ingest"
	TypeResumeRun     = "userhooks.command.run.resume"
)

type IngestWebhookMessage struct {
	Request inbound.Request
}

func (IngestWebhookMessage) Type() string { return TypeIngestWebhook }

func (m IngestWebhookMessage) Validate() error {
	if len(m.Request.Body) == 0 {
		return commandValidationError("body", "webhook body is required")
	}
	return nil
}

type ResumeRunMessage struct {
	FunctionID string
	RunID      string
}

func (ResumeRunMessage) Type() string { return TypeResumeRun }

func (m ResumeRunMessage) Validate() error {
	if strings.TrimSpace(m.FunctionID) == "" {
		return commandValidationError("fnId", "function id is required")
	}
	if strings.TrimSpace(m.RunID) == "" {
		return commandValidationError("runId", "run id is required")
	}
	return nil
}
