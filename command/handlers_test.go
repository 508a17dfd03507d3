package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/inbound"
)

type stubService struct {
	ingestFn func(context.Context, inbound.Request) (core.HandlerResult, error)
	resumeFn func(context.Context, string, string) (core.HandlerResult, error)
}

func (s stubService) Ingest(ctx context.Context, req inbound.Request) (core.HandlerResult, error) {
	return s.ingestFn(ctx, req)
}

func (s stubService) Resume(ctx context.Context, functionID string, runID string) (core.HandlerResult, error) {
	return s.resumeFn(ctx, functionID, runID)
}

func TestIngestWebhookCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.HandlerResult{FunctionID: "clerk/create-db-user", RunID: "run_1", Status: core.RunStatusCompleted}
	called := false
	svc := stubService{
		ingestFn: func(_ context.Context, req inbound.Request) (core.HandlerResult, error) {
			called = true
			if string(req.Body) != `{"type":"user.created"}` {
				t.Fatalf("unexpected body %q", req.Body)
			}
			return expected, nil
		},
	}

	cmd := NewIngestWebhookCommand(svc)
	collector := gocmd.NewResult[core.HandlerResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := cmd.Execute(ctx, IngestWebhookMessage{Request: inbound.Request{Body: []byte(`{"type":"user.created"}`)}}); err != nil {
		t.Fatalf("execute ingest: %v", err)
	}
	if !called {
		t.Fatalf("expected ingester invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.RunID != expected.RunID || result.Status != expected.Status {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestResumeRunCommand_ExecuteDelegatesAndPropagatesErrors(t *testing.T) {
	svc := stubService{
		resumeFn: func(_ context.Context, functionID string, runID string) (core.HandlerResult, error) {
			if functionID != "fn" || runID != "run_1" {
				t.Fatalf("unexpected resume payload: %q %q", functionID, runID)
			}
			return core.HandlerResult{}, core.DownstreamUnavailable(errors.New("db down"), "run store")
		},
	}
	err := NewResumeRunCommand(svc).Execute(context.Background(), ResumeRunMessage{FunctionID: "fn", RunID: "run_1"})
	if !core.HasTextCode(err, core.ErrorDownstreamUnavailable) {
		t.Fatalf("expected downstream error, got %v", err)
	}
}

func TestMessagesValidateWithRichErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "ingest without body", err: (IngestWebhookMessage{}).Validate()},
		{name: "resume without function", err: (ResumeRunMessage{RunID: "run_1"}).Validate()},
		{name: "resume without run", err: (ResumeRunMessage{FunctionID: "fn"}).Validate()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rich *goerrors.Error
			if !goerrors.As(tt.err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", tt.err)
			}
			if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ErrorBadInput {
				t.Fatalf("unexpected envelope %q/%q", rich.Category, rich.TextCode)
			}
		})
	}

	err := NewResumeRunCommand(stubService{}).Execute(context.Background(), ResumeRunMessage{})
	if !core.IsNonRetriable(err) {
		t.Fatalf("expected invalid resume message to be non-retriable, got %v", err)
	}
}

func TestCommands_NilServiceReturnsRichError(t *testing.T) {
	var cmd *IngestWebhookCommand
	err := cmd.Execute(context.Background(), IngestWebhookMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal go-errors envelope, got %v", err)
	}
}
