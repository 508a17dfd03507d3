package userhooks

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/durable"
	"github.com/goliatone/go-userhooks/functions"
)

func auditDeleteFunction(calls *int) durable.Function {
	return durable.Function{
		ID:    "audit/user-deleted",
		Event: core.EventUserDeleted,
		Steps: []durable.Step{
			durable.NewStep("audit", func(context.Context, durable.StepInput) (any, error) {
				*calls++
				return map[string]bool{"audited": true}, nil
			}),
		},
	}
}

func TestExtensionHooksRegisterFunctionPack(t *testing.T) {
	hooks := NewExtensionHooks()
	calls := 0
	pack := FunctionPack{Name: "audit", Functions: []durable.Function{auditDeleteFunction(&calls)}}
	if err := hooks.RegisterFunctionPack(pack); err != nil {
		t.Fatalf("register pack: %v", err)
	}
	if err := hooks.RegisterFunctionPack(pack); err == nil {
		t.Fatalf("expected duplicate pack registration error")
	}
	if err := hooks.RegisterFunctionPack(FunctionPack{Name: "empty"}); err == nil {
		t.Fatalf("expected error for pack without functions")
	}
	if err := hooks.RegisterFunctionPack(FunctionPack{Functions: pack.Functions}); err == nil {
		t.Fatalf("expected error for pack without name")
	}
	if got := hooks.FunctionPacks(); len(got) != 1 || got[0].Name != "audit" {
		t.Fatalf("unexpected packs %+v", got)
	}
}

func TestRuntimeAppliesFunctionPacksBeforeLifecycle(t *testing.T) {
	hooks := NewExtensionHooks()
	calls := 0
	var built functions.Dependencies
	if err := hooks.RegisterFunctionPack(FunctionPack{
		Name: "audit",
		Build: func(deps functions.Dependencies) ([]durable.Function, error) {
			built = deps
			return []durable.Function{auditDeleteFunction(&calls)}, nil
		},
	}); err != nil {
		t.Fatalf("register pack: %v", err)
	}

	users := newMemoryUsers()
	rt, err := New(testConfig(),
		WithUserRepository(users),
		WithExtensionHooks(hooks),
		WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if built.Users != users {
		t.Fatalf("expected pack builder to receive the user repository")
	}

	catalog := rt.Registry().Catalog()
	if catalog.FunctionCount != 3 {
		t.Fatalf("expected three functions, got %+v", catalog)
	}
	if _, ok := rt.Registry().Lookup("audit/user-deleted"); !ok {
		t.Fatalf("expected pack function to be registered")
	}
	if _, ok := rt.Registry().Lookup(functions.DeleteUserFunctionID); ok {
		t.Fatalf("expected pack to replace the default delete function")
	}

	result := ingest(t, rt, signedRequest(t, "msg_delete", `{"type":"user.deleted","data":{"id":"user_1","deleted":true}}`))
	if result.Status != core.RunStatusCompleted || result.FunctionID != "audit/user-deleted" {
		t.Fatalf("unexpected result %+v", result)
	}
	if calls != 1 {
		t.Fatalf("expected audit step to run once, got %d", calls)
	}
}
