package sqlstore_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/durable"
	"github.com/goliatone/go-userhooks/functions"
	"github.com/goliatone/go-userhooks/inbound"
	"github.com/goliatone/go-userhooks/migrations"
	"github.com/goliatone/go-userhooks/registry"
	sqlstore "github.com/goliatone/go-userhooks/store/sql"
	"github.com/goliatone/go-userhooks/webhooks"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-userhooks-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"userhooks_runs", "userhooks_run_steps", "users"} {
		var name string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &name); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if name != table {
			t.Fatalf("expected %s table, got %q", table, name)
		}
	}
}

func TestRunStoreCreateRunDeduplicatesByFunctionAndEventKey(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).RunStore()

	first, existed, err := store.CreateRun(ctx, newRun("clerk/create-db-user", "msg_1"))
	if err != nil || existed {
		t.Fatalf("expected new run, existed=%v err=%v", existed, err)
	}
	again, existed, err := store.CreateRun(ctx, newRun("clerk/create-db-user", "msg_1"))
	if err != nil {
		t.Fatalf("create duplicate run: %v", err)
	}
	if !existed || again.ID != first.ID {
		t.Fatalf("expected existing run %s, got %s existed=%v", first.ID, again.ID, existed)
	}
	if string(again.Envelope.RawBody) != `{"type":"user.created"}` || again.Envelope.Headers.Get("svix-id") != "msg_1" {
		t.Fatalf("expected stored envelope, got %+v", again.Envelope)
	}

	other, existed, err := store.CreateRun(ctx, newRun("clerk/update-db-user", "msg_1"))
	if err != nil || existed || other.ID == first.ID {
		t.Fatalf("expected separate run for another function, got %+v existed=%v err=%v", other, existed, err)
	}
}

func TestRunStoreUpdateRunReleasesEventKey(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).RunStore()

	run, _, err := store.CreateRun(ctx, newRun("clerk/create-db-user", "msg_rejected"))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	run.Status = core.RunStatusPermanentlyFailed
	run.ErrorCode = core.ErrorSignatureInvalid
	run.EventKey = durable.RejectedEventKey(run)
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	next, existed, err := store.CreateRun(ctx, newRun("clerk/create-db-user", "msg_rejected"))
	if err != nil || existed || next.ID == run.ID {
		t.Fatalf("expected released key to accept a new run, got %+v existed=%v err=%v", next, existed, err)
	}
	stored, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.EventKey != durable.RejectedEventKey(run) || stored.Status != core.RunStatusPermanentlyFailed {
		t.Fatalf("expected rejected run to keep its new key, got %+v", stored)
	}
}

func TestRunStoreUpdateAndGetRun(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).RunStore()

	run, _, err := store.CreateRun(ctx, newRun("clerk/create-db-user", "msg_2"))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	retryAt := time.Date(2026, 2, 18, 12, 0, 30, 0, time.UTC)
	run.Status = core.RunStatusSuspended
	run.Attempts = 1
	run.NextAttemptAt = &retryAt
	run.LastError = "user repository unavailable"
	run.ErrorCode = core.ErrorDownstreamUnavailable
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	loaded, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if loaded.Status != core.RunStatusSuspended || loaded.Attempts != 1 || loaded.ErrorCode != core.ErrorDownstreamUnavailable {
		t.Fatalf("unexpected run after update %+v", loaded)
	}
	if loaded.NextAttemptAt == nil || !loaded.NextAttemptAt.Equal(retryAt) {
		t.Fatalf("expected next attempt %s, got %v", retryAt, loaded.NextAttemptAt)
	}

	if _, err := store.GetRun(ctx, uuid.NewString()); !core.HasTextCode(err, core.ErrorRunNotFound) {
		t.Fatalf("expected run not found, got %v", err)
	}
	missing := newRun("clerk/create-db-user", "msg_missing")
	if err := store.UpdateRun(ctx, missing); !core.HasTextCode(err, core.ErrorRunNotFound) {
		t.Fatalf("expected run not found on update, got %v", err)
	}
}

func TestRunStoreSaveStepKeepsCompletedResults(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).RunStore()

	run, _, err := store.CreateRun(ctx, newRun("clerk/create-db-user", "msg_3"))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	upsert := core.StepRecord{ID: uuid.NewString(), RunID: run.ID, Name: "upsert-user", Position: 1, Status: core.StepStatusFailed, Attempts: 1, LastError: "boom"}
	if err := store.SaveStep(ctx, upsert); err != nil {
		t.Fatalf("save failed step: %v", err)
	}
	verify := core.StepRecord{ID: uuid.NewString(), RunID: run.ID, Name: "verify-webhook", Position: 0, Status: core.StepStatusCompleted, Attempts: 1, Result: json.RawMessage(`{"verified":true}`)}
	if err := store.SaveStep(ctx, verify); err != nil {
		t.Fatalf("save completed step: %v", err)
	}

	overwrite := verify
	overwrite.ID = uuid.NewString()
	overwrite.Result = json.RawMessage(`{"verified":false}`)
	if err := store.SaveStep(ctx, overwrite); err != nil {
		t.Fatalf("save overwrite: %v", err)
	}
	upsert.Status = core.StepStatusCompleted
	upsert.Attempts = 2
	upsert.LastError = ""
	upsert.Result = json.RawMessage(`{"user_id":"user_1"}`)
	if err := store.SaveStep(ctx, upsert); err != nil {
		t.Fatalf("complete step: %v", err)
	}

	steps, err := store.ListSteps(ctx, run.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Name != "verify-webhook" || string(steps[0].Result) != `{"verified":true}` {
		t.Fatalf("expected original verify result first, got %+v", steps[0])
	}
	if steps[1].Name != "upsert-user" || steps[1].Status != core.StepStatusCompleted || steps[1].Attempts != 2 {
		t.Fatalf("expected completed upsert step, got %+v", steps[1])
	}

	orphan := core.StepRecord{ID: uuid.NewString(), RunID: uuid.NewString(), Name: "verify-webhook", Status: core.StepStatusPending}
	if err := store.SaveStep(ctx, orphan); !core.HasTextCode(err, core.ErrorRunNotFound) {
		t.Fatalf("expected run not found for orphan step, got %v", err)
	}
}

func TestUserStoreUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	users := newFactory(t).UserStore()

	if err := users.UpsertUser(ctx, "user_1", core.UserAttributes{Name: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := users.UpsertUser(ctx, "user_1", core.UserAttributes{Name: "Ada Lovelace", Email: "ada@example.com", ImageURL: "https://img.example/ada.png"}); err != nil {
		t.Fatalf("update user: %v", err)
	}
	user, err := users.GetUser(ctx, "user_1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Name != "Ada Lovelace" || user.ImageURL != "https://img.example/ada.png" {
		t.Fatalf("expected updated attributes, got %+v", user)
	}

	err = users.UpsertUser(ctx, "user_2", core.UserAttributes{Name: "Other", Email: "ada@example.com"})
	if !core.HasTextCode(err, core.ErrorDownstreamUnavailable) || core.IsNonRetriable(err) {
		t.Fatalf("expected retriable repository failure for duplicate email, got %v", err)
	}

	if err := users.DeleteUser(ctx, "user_1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if err := users.DeleteUser(ctx, "user_1"); err != nil {
		t.Fatalf("delete missing user: %v", err)
	}
	if _, err := users.GetUser(ctx, "user_1"); !core.HasTextCode(err, sqlstore.ErrorUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestWebhookPipelineWithSQLStores(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	now := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

	client, err := durable.NewClient("userhooks-sql-test", factory.RunStore(), durable.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	executor, err := durable.NewExecutor(client)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	reg, err := registry.New(executor)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	verifier := webhooks.NewSignatureVerifier(5 * time.Minute)
	verifier.Now = func() time.Time { return now }
	fns, err := functions.UserLifecycle(functions.Dependencies{
		Secrets:  core.StaticSecret(testSecret),
		Verifier: verifier,
		Users:    factory.UserStore(),
	})
	if err != nil {
		t.Fatalf("user lifecycle: %v", err)
	}
	if err := reg.RegisterAll(fns...); err != nil {
		t.Fatalf("register: %v", err)
	}

	body := `{"type":"user.created","object":"event","data":{"id":"user_sql","first_name":"Grace","last_name":"Hopper","primary_email_address_id":"idn_1","email_addresses":[{"id":"idn_1","email_address":"grace@example.com"}]}}`
	dispatch := func() core.HandlerResult {
		t.Helper()
		event, err := reg.Normalizer().Normalize(ctx, signedRequest(t, "msg_sql", body, now))
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		result, err := reg.Dispatch(ctx, event)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		return result
	}

	first := dispatch()
	if first.Status != core.RunStatusCompleted || first.Replayed {
		t.Fatalf("expected completed run, got %+v", first)
	}
	user, err := factory.UserStore().GetUser(ctx, "user_sql")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Name != "Grace Hopper" || user.Email != "grace@example.com" {
		t.Fatalf("unexpected user %+v", user)
	}

	second := dispatch()
	if !second.Replayed || second.RunID != first.RunID || second.Status != core.RunStatusCompleted {
		t.Fatalf("expected replay of %s, got %+v", first.RunID, second)
	}
	steps, err := factory.RunStore().ListSteps(ctx, first.RunID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 || steps[0].Name != functions.StepVerifyWebhook || steps[1].Name != functions.StepUpsertUser {
		t.Fatalf("unexpected step history %+v", steps)
	}
}

const testSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

func signedRequest(t *testing.T, id string, body string, at time.Time) inbound.Request {
	t.Helper()
	signature, err := webhooks.Sign(testSecret, id, at, []byte(body))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	headers := http.Header{}
	headers.Set("Svix-Id", id)
	headers.Set("Svix-Timestamp", strconv.FormatInt(at.Unix(), 10))
	headers.Set("Svix-Signature", signature)
	return inbound.Request{Headers: headers, Body: []byte(body)}
}

func newRun(functionID string, eventKey string) core.RunRecord {
	now := time.Now().UTC()
	return core.RunRecord{
		ID:         uuid.NewString(),
		FunctionID: functionID,
		EventKey:   eventKey,
		EventType:  core.EventUserCreated,
		Status:     core.RunStatusPending,
		Envelope: core.Envelope{
			RawBody: []byte(`{"type":"user.created"}`),
			Headers: core.Headers{"svix-id": eventKey},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:userhooks-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(testPersistenceConfig{driver: "sqlite3", server: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = migrations.Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.ForDriver("sqlite3"))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
