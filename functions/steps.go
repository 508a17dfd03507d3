package functions

import (
	"context"
	"fmt"

	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/durable"
	"github.com/goliatone/go-userhooks/webhooks"
)

const (
	StepVerifyWebhook   = "verify-webhook"
	StepUpsertUser      = "upsert-user"
	StepDeleteUser      = "delete-user"
	StepPublishUserSync = "publish-user-sync"
)

// Output is the result reported by a completed user lifecycle run.
type Output struct {
	UserID    string         `json:"user_id"`
	EventType core.EventType `json:"event_type"`
	Processed bool           `json:"processed"`
}

// Dependencies are the collaborators the user lifecycle steps run against.
// Publisher is optional.
type Dependencies struct {
	Secrets   core.SecretSource
	Verifier  *webhooks.SignatureVerifier
	Users     core.UserRepository
	Publisher core.EventPublisher
}

func (d Dependencies) validate() error {
	if d.Secrets == nil {
		return fmt.Errorf("functions: secret source is required")
	}
	if d.Users == nil {
		return fmt.Errorf("functions: user repository is required")
	}
	return nil
}

func (d Dependencies) verifier() *webhooks.SignatureVerifier {
	if d.Verifier != nil {
		return d.Verifier
	}
	return webhooks.NewSignatureVerifier(core.DefaultTimestampTolerance)
}

// VerifyWebhookStep authenticates the raw envelope persisted with the run. Every
// failure is terminal for the run.
func VerifyWebhookStep(deps Dependencies) durable.StepFunc {
	verifier := deps.verifier()
	return func(ctx context.Context, in durable.StepInput) (any, error) {
		secret, err := deps.Secrets.SigningSecret(ctx)
		if err != nil {
			return nil, core.NonRetriable(err)
		}
		payload := in.Event.Payload
		outcome, err := verifier.Verify(payload.RawBody, payload.Headers, secret)
		if err != nil {
			return nil, core.NonRetriable(err)
		}
		if !outcome.Verified {
			return nil, core.NonRetriable(core.SignatureInvalid("webhook signature was not verified", nil))
		}
		return outcome, nil
	}
}

// UpsertUserStep stores the user carried by a created or updated event.
func UpsertUserStep(deps Dependencies) durable.StepFunc {
	return func(ctx context.Context, in durable.StepInput) (any, error) {
		if err := requireVerified(in); err != nil {
			return nil, err
		}
		id, attrs, err := UserFromEvent(in.Event)
		if err != nil {
			return nil, core.NonRetriable(err)
		}
		if err := deps.Users.UpsertUser(ctx, id, attrs); err != nil {
			return nil, classifyRepositoryError(err)
		}
		return Output{UserID: id, EventType: in.Event.EventType, Processed: true}, nil
	}
}

// DeleteUserStep removes the user carried by a deleted event. Deleting a user
// that does not exist succeeds.
func DeleteUserStep(deps Dependencies) durable.StepFunc {
	return func(ctx context.Context, in durable.StepInput) (any, error) {
		if err := requireVerified(in); err != nil {
			return nil, err
		}
		id, err := UserIDFromEvent(in.Event)
		if err != nil {
			return nil, core.NonRetriable(err)
		}
		if err := deps.Users.DeleteUser(ctx, id); err != nil {
			return nil, classifyRepositoryError(err)
		}
		return Output{UserID: id, EventType: in.Event.EventType, Processed: true}, nil
	}
}

// PublishUserSyncStep fans the persisted change out to downstream consumers and
// passes the persistence step output through as the run output.
func PublishUserSyncStep(deps Dependencies, after string) durable.StepFunc {
	return func(ctx context.Context, in durable.StepInput) (any, error) {
		var out Output
		if err := in.Results.Decode(after, &out); err != nil {
			return nil, core.NonRetriable(core.Internal("functions: persistence result is missing", map[string]any{
				"step":  after,
				"cause": err.Error(),
			}))
		}
		msg := core.UserSyncMessage{
			EventID:    in.Event.EventID,
			EventType:  in.Event.EventType,
			UserID:     out.UserID,
			OccurredAt: in.Event.OccurredAt,
		}
		if in.Event.EventType != core.EventUserDeleted {
			if _, attrs, err := UserFromEvent(in.Event); err == nil {
				msg.Attributes = attributesMap(attrs)
			}
		}
		if err := deps.Publisher.PublishUserSync(ctx, msg); err != nil {
			if core.IsNonRetriable(err) {
				return nil, err
			}
			return nil, core.DownstreamUnavailable(err, "event publisher")
		}
		return out, nil
	}
}

func requireVerified(in durable.StepInput) error {
	var outcome core.VerificationOutcome
	if err := in.Results.Decode(StepVerifyWebhook, &outcome); err != nil || !outcome.Verified {
		return core.NonRetriable(core.SignatureInvalid("webhook must be verified before processing", map[string]any{
			"run_id": in.RunID,
		}))
	}
	return nil
}

func classifyRepositoryError(err error) error {
	if core.TextCode(err) != "" {
		return err
	}
	return core.DownstreamUnavailable(err, "user repository")
}
