package functions

import (
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/durable"
)

const (
	CreateUserFunctionID = "clerk/create-db-user"
	UpdateUserFunctionID = "clerk/update-db-user"
	DeleteUserFunctionID = "clerk/delete-db-user"
)

func CreateUser(deps Dependencies) durable.Function {
	return userFunction(CreateUserFunctionID, "clerk-create-db-user", core.EventUserCreated,
		durable.NewStep(StepUpsertUser, UpsertUserStep(deps)), deps)
}

func UpdateUser(deps Dependencies) durable.Function {
	return userFunction(UpdateUserFunctionID, "clerk-update-db-user", core.EventUserUpdated,
		durable.NewStep(StepUpsertUser, UpsertUserStep(deps)), deps)
}

func DeleteUser(deps Dependencies) durable.Function {
	return userFunction(DeleteUserFunctionID, "clerk-delete-db-user", core.EventUserDeleted,
		durable.NewStep(StepDeleteUser, DeleteUserStep(deps)), deps)
}

// UserLifecycle returns the functions for every supported user event.
func UserLifecycle(deps Dependencies) ([]durable.Function, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return []durable.Function{CreateUser(deps), UpdateUser(deps), DeleteUser(deps)}, nil
}

func userFunction(id string, name string, event core.EventType, persist durable.Step, deps Dependencies) durable.Function {
	steps := []durable.Step{
		durable.NewStep(StepVerifyWebhook, VerifyWebhookStep(deps)),
		persist,
	}
	if deps.Publisher != nil {
		steps = append(steps, durable.NewStep(StepPublishUserSync, PublishUserSyncStep(deps, persist.Name)))
	}
	return durable.Function{ID: id, Name: name, Event: event, Steps: steps}
}
