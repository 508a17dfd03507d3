package query

import "strings"

const (
	TypeGetRun        = "userhooks.query.run.get"
	TypeListFunctions = "userhooks.query.functions.list"
)

type GetRunMessage struct {
	RunID string
}

func (GetRunMessage) Type() string { return TypeGetRun }

func (m GetRunMessage) Validate() error {
	if strings.TrimSpace(m.RunID) == "" {
		return queryValidationError("run_id", "run id is required")
	}
	return nil
}

type ListFunctionsMessage struct{}

func (ListFunctionsMessage) Type() string { return TypeListFunctions }
