package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-userhooks/core"
)

var (
	_ gocmd.Querier[GetRunMessage, core.RunRecord]              = (*GetRunQuery)(nil)
	_ gocmd.Querier[ListFunctionsMessage, core.FunctionCatalog] = (*ListFunctionsQuery)(nil)
)
