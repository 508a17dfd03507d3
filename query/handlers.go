package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-userhooks/core"
)

type RunReader interface {
	GetRun(ctx context.Context, id string) (core.RunRecord, error)
}

type FunctionCatalog interface {
	Catalog() core.FunctionCatalog
}

type GetRunQuery struct {
	reader RunReader
}

func NewGetRunQuery(reader RunReader) *GetRunQuery {
	return &GetRunQuery{reader: reader}
}

func (q *GetRunQuery) Query(ctx context.Context, msg GetRunMessage) (core.RunRecord, error) {
	if q == nil || q.reader == nil {
		return core.RunRecord{}, queryDependencyError("query: run reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.RunRecord{}, err
	}
	return q.reader.GetRun(ctx, strings.TrimSpace(msg.RunID))
}

type ListFunctionsQuery struct {
	catalog FunctionCatalog
}

func NewListFunctionsQuery(catalog FunctionCatalog) *ListFunctionsQuery {
	return &ListFunctionsQuery{catalog: catalog}
}

func (q *ListFunctionsQuery) Query(_ context.Context, _ ListFunctionsMessage) (core.FunctionCatalog, error) {
	if q == nil || q.catalog == nil {
		return core.FunctionCatalog{}, queryDependencyError("query: function catalog is required")
	}
	return q.catalog.Catalog(), nil
}
