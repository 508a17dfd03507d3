package userhooks

import (
	"fmt"

	"github.com/goliatone/go-userhooks/command"
	"github.com/goliatone/go-userhooks/query"
)

// FacadeService is the pipeline surface the facade drives.
type FacadeService interface {
	command.WebhookIngester
	command.RunResumer
	query.FunctionCatalog
}

type Commands struct {
	IngestWebhook *command.IngestWebhookCommand
	ResumeRun     *command.ResumeRunCommand
}

type Queries struct {
	GetRun        *query.GetRunQuery
	ListFunctions *query.ListFunctionsQuery
}

type Facade struct {
	service  FacadeService
	commands Commands
	queries  Queries
}

func NewFacade(service FacadeService, runs query.RunReader) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("userhooks: facade service is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("userhooks: run reader is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			IngestWebhook: command.NewIngestWebhookCommand(service),
			ResumeRun:     command.NewResumeRunCommand(service),
		},
		queries: Queries{
			GetRun:        query.NewGetRunQuery(runs),
			ListFunctions: query.NewListFunctionsQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() FacadeService {
	if f == nil {
		return nil
	}
	return f.service
}
