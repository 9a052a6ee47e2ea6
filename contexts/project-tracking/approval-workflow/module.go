package approvalworkflow

import (
	"log/slog"

	httpadapter "atlas/contexts/project-tracking/approval-workflow/adapters/http"
	"atlas/contexts/project-tracking/approval-workflow/adapters/memory"
	"atlas/contexts/project-tracking/approval-workflow/application/commands"
	"atlas/contexts/project-tracking/approval-workflow/application/queries"
	"atlas/contexts/project-tracking/approval-workflow/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Store   *memory.Store
}

type Dependencies struct {
	Requests     ports.ApprovalRepository
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	VoteAttempts int
	Logger       *slog.Logger
}

func NewModule(deps Dependencies) Module {
	approvalUseCase := commands.ApprovalUseCase{
		Requests:     deps.Requests,
		Clock:        deps.Clock,
		IDGen:        deps.IDGen,
		VoteAttempts: deps.VoteAttempts,
		Logger:       deps.Logger,
	}
	requestQueries := queries.RequestQueries{
		Requests: deps.Requests,
	}
	return Module{
		Handler: httpadapter.Handler{
			Approvals: approvalUseCase,
			Queries:   requestQueries,
			Logger:    deps.Logger,
		},
	}
}

func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Requests: store,
		Clock:    store,
		IDGen:    store,
		Logger:   logger,
	})
	module.Store = store
	return module
}
