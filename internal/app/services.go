package app

import (
	"fmt"

	"github.com/yungbote/pricebook-backend/internal/ingestion/pipeline"
	"github.com/yungbote/pricebook-backend/internal/modules/budget/orchestrator"
	"github.com/yungbote/pricebook-backend/internal/modules/budget/resolver"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/platform/websearch"
	"github.com/yungbote/pricebook-backend/internal/realtime"
	"github.com/yungbote/pricebook-backend/internal/services"
)

type Services struct {
	Hub          *realtime.SSEHub
	Bus          *realtime.EventBus
	Ingestion    services.IngestionService
	Search       services.CatalogSearchService
	Resolver     *resolver.Resolver
	Orchestrator *orchestrator.Orchestrator
}

func wireServices(log *logger.Logger, cfg Config, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	hub := realtime.NewSSEHub(log, realtime.WithHeartbeat(cfg.SSEHeartbeat), realtime.WithReplay(repos.Events))
	sinks := []realtime.Sink{realtime.NewRepoSink(repos.Events), realtime.NewHubSink(hub)}
	if clients.Relay != nil {
		sinks = append(sinks, realtime.NewRelaySink(clients.Relay))
	}
	eventBus := realtime.NewEventBus(log, realtime.NewMultiSink(sinks...))

	var opts []pipeline.Option
	if clients.Redis != nil {
		opts = append(opts, pipeline.WithLocker(services.NewYearLocker(log, clients.Redis)))
	}
	pipe := pipeline.New(log, cfg.Ingestion, repos.Catalog, repos.Jobs, clients.OpenAI, eventBus, opts...)
	ingestion := services.NewIngestionService(log, repos.Jobs, pipe)

	search, err := services.NewCatalogSearchService(log, repos.Catalog, clients.OpenAI, cfg.QueryCacheSize)
	if err != nil {
		return Services{}, fmt.Errorf("init catalog search: %w", err)
	}

	res := resolver.New(log, cfg.Resolver, search, websearch.New(log, clients.OpenAI), clients.OpenAI)
	orch := orchestrator.New(log, cfg.Orchestrator, clients.OpenAI, res, eventBus)

	return Services{
		Hub:          hub,
		Bus:          eventBus,
		Ingestion:    ingestion,
		Search:       search,
		Resolver:     res,
		Orchestrator: orch,
	}, nil
}
