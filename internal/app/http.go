package app

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/pricebook-backend/internal/http"
	httpH "github.com/yungbote/pricebook-backend/internal/http/handlers"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

type Handlers struct {
	Health  *httpH.HealthHandler
	Catalog *httpH.CatalogHandler
	Job     *httpH.JobHandler
	Budget  *httpH.BudgetHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, rdb *goredis.Client, services Services) Handlers {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Pinger{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return Handlers{
		Health:  httpH.NewHealthHandler(checks),
		Catalog: httpH.NewCatalogHandler(log, services.Ingestion, services.Search),
		Job:     httpH.NewJobHandler(services.Ingestion, services.Hub),
		Budget:  httpH.NewBudgetHandler(services.Orchestrator, services.Hub),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers) *http.Server {
	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	return http.NewServer(":"+cfg.Port, http.RouterConfig{
		Log:            log,
		ServiceName:    serviceName,
		CORSOrigins:    cfg.CORSOrigins,
		CatalogHandler: handlers.Catalog,
		JobHandler:     handlers.Job,
		BudgetHandler:  handlers.Budget,
		HealthHandler:  handlers.Health,
	})
}
