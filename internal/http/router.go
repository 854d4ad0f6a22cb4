package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/pricebook-backend/internal/http/handlers"
	httpMW "github.com/yungbote/pricebook-backend/internal/http/middleware"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	CatalogHandler *httpH.CatalogHandler
	JobHandler     *httpH.JobHandler
	BudgetHandler  *httpH.BudgetHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.TraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Catalog
		if cfg.CatalogHandler != nil {
			api.POST("/catalog/ingest", cfg.CatalogHandler.Ingest)
			api.GET("/catalog/search", cfg.CatalogHandler.Search)
			api.GET("/catalog/items/:year/:code", cfg.CatalogHandler.GetItem)
			api.DELETE("/catalog/years/:year", cfg.CatalogHandler.DeleteYear)
		}

		// Ingestion jobs
		if cfg.JobHandler != nil {
			api.GET("/catalog/jobs/:id", cfg.JobHandler.GetJob)
			api.GET("/catalog/jobs/:id/events", cfg.JobHandler.JobEvents)
		}

		// Budgets
		if cfg.BudgetHandler != nil {
			api.POST("/leads/:leadId/budget", cfg.BudgetHandler.Generate)
			api.GET("/leads/:leadId/events", cfg.BudgetHandler.Events)
			api.POST("/resolve", cfg.BudgetHandler.Resolve)
		}
	}
	return r
}
