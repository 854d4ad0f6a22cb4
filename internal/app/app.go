package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/pricebook-backend/internal/data/db"
	"github.com/yungbote/pricebook-backend/internal/http"
	"github.com/yungbote/pricebook-backend/internal/observability"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/envutil"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Server   *http.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg, err := LoadConfig()
	if err != nil {
		log.Sync()
		return nil, err
	}

	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)

	pg, err := db.NewService(log, cfg.DB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	reposet := wireRepos(theDB, log, cfg, clients)
	serviceset, err := wireServices(log, cfg, reposet, clients)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}
	handlerset := wireHandlers(log, theDB, clients.Redis, serviceset)

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Server:       wireServer(log, cfg, handlerset),
		otelShutdown: otelShutdown,
	}, nil
}

// Start fails jobs left running by a previous process and starts the
// cross-instance event forwarder when redis is configured.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	n, err := a.Services.Ingestion.FailInterrupted(dbctx.From(ctx))
	if err != nil {
		return fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if n > 0 {
		a.Log.Warn("Marked interrupted ingestion jobs as failed", "count", n)
	}

	if a.Clients.Relay != nil {
		if err := a.Clients.Relay.StartForwarder(ctx, a.Services.Hub.Broadcast); err != nil {
			return fmt.Errorf("start event forwarder: %w", err)
		}
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return errors.New("app not initialized")
	}
	a.Log.Info("Listening", "port", a.Cfg.Port)
	return a.Server.Run()
}

// Close stops accepting requests, waits for background ingestion and
// flushes telemetry.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP shutdown", "error", err)
		}
	}
	if a.Services.Ingestion != nil {
		a.Services.Ingestion.Shutdown()
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := a.otelShutdown(flushCtx); err != nil {
			a.Log.Warn("OTel shutdown", "error", err)
		}
		cancel()
	}
	a.Log.Sync()
}
