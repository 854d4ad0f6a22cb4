package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/pricebook-backend/internal/data/db"
	"github.com/yungbote/pricebook-backend/internal/ingestion/pipeline"
	"github.com/yungbote/pricebook-backend/internal/modules/budget/orchestrator"
	"github.com/yungbote/pricebook-backend/internal/modules/budget/resolver"
	"github.com/yungbote/pricebook-backend/internal/observability"
	"github.com/yungbote/pricebook-backend/internal/platform/envutil"
	"github.com/yungbote/pricebook-backend/internal/platform/gateway"
	"github.com/yungbote/pricebook-backend/internal/platform/openai"
	"github.com/yungbote/pricebook-backend/internal/platform/qdrant"
	"github.com/yungbote/pricebook-backend/internal/realtime/bus"
)

type Config struct {
	Env         string
	Port        string
	CORSOrigins []string

	DB            db.Config
	Redis         bus.RedisConfig
	Qdrant        qdrant.Config
	QdrantEnabled bool

	OpenAI       openai.Config
	Gateway      gateway.Config
	Ingestion    pipeline.Config
	Resolver     resolver.Config
	Orchestrator orchestrator.Config
	Otel         observability.OtelConfig

	SSEHeartbeat   time.Duration
	QueryCacheSize int
	SnapshotTTL    time.Duration
}

func (c Config) RedisEnabled() bool { return c.Redis.Addr != "" }

func LoadConfig() (Config, error) {
	resolverCfg, err := resolver.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("resolver config: %w", err)
	}
	qcfg, qok, err := qdrant.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("qdrant config: %w", err)
	}
	cfg := Config{
		Env:         envutil.String("APP_ENV", "development"),
		Port:        envutil.String("PORT", "8080"),
		CORSOrigins: splitList(envutil.String("CORS_ORIGINS", "")),

		DB: db.ConfigFromEnv(),
		Redis: bus.RedisConfig{
			Addr:     envutil.String("REDIS_ADDR", ""),
			Password: envutil.String("REDIS_PASSWORD", ""),
			DB:       envutil.Int("REDIS_DB", 0),
			Channel:  envutil.String("REDIS_CHANNEL", ""),
		},
		Qdrant:        qcfg,
		QdrantEnabled: qok,

		OpenAI:       openai.ConfigFromEnv(),
		Gateway:      gateway.ConfigFromEnv(),
		Ingestion:    pipeline.ConfigFromEnv(),
		Resolver:     resolverCfg,
		Orchestrator: orchestrator.ConfigFromEnv(),
		Otel:         observability.OtelConfigFromEnv(),

		SSEHeartbeat:   envutil.Seconds("SSE_HEARTBEAT_SECONDS", 15*time.Second),
		QueryCacheSize: envutil.Int("SEARCH_EMBED_CACHE_SIZE", 1024),
		SnapshotTTL:    envutil.Seconds("CATALOG_SNAPSHOT_TTL_SECONDS", 5*time.Minute),
	}
	if cfg.QdrantEnabled && cfg.Qdrant.VectorDim != cfg.Ingestion.EmbedDim {
		return Config{}, fmt.Errorf("QDRANT_VECTOR_DIM %d does not match EMBED_DIM %d", cfg.Qdrant.VectorDim, cfg.Ingestion.EmbedDim)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
