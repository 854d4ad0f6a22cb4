package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/pricebook-backend/internal/platform/gateway"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/platform/openai"
	"github.com/yungbote/pricebook-backend/internal/platform/qdrant"
	"github.com/yungbote/pricebook-backend/internal/realtime/bus"
)

type Clients struct {
	Redis   *goredis.Client
	Relay   bus.Bus
	Gateway *gateway.Gateway
	// OpenAI is already wrapped by Gateway.
	OpenAI openai.Client
	Vector qdrant.VectorStore
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Redis
	if cfg.RedisEnabled() {
		rdb, err := bus.NewRedisClient(cfg.Redis)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		relay, err := bus.NewRedisBus(log, rdb, cfg.Redis.Channel)
		if err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("init redis event relay: %w", err)
		}
		c.Redis, c.Relay = rdb, relay
	}

	// Openai
	inner, err := openai.NewClient(log, cfg.OpenAI)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}
	c.Gateway = gateway.New(log, cfg.Gateway)
	c.OpenAI = c.Gateway.Wrap(inner)

	// Qdrant
	if cfg.QdrantEnabled {
		vs, err := qdrant.NewVectorStore(ctx, log, cfg.Qdrant)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init qdrant: %w", err)
		}
		c.Vector = instrumentVectorStore(log, "qdrant", vs)
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Relay != nil {
		_ = c.Relay.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
