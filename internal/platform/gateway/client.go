package gateway

import (
	"context"

	"github.com/yungbote/pricebook-backend/internal/platform/openai"
)

type guardedClient struct {
	inner openai.Client
	gw    *Gateway
}

// Wrap returns a client whose every call goes through g.
func (g *Gateway) Wrap(inner openai.Client) openai.Client {
	if inner == nil {
		return nil
	}
	return &guardedClient{inner: inner, gw: g}
}

func (c *guardedClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return Call(ctx, c.gw, "embed", func(ctx context.Context) ([][]float32, error) {
		return c.inner.Embed(ctx, inputs)
	})
}

func (c *guardedClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return Call(ctx, c.gw, "complete_json:"+schemaName, func(ctx context.Context) (map[string]any, error) {
		return c.inner.GenerateJSON(ctx, system, user, schemaName, schema)
	})
}

func (c *guardedClient) WebSearchJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return Call(ctx, c.gw, "web_search:"+schemaName, func(ctx context.Context) (map[string]any, error) {
		return c.inner.WebSearchJSON(ctx, system, user, schemaName, schema)
	})
}
