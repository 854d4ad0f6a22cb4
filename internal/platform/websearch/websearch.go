package websearch

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

// Estimate is a market price found on the web for one unit of work.
type Estimate struct {
	Price      decimal.Decimal
	Confidence float64
	SourceURL  string
	Unit       string
}

// Searcher finds a unit price for a task description.
type Searcher interface {
	EstimatePrice(ctx context.Context, description, unit string) (*Estimate, error)
}

// JSONSearcher is the part of the completion client used here.
type JSONSearcher interface {
	WebSearchJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

type searcher struct {
	log    *logger.Logger
	client JSONSearcher
}

func New(baseLog *logger.Logger, client JSONSearcher) Searcher {
	return &searcher{log: baseLog.With("component", "WebPriceSearch"), client: client}
}

const systemPrompt = `You look up current Spanish market prices for construction work.
Search the web for the unit price of the task described by the user.
Report the price per requested unit in euros, the page you took it from, and how confident you are
that the price describes the same work (0 means a guess, 1 means an exact listing).
If nothing relevant is found, return price 0 and confidence 0.`

func schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"price":      map[string]any{"type": "number"},
			"confidence": map[string]any{"type": "number"},
			"source_url": map[string]any{"type": "string"},
			"unit":       map[string]any{"type": "string"},
		},
		"required":             []string{"price", "confidence", "source_url", "unit"},
		"additionalProperties": false,
	}
}

func (s *searcher) EstimatePrice(ctx context.Context, description, unit string) (*Estimate, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("websearch: empty description")
	}
	user := fmt.Sprintf("Task: %s\nUnit: %s", description, strings.TrimSpace(unit))
	out, err := s.client.WebSearchJSON(ctx, systemPrompt, user, "price_estimate", schema())
	if err != nil {
		return nil, err
	}
	est, err := decode(out)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Web price estimate", "description", description, "price", est.Price.String(), "confidence", est.Confidence)
	return est, nil
}

func decode(m map[string]any) (*Estimate, error) {
	price, ok := number(m["price"])
	if !ok {
		return nil, fmt.Errorf("websearch: price missing or not a number")
	}
	conf, _ := number(m["confidence"])
	conf = math.Max(0, math.Min(1, conf))
	est := &Estimate{
		Price:      decimal.NewFromFloat(price).Round(2),
		Confidence: conf,
		SourceURL:  strings.TrimSpace(str(m["source_url"])),
		Unit:       strings.TrimSpace(str(m["unit"])),
	}
	if !est.Price.IsPositive() {
		est.Price = decimal.Zero
		est.Confidence = 0
	}
	return est, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
