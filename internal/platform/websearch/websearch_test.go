package websearch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

type fakeClient struct {
	out  map[string]any
	err  error
	user string
}

func (f *fakeClient) WebSearchJSON(_ context.Context, _ string, user string, _ string, _ map[string]any) (map[string]any, error) {
	f.user = user
	return f.out, f.err
}

func TestEstimatePriceDecodes(t *testing.T) {
	c := &fakeClient{out: map[string]any{
		"price": 42.456, "confidence": 1.7, "source_url": " https://example.com/p ", "unit": "m2",
	}}
	est, err := New(logger.Nop(), c).EstimatePrice(context.Background(), "Alicatado de baño", "m2")
	if err != nil {
		t.Fatalf("EstimatePrice: %v", err)
	}
	if !est.Price.Equal(decimal.RequireFromString("42.46")) {
		t.Fatalf("price: want 42.46 got %s", est.Price)
	}
	if est.Confidence != 1 || est.SourceURL != "https://example.com/p" {
		t.Fatalf("unexpected estimate %+v", est)
	}
	if !strings.Contains(c.user, "Alicatado de baño") || !strings.Contains(c.user, "m2") {
		t.Fatalf("prompt missing task: %q", c.user)
	}
}

func TestEstimatePriceZeroPriceHasNoConfidence(t *testing.T) {
	c := &fakeClient{out: map[string]any{"price": 0.0, "confidence": 0.9, "source_url": "", "unit": ""}}
	est, err := New(logger.Nop(), c).EstimatePrice(context.Background(), "x", "u")
	if err != nil {
		t.Fatalf("EstimatePrice: %v", err)
	}
	if est.Confidence != 0 || !est.Price.IsZero() {
		t.Fatalf("zero price should carry zero confidence: %+v", est)
	}
}

func TestEstimatePriceErrors(t *testing.T) {
	boom := errors.New("boom")
	if _, err := New(logger.Nop(), &fakeClient{err: boom}).EstimatePrice(context.Background(), "x", "u"); !errors.Is(err, boom) {
		t.Fatalf("want client error, got %v", err)
	}
	if _, err := New(logger.Nop(), &fakeClient{out: map[string]any{"price": "12"}}).EstimatePrice(context.Background(), "x", "u"); err == nil {
		t.Fatalf("want decode error for string price")
	}
	if _, err := New(logger.Nop(), &fakeClient{}).EstimatePrice(context.Background(), "  ", "u"); err == nil {
		t.Fatalf("want error for empty description")
	}
}
