package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	budget "github.com/yungbote/pricebook-backend/internal/domain/budget"
	catalog "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/platform/websearch"
)

var errDown = errors.New("service down")

type fakeCatalog struct {
	mu      sync.Mutex
	calls   int
	matches []catalog.Match
	err     error
}

func (f *fakeCatalog) Search(_ dbctx.Context, _ string, k int, _ *catalog.Filter) ([]catalog.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if k < MinSearchK {
		return nil, fmt.Errorf("k=%d below minimum", k)
	}
	return f.matches, f.err
}

type fakeEstimator struct {
	mu    sync.Mutex
	calls int
	fn    func(description string) (*websearch.Estimate, error)
}

func (f *fakeEstimator) EstimatePrice(_ context.Context, description, _ string) (*websearch.Estimate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn == nil {
		return nil, errDown
	}
	return f.fn(description)
}

type fakeCompleter struct {
	mu         sync.Mutex
	calls      map[string]int
	category   string
	decompose  func(user string) (map[string]any, error)
	triageFail bool
}

func (f *fakeCompleter) GenerateJSON(_ context.Context, _ string, user string, schemaName string, _ map[string]any) (map[string]any, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[schemaName]++
	f.mu.Unlock()
	switch schemaName {
	case "task_triage":
		if f.triageFail {
			return nil, errDown
		}
		return map[string]any{"category": f.category, "reason": "test"}, nil
	case "task_decomposition":
		if f.decompose == nil {
			return nil, errDown
		}
		return f.decompose(user)
	}
	return nil, fmt.Errorf("unexpected schema %s", schemaName)
}

func plan(subs ...string) map[string]any {
	list := make([]any, 0, len(subs))
	for i, s := range subs {
		list = append(list, map[string]any{"description": s, "unit": "m2", "quantity_per_unit": float64(i + 1)})
	}
	return map[string]any{"note": "split", "subtasks": list}
}

func fixed(price string, conf float64) func(string) (*websearch.Estimate, error) {
	return func(string) (*websearch.Estimate, error) {
		return &websearch.Estimate{Price: decimal.RequireFromString(price), Confidence: conf}, nil
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPaintMatchesCatalog(t *testing.T) {
	cat := &fakeCatalog{matches: []catalog.Match{{
		Item: &catalog.CatalogItem{
			Code: "P0100.0010", Description: "Pintura plástica lisa en paredes interiores",
			Unit: "m2", UnitPrice: dec("8.50"), Year: 2024,
		},
		Score: 0.9,
	}}}
	est := &fakeEstimator{}
	r := New(logger.Nop(), DefaultConfig(), cat, est, &fakeCompleter{category: "catalog"})

	li := r.Resolve(context.Background(), Task{Description: "Pintura de paredes interiores", Quantity: dec("20"), Unit: "m2"})
	if li.Material == nil {
		t.Fatalf("want material match, got %+v", li)
	}
	m := li.Material
	if m.MatchConfidence < 0.75 || m.Source != budget.SourceCatalog || m.Code != "P0100.0010" {
		t.Fatalf("unexpected match %+v", m)
	}
	if !m.TotalPrice.Equal(m.UnitPrice.Mul(dec("20"))) || !m.TotalPrice.Equal(dec("170")) {
		t.Fatalf("total: want 170 got %s", m.TotalPrice)
	}
	if est.calls != 0 {
		t.Fatalf("estimator should not run after a catalog hit")
	}
}

func TestHighScoreWithoutSharedKeywordsIsRejected(t *testing.T) {
	cat := &fakeCatalog{matches: []catalog.Match{{
		Item:  &catalog.CatalogItem{Code: "S001", Description: "Solado de gres porcelánico", Unit: "m2", UnitPrice: dec("30")},
		Score: 0.95,
	}}}
	r := New(logger.Nop(), DefaultConfig(), cat, &fakeEstimator{fn: fixed("12.00", 0.8)}, &fakeCompleter{category: "catalog"})

	li := r.Resolve(context.Background(), Task{Description: "Pintura de paredes interiores", Quantity: dec("2"), Unit: "m2"})
	if li.Material == nil || li.Material.Source != budget.SourceWebEstimate {
		t.Fatalf("want web estimate, got %+v", li)
	}
	if !li.Material.IsEstimate || li.Material.NeedsReview || !strings.HasPrefix(li.Material.Code, budget.EstimateCodePrefix) {
		t.Fatalf("unexpected estimate flags %+v", li.Material)
	}
	if !li.Total().Equal(dec("24")) {
		t.Fatalf("total: want 24 got %s", li.Total())
	}
}

func TestMosaicMuralBecomesAssembly(t *testing.T) {
	const mural = "Mural artístico de mosaico con diseño de dragón"
	cat := &fakeCatalog{}
	est := &fakeEstimator{fn: func(d string) (*websearch.Estimate, error) {
		if d == mural {
			return &websearch.Estimate{Price: dec("900"), Confidence: 0.2}, nil
		}
		return &websearch.Estimate{Price: dec("10"), Confidence: 0.7}, nil
	}}
	comp := &fakeCompleter{category: "custom", decompose: func(user string) (map[string]any, error) {
		if !strings.Contains(user, mural) {
			return nil, errDown
		}
		return plan("Preparación del soporte", "Tesela de vidrio", "Mano de obra de colocación"), nil
	}}
	r := New(logger.Nop(), DefaultConfig(), cat, est, comp)

	li := r.Resolve(context.Background(), Task{Description: mural, Quantity: dec("1"), Unit: "u"})
	if li.Assembly == nil {
		t.Fatalf("want assembly, got %+v", li)
	}
	a := li.Assembly
	if !strings.HasPrefix(a.SyntheticCode, budget.AssemblyCodePrefix) || len(a.SyntheticCode) != len(budget.AssemblyCodePrefix)+8 {
		t.Fatalf("bad synthetic code %q", a.SyntheticCode)
	}
	if len(a.Components) != 3 {
		t.Fatalf("want 3 components, got %d", len(a.Components))
	}
	// quantities 1, 2, 3 at 10 each
	if !a.TotalPrice.Equal(dec("60")) {
		t.Fatalf("assembly total: want 60 got %s", a.TotalPrice)
	}
	sum := decimal.Zero
	for _, c := range a.Components {
		sum = sum.Add(c.Total())
	}
	if !sum.Equal(a.TotalPrice) {
		t.Fatalf("assembly total %s != components %s", a.TotalPrice, sum)
	}
	if cat.calls == 0 {
		t.Fatalf("custom route should still try the catalog after the estimate")
	}
}

func countNodes(li budget.LineItem) int {
	if li.Assembly == nil {
		return 0
	}
	n := len(li.Assembly.Components)
	for _, c := range li.Assembly.Components {
		n += countNodes(c)
	}
	return n
}

func maxFanOut(li budget.LineItem) int {
	if li.Assembly == nil {
		return 0
	}
	n := len(li.Assembly.Components)
	for _, c := range li.Assembly.Components {
		if m := maxFanOut(c); m > n {
			n = m
		}
	}
	return n
}

func TestDecompositionRespectsCaps(t *testing.T) {
	var mu sync.Mutex
	seq := 0
	comp := &fakeCompleter{category: "custom", decompose: func(string) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		subs := make([]string, 10)
		for i := range subs {
			seq++
			subs[i] = fmt.Sprintf("Subtarea %d", seq)
		}
		return plan(subs...), nil
	}}
	cfg := DefaultConfig()
	r := New(logger.Nop(), cfg, &fakeCatalog{}, &fakeEstimator{}, comp)

	li := r.Resolve(context.Background(), Task{Description: "Obra singular", Quantity: dec("1"), Unit: "u"})
	if li.Depth() > cfg.MaxDepth {
		t.Fatalf("depth %d exceeds cap %d", li.Depth(), cfg.MaxDepth)
	}
	if f := maxFanOut(li); f > cfg.MaxSubtasks {
		t.Fatalf("fan-out %d exceeds cap %d", f, cfg.MaxSubtasks)
	}
	if n := countNodes(li); n > cfg.MaxNodes || n == 0 {
		t.Fatalf("node count %d outside (0, %d]", n, cfg.MaxNodes)
	}
}

func TestResolveAlwaysTerminates(t *testing.T) {
	comp := &fakeCompleter{category: "custom", decompose: func(user string) (map[string]any, error) {
		return plan("Nivel inferior A "+user, "Nivel inferior B "+user), nil
	}}
	for _, maxDepth := range []int{0, 1, 2, 3} {
		cfg := DefaultConfig()
		cfg.MaxDepth = maxDepth
		r := New(logger.Nop(), cfg, &fakeCatalog{err: errDown}, &fakeEstimator{}, comp)
		for _, desc := range []string{"", "   ", "x", "Mural artístico", strings.Repeat("muy largo ", 200)} {
			li := r.Resolve(context.Background(), Task{Description: desc, Quantity: dec("3"), Unit: "u"})
			if li.Material == nil && li.Assembly == nil {
				t.Fatalf("depth %d %q: empty line item", maxDepth, desc)
			}
			if li.Depth() > maxDepth {
				t.Fatalf("depth %d %q: got depth %d", maxDepth, desc, li.Depth())
			}
		}
	}
}

func TestEmptyDescriptionIsPlaceholderWithoutCalls(t *testing.T) {
	cat, est, comp := &fakeCatalog{}, &fakeEstimator{}, &fakeCompleter{}
	r := New(logger.Nop(), DefaultConfig(), cat, est, comp)
	li := r.Resolve(context.Background(), Task{Description: " \t ", Quantity: dec("2")})
	if li.Material == nil || li.Material.Source != budget.SourcePlaceholder {
		t.Fatalf("want placeholder, got %+v", li)
	}
	if cat.calls+est.calls+len(comp.calls) != 0 {
		t.Fatalf("empty task should make no external calls")
	}
}

func TestFailuresRetryOnceThenPlaceholder(t *testing.T) {
	cat := &fakeCatalog{err: errDown}
	est := &fakeEstimator{}
	comp := &fakeCompleter{triageFail: true}
	r := New(logger.Nop(), DefaultConfig(), cat, est, comp)

	li := r.Resolve(context.Background(), Task{Description: "Alicatado de cocina", Quantity: dec("12"), Unit: "m2"})
	m := li.Material
	if m == nil || m.Source != budget.SourcePlaceholder || m.MatchConfidence != 0 || !m.NeedsReview {
		t.Fatalf("want review placeholder, got %+v", li)
	}
	if !m.TotalPrice.IsZero() || !m.Quantity.Equal(dec("12")) {
		t.Fatalf("placeholder should be zero priced with the task quantity: %+v", m)
	}
	if cat.calls != 2 || est.calls != 2 || comp.calls["task_triage"] != 2 || comp.calls["task_decomposition"] != 2 {
		t.Fatalf("each external call should run twice: catalog=%d estimate=%d completer=%v", cat.calls, est.calls, comp.calls)
	}
}

func TestLowConfidenceEstimateKeptForReview(t *testing.T) {
	r := New(logger.Nop(), DefaultConfig(), &fakeCatalog{}, &fakeEstimator{fn: fixed("45.00", 0.3)}, &fakeCompleter{category: "catalog"})
	li := r.Resolve(context.Background(), Task{Description: "Reparación de cornisa", Quantity: dec("2"), Unit: "ml"})
	m := li.Material
	if m == nil || m.Source != budget.SourceWebEstimate || !m.NeedsReview || !m.IsEstimate {
		t.Fatalf("want flagged estimate, got %+v", li)
	}
	if !m.TotalPrice.Equal(dec("90")) {
		t.Fatalf("total: want 90 got %s", m.TotalPrice)
	}
}

func TestSyntheticCodeIsStable(t *testing.T) {
	a := SyntheticCode(budget.AssemblyCodePrefix, "Mural de mosaico")
	b := SyntheticCode(budget.AssemblyCodePrefix, "  mural de MOSAICO ")
	if a != b {
		t.Fatalf("codes differ: %s vs %s", a, b)
	}
	if a == SyntheticCode(budget.AssemblyCodePrefix, "Mural de piedra") {
		t.Fatalf("different descriptions share a code")
	}
}
