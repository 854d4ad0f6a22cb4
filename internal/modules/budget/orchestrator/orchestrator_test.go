package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	budget "github.com/yungbote/pricebook-backend/internal/domain/budget"
	"github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/modules/budget/resolver"
	pkgerrors "github.com/yungbote/pricebook-backend/internal/pkg/errors"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/realtime"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	out   []map[string]any
	errs  []error
}

func (f *fakeCompleter) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.out) {
		return f.out[i], nil
	}
	return f.out[len(f.out)-1], nil
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []string
	delay func(desc string) time.Duration
	hook  func(desc string)
}

func (f *fakeResolver) Resolve(_ context.Context, t resolver.Task) budget.LineItem {
	f.mu.Lock()
	f.calls = append(f.calls, t.Description)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(t.Description)
	}
	if f.delay != nil {
		time.Sleep(f.delay(t.Description))
	}
	return budget.NewMaterial(budget.MaterialMatch{
		Code:        t.Description,
		Description: t.Description,
		Unit:        t.Unit,
		UnitPrice:   decimal.NewFromInt(10),
		Quantity:    t.Quantity,
		Source:      budget.SourceCatalog,
	})
}

func layout(chapters map[string][]string, order ...string) map[string]any {
	list := make([]any, 0, len(order))
	for _, name := range order {
		tasks := make([]any, 0)
		for _, d := range chapters[name] {
			tasks = append(tasks, map[string]any{"description": d, "unit": "m2", "quantity": 2.0})
		}
		list = append(list, map[string]any{"name": name, "tasks": tasks})
	}
	return map[string]any{"chapters": list}
}

func newOrchestrator(cfg Config, comp Completer, res ItemResolver) (*Orchestrator, *realtime.MemorySink) {
	sink := realtime.NewMemorySink()
	return New(logger.Nop(), cfg, comp, res, realtime.NewEventBus(logger.Nop(), sink)), sink
}

func TestGeneratePreservesDeclaredOrder(t *testing.T) {
	tasks := make([]string, 12)
	for i := range tasks {
		tasks[i] = fmt.Sprintf("tarea-%02d", i)
	}
	comp := &fakeCompleter{out: []map[string]any{layout(map[string][]string{
		"Albañilería": tasks, "Pintura": {"pintar-a", "pintar-b"},
	}, "Albañilería", "Pintura")}}
	// Earlier tasks take longer so completion order is reversed.
	res := &fakeResolver{delay: func(d string) time.Duration {
		var n int
		fmt.Sscanf(d, "tarea-%d", &n)
		return time.Duration(12-n) * 3 * time.Millisecond
	}}
	o, _ := newOrchestrator(DefaultConfig(), comp, res)

	b, err := o.Generate(context.Background(), "lead-1", Request{Description: "Reforma integral de piso"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(b.Chapters) != 2 || b.Chapters[0].Name != "Albañilería" {
		t.Fatalf("unexpected chapters %+v", b.Chapters)
	}
	for i, li := range b.Chapters[0].Items {
		if li.Code() != tasks[i] {
			t.Fatalf("slot %d: want %s got %s", i, tasks[i], li.Code())
		}
	}
	// 14 tasks x 2 x 10 = 280
	if !b.CostBreakdown.MaterialExecutionPrice.Equal(decimal.NewFromInt(280)) {
		t.Fatalf("execution price: want 280 got %s", b.CostBreakdown.MaterialExecutionPrice)
	}
	if !b.TotalEstimated.Equal(b.CostBreakdown.Total) {
		t.Fatalf("total mismatch")
	}
}

func TestGenerateEventSequence(t *testing.T) {
	comp := &fakeCompleter{out: []map[string]any{layout(map[string][]string{
		"Demoliciones": {"demoler tabique", "retirar escombros"}, "Pintura": {"pintar paredes"},
	}, "Demoliciones", "Pintura")}}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	o, sink := newOrchestrator(cfg, comp, &fakeResolver{})

	if _, err := o.Generate(context.Background(), "lead-2", Request{Description: "Reforma de salón"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []events.Type{
		events.DecompositionStart,
		events.ChapterStart, events.ItemResolving, events.ItemResolved, events.ItemResolving, events.ItemResolved,
		events.ChapterStart, events.ItemResolving, events.ItemResolved,
		events.ValidationStart, events.Complete,
	}
	if got := sink.Types("lead-2"); !reflect.DeepEqual(got, want) {
		t.Fatalf("events:\nwant %v\ngot  %v", want, got)
	}
	evs := sink.Events("lead-2")
	for i, ev := range evs {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
}

func TestGenerateWithoutTasksIsFatal(t *testing.T) {
	comp := &fakeCompleter{out: []map[string]any{{"chapters": []any{
		map[string]any{"name": "Vacío", "tasks": []any{map[string]any{"description": "  ", "unit": "u", "quantity": 1.0}}},
	}}}}
	res := &fakeResolver{}
	o, sink := newOrchestrator(DefaultConfig(), comp, res)

	_, err := o.Generate(context.Background(), "lead-3", Request{Description: "Algo indefinido"})
	if !errors.Is(err, ErrNoTasks) {
		t.Fatalf("want ErrNoTasks, got %v", err)
	}
	errorsSeen := 0
	for _, typ := range sink.Types("lead-3") {
		if typ == events.Error {
			errorsSeen++
		}
	}
	if errorsSeen != 1 || len(res.calls) != 0 {
		t.Fatalf("want one error event and no resolutions, got %d errors %d calls", errorsSeen, len(res.calls))
	}
}

func TestStructuringRetriedOnce(t *testing.T) {
	comp := &fakeCompleter{
		errs: []error{errors.New("transient")},
		out:  []map[string]any{nil, layout(map[string][]string{"Pintura": {"pintar"}}, "Pintura")},
	}
	o, _ := newOrchestrator(DefaultConfig(), comp, &fakeResolver{})
	if _, err := o.Generate(context.Background(), "lead-4", Request{Description: "Pintar piso"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if comp.calls != 2 {
		t.Fatalf("want 2 structuring calls, got %d", comp.calls)
	}

	failing := &fakeCompleter{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}, out: []map[string]any{nil}}
	o, _ = newOrchestrator(DefaultConfig(), failing, &fakeResolver{})
	if _, err := o.Generate(context.Background(), "lead-5", Request{Description: "Pintar piso"}); err == nil {
		t.Fatalf("want failure after retry")
	}
	if failing.calls != 2 {
		t.Fatalf("structuring should run exactly twice, got %d", failing.calls)
	}
}

func TestGenerateValidatesRequest(t *testing.T) {
	o, sink := newOrchestrator(DefaultConfig(), &fakeCompleter{out: []map[string]any{nil}}, &fakeResolver{})
	neg := -5.0
	negativeTax := budget.DefaultRates()
	negativeTax.TaxPct = decimal.NewFromInt(-21)
	hugeOverhead := budget.DefaultRates()
	hugeOverhead.OverheadPct = decimal.NewFromInt(1300)
	for _, req := range []Request{
		{Description: ""},
		{Description: "ab"},
		{Description: "Reforma", TotalArea: &neg},
		{Description: "Reforma", Rates: &negativeTax},
		{Description: "Reforma", Rates: &hugeOverhead},
	} {
		if _, err := o.Generate(context.Background(), "lead-6", req); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
			t.Fatalf("Generate(%+v): want invalid argument, got %v", req, err)
		}
	}
	if len(sink.Events("lead-6")) != 0 {
		t.Fatalf("invalid requests should emit nothing")
	}
}

func TestCancellationLetsInFlightFinish(t *testing.T) {
	comp := &fakeCompleter{out: []map[string]any{layout(map[string][]string{
		"Fontanería": {"t1", "t2", "t3"},
	}, "Fontanería")}}
	started := make(chan struct{})
	release := make(chan struct{})
	res := &fakeResolver{hook: func(d string) {
		if d == "t1" {
			close(started)
			<-release
		}
	}}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	o, sink := newOrchestrator(cfg, comp, res)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(ctx, "lead-7", Request{Description: "Cambiar bajantes"})
		done <- err
	}()
	<-started
	cancel()
	close(release)

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(res.calls) != 1 {
		t.Fatalf("no new work after cancel, got calls %v", res.calls)
	}
	types := sink.Types("lead-7")
	resolved := 0
	for _, typ := range types {
		if typ == events.ItemResolved {
			resolved++
		}
	}
	if resolved != 1 || types[len(types)-1] != events.Error {
		t.Fatalf("in-flight item should finish then an error event close the run: %v", types)
	}
}

func TestResolveItemDelegates(t *testing.T) {
	res := &fakeResolver{}
	o, _ := newOrchestrator(DefaultConfig(), &fakeCompleter{out: []map[string]any{nil}}, res)
	li := o.ResolveItem(context.Background(), "Pintura de paredes", decimal.NewFromInt(20), "m2")
	if li.Material == nil || !li.Total().Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected item %+v", li)
	}
}
