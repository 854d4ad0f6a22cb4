package realtime

import (
	"context"
	"errors"
	"sync"

	eventsrepo "github.com/yungbote/pricebook-backend/internal/data/repos/events"
	"github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/realtime/bus"
)

// MemorySink keeps everything in process; used by tests and database-less runs.
type MemorySink struct {
	mu     sync.Mutex
	events []*events.GenerationEvent
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Write(_ context.Context, ev *events.GenerationEvent) error {
	cp := *ev
	s.mu.Lock()
	s.events = append(s.events, &cp)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) LastSeq(_ context.Context, scopeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last int64
	for _, ev := range s.events {
		if ev.ScopeID == scopeID && ev.Seq > last {
			last = ev.Seq
		}
	}
	return last, nil
}

// Events returns the scope's events in emission order.
func (s *MemorySink) Events(scopeID string) []*events.GenerationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*events.GenerationEvent
	for _, ev := range s.events {
		if ev.ScopeID == scopeID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out
}

// Types is Events reduced to the type sequence.
func (s *MemorySink) Types(scopeID string) []events.Type {
	evs := s.Events(scopeID)
	out := make([]events.Type, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

// RepoSink persists events for replay.
type RepoSink struct {
	repo eventsrepo.GenerationEventRepo
}

func NewRepoSink(repo eventsrepo.GenerationEventRepo) *RepoSink { return &RepoSink{repo: repo} }

func (s *RepoSink) Write(ctx context.Context, ev *events.GenerationEvent) error {
	return s.repo.Append(dbctx.From(ctx), ev)
}

func (s *RepoSink) LastSeq(ctx context.Context, scopeID string) (int64, error) {
	return s.repo.LastSeq(dbctx.From(ctx), scopeID)
}

// HubSink fans out to SSE clients connected to this instance.
type HubSink struct {
	hub *SSEHub
}

func NewHubSink(hub *SSEHub) *HubSink { return &HubSink{hub: hub} }

func (s *HubSink) Write(_ context.Context, ev *events.GenerationEvent) error {
	s.hub.Broadcast(ev)
	return nil
}

// RelaySink publishes to other instances.
type RelaySink struct {
	relay bus.Bus
}

func NewRelaySink(relay bus.Bus) *RelaySink { return &RelaySink{relay: relay} }

func (s *RelaySink) Write(ctx context.Context, ev *events.GenerationEvent) error {
	return s.relay.Publish(ctx, ev)
}

// MultiSink writes to every child in order. The first child that knows
// sequences answers LastSeq.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

func (m *MultiSink) Write(ctx context.Context, ev *events.GenerationEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) LastSeq(ctx context.Context, scopeID string) (int64, error) {
	for _, s := range m.sinks {
		if ss, ok := s.(SeqSource); ok {
			return ss.LastSeq(ctx, scopeID)
		}
	}
	return 0, nil
}
