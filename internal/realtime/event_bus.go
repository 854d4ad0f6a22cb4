package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/pkg/ctxutil"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

// Sink receives every emitted event, in sequence order per scope.
type Sink interface {
	Write(ctx context.Context, ev *events.GenerationEvent) error
}

// SeqSource reports the last sequence already written for a scope, so a
// fresh process continues numbering where the previous one stopped.
type SeqSource interface {
	LastSeq(ctx context.Context, scopeID string) (int64, error)
}

type scopeState struct {
	mu      sync.Mutex
	seq     int64
	primed  bool
	retired bool
}

// EventBus assigns per-scope sequence numbers and hands events to its sink.
// There is no global instance; callers get one injected.
type EventBus struct {
	log  *logger.Logger
	sink Sink
	seqs SeqSource
	now  func() time.Time

	mu     sync.Mutex
	scopes map[string]*scopeState
}

type Option func(*EventBus)

func WithClock(now func() time.Time) Option {
	return func(b *EventBus) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSeqSource overrides the sequence source; by default the sink is used
// when it implements SeqSource.
func WithSeqSource(s SeqSource) Option {
	return func(b *EventBus) { b.seqs = s }
}

func NewEventBus(log *logger.Logger, sink Sink, opts ...Option) *EventBus {
	b := &EventBus{
		log:    log.With("service", "EventBus"),
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
		scopes: map[string]*scopeState{},
	}
	if ss, ok := sink.(SeqSource); ok {
		b.seqs = ss
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Scope binds the bus to one lead, session or job.
func (b *EventBus) Scope(scopeID string) *Scope {
	return &Scope{bus: b, id: scopeID}
}

// Forget drops the in-memory counter for a scope. The next emit re-reads
// the last sequence from the SeqSource. Terminal events forget their scope
// automatically when a SeqSource is available.
func (b *EventBus) Forget(scopeID string) {
	b.mu.Lock()
	st, ok := b.scopes[scopeID]
	b.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	b.retire(scopeID, st)
	st.mu.Unlock()
}

// retire must be called with st.mu held.
func (b *EventBus) retire(scopeID string, st *scopeState) {
	b.mu.Lock()
	if b.scopes[scopeID] == st {
		delete(b.scopes, scopeID)
	}
	b.mu.Unlock()
	st.retired = true
}

// Retained is the number of scopes holding an in-memory counter.
func (b *EventBus) Retained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scopes)
}

func (b *EventBus) state(scopeID string) *scopeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.scopes[scopeID]
	if !ok {
		st = &scopeState{}
		b.scopes[scopeID] = st
	}
	return st
}

// lockState returns the live state for scopeID with its mutex held.
func (b *EventBus) lockState(scopeID string) *scopeState {
	for {
		st := b.state(scopeID)
		st.mu.Lock()
		if !st.retired {
			return st
		}
		st.mu.Unlock()
	}
}

func (b *EventBus) emit(ctx context.Context, scopeID string, typ events.Type, data any) *events.GenerationEvent {
	ctx = ctxutil.Default(ctx)
	st := b.lockState(scopeID)
	defer st.mu.Unlock()

	if !st.primed {
		if b.seqs != nil {
			last, err := b.seqs.LastSeq(ctx, scopeID)
			if err != nil {
				b.log.Warn("Could not read last event seq", "scope_id", scopeID, "error", err)
			}
			if last > st.seq {
				st.seq = last
			}
		}
		st.primed = true
	}
	st.seq++

	ev := &events.GenerationEvent{
		ScopeID:   scopeID,
		Seq:       st.seq,
		Type:      typ,
		Data:      encodeData(data),
		Timestamp: b.now(),
	}
	if b.sink != nil {
		if err := b.sink.Write(ctx, ev); err != nil {
			b.log.Warn("Event sink write failed", "scope_id", scopeID, "type", typ, "seq", ev.Seq, "error", err)
		}
	}
	if b.seqs != nil && events.IsTerminal(typ) {
		b.retire(scopeID, st)
	}
	return ev
}

func encodeData(data any) datatypes.JSON {
	switch v := data.(type) {
	case nil:
		return nil
	case datatypes.JSON:
		return v
	case json.RawMessage:
		return datatypes.JSON(v)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(raw)
}

type Scope struct {
	bus *EventBus
	id  string
}

func (s *Scope) ID() string { return s.id }

// Emit records one event. Sink failures are logged, never returned.
func (s *Scope) Emit(ctx context.Context, typ events.Type, data any) *events.GenerationEvent {
	if s == nil || s.bus == nil {
		return nil
	}
	return s.bus.emit(ctx, s.id, typ, data)
}
