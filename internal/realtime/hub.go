package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	eventsrepo "github.com/yungbote/pricebook-backend/internal/data/repos/events"
	"github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
)

const outboundBuffer = 64

type SSEClient struct {
	ID       uuid.UUID
	Scopes   map[string]bool
	Outbound chan *events.GenerationEvent
	done     chan struct{}
	once     sync.Once
}

type SSEHub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[string]map[*SSEClient]bool
	heartbeat     time.Duration
	replay        eventsrepo.GenerationEventRepo
}

type HubOption func(*SSEHub)

func WithHeartbeat(d time.Duration) HubOption {
	return func(h *SSEHub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithReplay lets reconnecting clients catch up from the persisted log.
func WithReplay(repo eventsrepo.GenerationEventRepo) HubOption {
	return func(h *SSEHub) { h.replay = repo }
}

func NewSSEHub(log *logger.Logger, opts ...HubOption) *SSEHub {
	hub := &SSEHub{
		logger:        log.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*SSEClient]bool),
		heartbeat:     15 * time.Second,
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub
}

func (hub *SSEHub) NewSSEClient() *SSEClient {
	return &SSEClient{
		ID:       uuid.New(),
		Scopes:   make(map[string]bool),
		Outbound: make(chan *events.GenerationEvent, outboundBuffer),
		done:     make(chan struct{}),
	}
}

func (hub *SSEHub) Subscribe(client *SSEClient, scopeID string) {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	client.Scopes[scopeID] = true
	clients, exists := hub.subscriptions[scopeID]
	if !exists {
		clients = make(map[*SSEClient]bool)
		hub.subscriptions[scopeID] = clients
	}
	clients[client] = true
	hub.logger.Debug("SSE client subscribed", "clientID", client.ID, "scope_id", scopeID)
}

func (hub *SSEHub) RemoveClient(client *SSEClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for scope := range client.Scopes {
		if subMap, ok := hub.subscriptions[scope]; ok {
			delete(subMap, client)
			if len(subMap) == 0 {
				delete(hub.subscriptions, scope)
			}
		}
	}
	client.Scopes = make(map[string]bool)
	hub.logger.Debug("SSE client unsubscribed from all scopes", "clientID", client.ID)
}

// Subscribers reports how many clients listen on a scope.
func (hub *SSEHub) Subscribers(scopeID string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[scopeID])
}

func (hub *SSEHub) Broadcast(ev *events.GenerationEvent) {
	if ev == nil || ev.ScopeID == "" {
		return
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for c := range hub.subscriptions[ev.ScopeID] {
		select {
		case c.Outbound <- ev:
		default:
			// The client can recover the gap with Last-Event-ID on reconnect.
			hub.logger.Warn("Dropping SSE event; outbound buffer full", "clientID", c.ID, "seq", ev.Seq)
		}
	}
}

// CloseClient unsubscribes the client and ends its stream. Safe to call twice.
func (hub *SSEHub) CloseClient(client *SSEClient) {
	client.once.Do(func() {
		hub.RemoveClient(client)
		close(client.done)
	})
}

type StreamOptions struct {
	ScopeID     string
	LastEventID int64
	// CloseOn ends the stream after an event of one of these types is written.
	CloseOn []events.Type
	// LiveCloseOnly applies CloseOn only to events newer than the persisted
	// log at subscribe time, unless the client resumes with a LastEventID.
	// Scopes that host several runs set it so an earlier run's terminal
	// event does not end a stream waiting for the next run.
	LiveCloseOnly bool
}

// LastEventID reads the resume point from the Last-Event-ID header or the
// last_event_id query parameter.
func LastEventID(r *http.Request) int64 {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("last_event_id"))
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ServeHTTP streams one scope: persisted events after LastEventID first,
// then live ones, skipping anything already sent.
func (hub *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request, opts StreamOptions) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	var closeFloor int64
	if opts.LiveCloseOnly && opts.LastEventID == 0 && hub.replay != nil {
		seq, err := hub.replay.LastSeq(dbctx.From(ctx), opts.ScopeID)
		if err != nil {
			hub.logger.Warn("SSE last seq lookup failed", "scope_id", opts.ScopeID, "error", err)
		}
		closeFloor = seq
	}

	client := hub.NewSSEClient()
	hub.Subscribe(client, opts.ScopeID)
	defer hub.CloseClient(client)

	closeOn := make(map[events.Type]bool, len(opts.CloseOn))
	for _, t := range opts.CloseOn {
		closeOn[t] = true
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lastSent := opts.LastEventID
	send := func(ev *events.GenerationEvent) (done bool) {
		if ev.Seq <= lastSent {
			return false
		}
		if err := writeEvent(w, ev); err != nil {
			hub.logger.Warn("Failed to write SSE event", "clientID", client.ID, "error", err)
			return true
		}
		flusher.Flush()
		lastSent = ev.Seq
		return closeOn[ev.Type] && ev.Seq > closeFloor
	}

	if hub.replay != nil {
		backlog, err := hub.replay.ListByScope(dbctx.From(ctx), opts.ScopeID, lastSent, 0)
		if err != nil {
			hub.logger.Warn("SSE replay failed", "scope_id", opts.ScopeID, "error", err)
		}
		for _, ev := range backlog {
			if send(ev) {
				return
			}
		}
	}

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			hub.logger.Debug("SSE client context done", "clientID", client.ID, "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-client.Outbound:
			if send(ev) {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev *events.GenerationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, payload)
	return err
}
