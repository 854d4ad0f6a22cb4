package bus

import (
	"context"

	"github.com/yungbote/pricebook-backend/internal/domain/events"
)

// Bus relays generation events between backend instances.
type Bus interface {
	Publish(ctx context.Context, ev *events.GenerationEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev *events.GenerationEvent)) error
	Close() error
}
