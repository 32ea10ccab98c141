// Package transport abstracts the call-scoped broadcast channel. The
// core services only require publish-to-all-members semantics with
// best-effort, at-most-once delivery; they never see the concrete
// transport.
package transport

import (
	"context"

	"github.com/google/uuid"

	"shopcall-backend/internal/domain"
)

// Publisher broadcasts an event to all current members of a call
type Publisher interface {
	Publish(ctx context.Context, callID uuid.UUID, event *domain.Event) error
}

// Subscriber delivers the event stream of a call until ctx is done
type Subscriber interface {
	Subscribe(ctx context.Context, callID uuid.UUID) (<-chan *domain.Event, error)
}

// Transport is the full broadcast contract injected into the handlers
type Transport interface {
	Publisher
	Subscriber
}
