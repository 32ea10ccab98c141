// Package browse keeps every participant's browsing view in sync with
// the canonical state driven by the current controller.
package browse

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopcall-backend/internal/domain"
	"shopcall-backend/internal/transport"
	"shopcall-backend/pkg/logger"
	"shopcall-backend/pkg/metrics"
)

// SessionStore is the slice of the session store the synchronizer needs
type SessionStore interface {
	Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error)
	Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error)
}

// AuditArchiver persists append-only browse/cart audit rows outside the
// live session. Writes are best-effort and never block the sync path.
type AuditArchiver interface {
	SaveBrowseView(ctx context.Context, callID uuid.UUID, view *domain.BrowseView) error
	SaveCartUpdate(ctx context.Context, callID uuid.UUID, update *domain.CartUpdate) error
}

// Synchronizer applies browsing and cart actions to the session and
// broadcasts the resulting canonical state.
type Synchronizer struct {
	store     SessionStore
	publisher transport.Publisher
	audit     AuditArchiver
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewSynchronizer creates a new browsing synchronizer. audit may be nil
// when no archive is configured.
func NewSynchronizer(store SessionStore, publisher transport.Publisher, audit AuditArchiver, m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		store:     store,
		publisher: publisher,
		audit:     audit,
		metrics:   m,
		now:       time.Now,
	}
}

// SyncBrowsing records a participant's browsing action. The canonical
// state only moves when the caller holds master control; either way the
// full canonical state is re-broadcast so late writes always win by
// commit order, not wall clock.
func (s *Synchronizer) SyncBrowsing(ctx context.Context, callID, userID uuid.UUID, payload domain.BrowsePayload) (*domain.BrowsingState, error) {
	canonical := false
	updated, err := s.store.Mutate(ctx, callID, func(session *domain.CallSession) error {
		var err error
		canonical, err = session.ApplyBrowse(userID, payload, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordBrowseSync(canonical)
	}

	s.publish(ctx, callID, &domain.Event{
		Type:      domain.EventBrowseUpdate,
		CallID:    callID,
		Browsing:  &updated.Browsing,
		Version:   updated.Version,
		Timestamp: s.now(),
	})

	if canonical && s.audit != nil && payload.ProductID != "" {
		view := &domain.BrowseView{
			ProductID: payload.ProductID,
			ViewedAt:  s.now(),
			ViewedBy:  userID,
		}
		if err := s.audit.SaveBrowseView(ctx, callID, view); err != nil {
			logger.Warn("Failed to archive browse view",
				zap.String("call_id", callID.String()),
				zap.Error(err))
		}
	}

	return &updated.Browsing, nil
}

// AddCartUpdate appends to the cart audit log and notifies the call.
// Cart actions are personal: they are recorded for every participant,
// controller or not.
func (s *Synchronizer) AddCartUpdate(ctx context.Context, callID, userID uuid.UUID, productID string, action domain.CartAction) (*domain.CartUpdate, error) {
	var update *domain.CartUpdate
	updated, err := s.store.Mutate(ctx, callID, func(session *domain.CallSession) error {
		var err error
		update, err = session.AddCartUpdate(userID, productID, action, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordCartUpdate(string(action))
	}

	s.publish(ctx, callID, &domain.Event{
		Type:      domain.EventCartNotification,
		CallID:    callID,
		Cart:      update,
		Version:   updated.Version,
		Timestamp: s.now(),
	})

	if s.audit != nil {
		if err := s.audit.SaveCartUpdate(ctx, callID, update); err != nil {
			logger.Warn("Failed to archive cart update",
				zap.String("call_id", callID.String()),
				zap.Error(err))
		}
	}

	return update, nil
}

// GetBrowsingState returns the canonical state and its version, used to
// hydrate a participant who joins mid-call.
func (s *Synchronizer) GetBrowsingState(ctx context.Context, callID uuid.UUID) (*domain.BrowsingState, int64, error) {
	session, err := s.store.Get(ctx, callID)
	if err != nil {
		return nil, 0, err
	}
	return &session.Browsing, session.Version, nil
}

func (s *Synchronizer) publish(ctx context.Context, callID uuid.UUID, event *domain.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, callID, event); err != nil {
		logger.Warn("Failed to broadcast browse event",
			zap.String("call_id", callID.String()),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
