// Package control implements the master-control state machine of a
// shopping call: who drives the shared browsing view, who is asking
// for it, and how holds are granted, released, and reclaimed.
package control

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopcall-backend/internal/domain"
	redisrepo "shopcall-backend/internal/repository/redis"
	"shopcall-backend/internal/transport"
	"shopcall-backend/pkg/logger"
	"shopcall-backend/pkg/metrics"
)

// SessionStore is the slice of the session store the coordinator needs
type SessionStore interface {
	Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error)
	Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error)
}

const (
	// DefaultRequestTTL bounds how long a control request stays pending
	DefaultRequestTTL = 5 * time.Minute

	// DefaultHoldTTL bounds how long a participant keeps control before
	// it auto-reverts to the host
	DefaultHoldTTL = 10 * time.Minute
)

// Coordinator serializes control-ownership mutations through the
// versioned session store and broadcasts the outcome after commit.
type Coordinator struct {
	store      SessionStore
	publisher  transport.Publisher
	metrics    *metrics.Metrics
	requestTTL time.Duration
	holdTTL    time.Duration
	now        func() time.Time
}

// Config tunes the coordinator's TTLs
type Config struct {
	RequestTTL time.Duration
	HoldTTL    time.Duration
}

// NewCoordinator creates a new control coordinator
func NewCoordinator(store SessionStore, publisher transport.Publisher, m *metrics.Metrics, cfg Config) *Coordinator {
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = DefaultRequestTTL
	}
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = DefaultHoldTTL
	}
	return &Coordinator{
		store:      store,
		publisher:  publisher,
		metrics:    m,
		requestTTL: cfg.RequestTTL,
		holdTTL:    cfg.HoldTTL,
		now:        time.Now,
	}
}

// RequestControl files a pending control request from userID and
// notifies the host/controller.
func (c *Coordinator) RequestControl(ctx context.Context, callID, userID uuid.UUID) error {
	updated, err := c.store.Mutate(ctx, callID, func(s *domain.CallSession) error {
		return s.RequestControl(userID, c.now(), c.requestTTL)
	})
	if err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordControlRequest()
	}

	c.publish(ctx, callID, &domain.Event{
		Type:        domain.EventControlRequest,
		CallID:      callID,
		TargetID:    updated.ControllerID(),
		RequesterID: userID,
		Version:     updated.Version,
		Timestamp:   c.now(),
	})
	return nil
}

// ApproveControlRequest grants control to requesterID. All other
// pending requests are denied in the same committed version, so two
// approvals can never be visible at once.
func (c *Coordinator) ApproveControlRequest(ctx context.Context, callID, requesterID, approverID uuid.UUID) error {
	updated, err := c.store.Mutate(ctx, callID, func(s *domain.CallSession) error {
		return s.ApproveControl(requesterID, approverID, c.now(), c.holdTTL)
	})
	if err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordControlTransfer("approved")
	}

	c.publishControlChanged(ctx, updated)
	return nil
}

// DenyControlRequest rejects a pending request; control is unchanged
func (c *Coordinator) DenyControlRequest(ctx context.Context, callID, requesterID, denierID uuid.UUID) error {
	updated, err := c.store.Mutate(ctx, callID, func(s *domain.CallSession) error {
		return s.DenyControl(requesterID, denierID)
	})
	if err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordControlDenial()
	}

	c.publishControlChanged(ctx, updated)
	return nil
}

// ReleaseControl hands control back to the host voluntarily
func (c *Coordinator) ReleaseControl(ctx context.Context, callID, userID uuid.UUID) error {
	updated, err := c.store.Mutate(ctx, callID, func(s *domain.CallSession) error {
		return s.ReleaseControl(userID)
	})
	if err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordControlTransfer("released")
	}

	c.publishControlChanged(ctx, updated)
	return nil
}

// TransferToHost unconditionally reverts control to the host. When the
// host already controls and nothing is pending, the write is skipped
// and no event goes out.
func (c *Coordinator) TransferToHost(ctx context.Context, callID uuid.UUID) error {
	changed := false
	updated, err := c.store.Mutate(ctx, callID, func(s *domain.CallSession) error {
		changed = s.TransferToHost()
		if !changed {
			return redisrepo.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if c.metrics != nil {
		c.metrics.RecordControlTransfer("system")
	}

	c.publishControlChanged(ctx, updated)
	return nil
}

// CheckExpiry reclaims an expired control hold and expires overdue
// requests. Safe to invoke concurrently from multiple sweepers: the
// revocation is a CAS write, so a duplicate sweep commits nothing and
// broadcasts nothing. Returns whether control reverted to the host.
func (c *Coordinator) CheckExpiry(ctx context.Context, callID uuid.UUID) (bool, error) {
	reverted := false
	updated, err := c.store.Mutate(ctx, callID, func(s *domain.CallSession) error {
		var expired int
		reverted, expired = s.CheckExpiry(c.now())
		if !reverted && expired == 0 {
			return redisrepo.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !reverted {
		return false, nil
	}

	if c.metrics != nil {
		c.metrics.RecordControlTransfer("expired")
	}

	c.publishControlChanged(ctx, updated)
	return true, nil
}

func (c *Coordinator) publishControlChanged(ctx context.Context, session *domain.CallSession) {
	c.publish(ctx, session.ID, &domain.Event{
		Type:      domain.EventControlChanged,
		CallID:    session.ID,
		Control:   session.ControlSnapshot(),
		Version:   session.Version,
		Timestamp: c.now(),
	})
}

// publish broadcasts after the mutation has committed; a transport
// failure never rolls the mutation back.
func (c *Coordinator) publish(ctx context.Context, callID uuid.UUID, event *domain.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, callID, event); err != nil {
		logger.Warn("Failed to broadcast control event",
			zap.String("call_id", callID.String()),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
