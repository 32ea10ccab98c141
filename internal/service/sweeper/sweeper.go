// Package sweeper runs the periodic pass that reclaims expired control
// holds and pending requests across all active calls.
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopcall-backend/pkg/errors"
	"shopcall-backend/pkg/logger"
	"shopcall-backend/pkg/metrics"
)

// ActiveLister enumerates sessions that may hold expirable state
type ActiveLister interface {
	ActiveSessionIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ExpiryChecker is the coordinator operation the sweeper drives
type ExpiryChecker interface {
	CheckExpiry(ctx context.Context, callID uuid.UUID) (bool, error)
}

// DefaultInterval is how often the sweep runs
const DefaultInterval = 20 * time.Second

// Sweeper periodically re-enters the single-writer path of every active
// session to revoke expired holds. Multiple instances may sweep
// concurrently: the revocation write is a CAS, so the loser of the race
// commits nothing.
type Sweeper struct {
	store    ActiveLister
	checker  ExpiryChecker
	metrics  *metrics.Metrics
	interval time.Duration
}

// NewSweeper creates a new expiry sweeper
func NewSweeper(store ActiveLister, checker ExpiryChecker, m *metrics.Metrics, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    store,
		checker:  checker,
		metrics:  m,
		interval: interval,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("Expiry sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all active sessions
func (s *Sweeper) Sweep(ctx context.Context) {
	ids, err := s.store.ActiveSessionIDs(ctx)
	if err != nil {
		logger.Error("Sweep failed to list active sessions", zap.Error(err))
		return
	}

	reverted := 0
	for _, callID := range ids {
		didRevert, err := s.checker.CheckExpiry(ctx, callID)
		if err != nil {
			// A session ending mid-sweep is expected, not an error
			if errors.HasCode(err, errors.ErrCodeSessionNotFound) {
				continue
			}
			logger.Warn("Sweep expiry check failed",
				zap.String("call_id", callID.String()),
				zap.Error(err))
			continue
		}
		if didRevert {
			reverted++
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSweep(reverted)
	}
	if reverted > 0 {
		logger.Info("Sweep reverted expired control holds",
			zap.Int("sessions", len(ids)),
			zap.Int("reverted", reverted))
	}
}
