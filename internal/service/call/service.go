// Package call owns the lifecycle of shopping-call sessions: starting,
// joining, leaving (including controller disconnects), and ending.
package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopcall-backend/internal/domain"
	"shopcall-backend/internal/transport"
	"shopcall-backend/pkg/errors"
	"shopcall-backend/pkg/logger"
	"shopcall-backend/pkg/metrics"
)

// SessionStore is the slice of the session store the call service needs
type SessionStore interface {
	Create(ctx context.Context, session *domain.CallSession) error
	Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error)
	Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error)
}

// MembershipChecker answers room-membership questions; identity and
// room management live in another service.
type MembershipChecker interface {
	IsHost(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
}

// CallArchive persists durable call records for history and audit
type CallArchive interface {
	CreateCall(ctx context.Context, session *domain.CallSession) error
	FinalizeCall(ctx context.Context, callID uuid.UUID, endedAt time.Time, duration int) error
}

// Service handles shopping-call lifecycle business logic
type Service struct {
	store      SessionStore
	membership MembershipChecker
	archive    CallArchive
	publisher  transport.Publisher
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a new call service. archive may be nil when the
// call log database is unavailable (limited mode).
func NewService(store SessionStore, membership MembershipChecker, archive CallArchive, publisher transport.Publisher, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		membership: membership,
		archive:    archive,
		publisher:  publisher,
		metrics:    m,
		now:        time.Now,
	}
}

// StartCall creates a new session for a room with hostID as host and
// implicit controller.
func (s *Service) StartCall(ctx context.Context, roomID, hostID uuid.UUID) (*domain.CallSession, error) {
	isHost, err := s.membership.IsHost(ctx, hostID, roomID)
	if err != nil {
		return nil, errors.DatabaseError(err)
	}
	if !isHost {
		return nil, errors.ForbiddenError("Only the room host may start a shopping call")
	}

	session := domain.NewCallSession(roomID, hostID, s.now())
	if err := s.store.Create(ctx, session); err != nil {
		return nil, errors.DatabaseError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordCallStarted()
	}

	if s.archive != nil {
		if err := s.archive.CreateCall(ctx, session); err != nil {
			logger.Warn("Failed to archive call record",
				zap.String("call_id", session.ID.String()),
				zap.Error(err))
		}
	}

	return session, nil
}

// JoinCall adds a room member to an ongoing call and returns the full
// session snapshot so the client can hydrate the shared view.
func (s *Service) JoinCall(ctx context.Context, callID, userID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}

	isMember, err := s.membership.IsMember(ctx, userID, session.RoomID)
	if err != nil {
		return nil, errors.DatabaseError(err)
	}
	if !isMember {
		return nil, errors.ForbiddenError("Not a member of this room")
	}

	updated, err := s.store.Mutate(ctx, callID, func(sess *domain.CallSession) error {
		return sess.Join(userID, s.now())
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LeaveCall marks a participant as disconnected. If the leaver held
// master control, control reverts to the host inside the same committed
// mutation, and a control-changed broadcast lets the call converge. The
// call ends when the last active participant leaves.
func (s *Service) LeaveCall(ctx context.Context, callID, userID uuid.UUID) error {
	controlChanged := false
	ended := false

	updated, err := s.store.Mutate(ctx, callID, func(sess *domain.CallSession) error {
		var err error
		controlChanged, err = sess.Leave(userID, s.now())
		if err != nil {
			return err
		}
		ended = false
		if sess.Status != domain.SessionEnded && sess.ActiveParticipantCount() == 0 {
			sess.End(s.now())
			ended = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if controlChanged {
		if s.metrics != nil {
			s.metrics.RecordControlTransfer("disconnect")
		}
		s.publishControlChanged(ctx, updated)
	}

	if ended {
		s.finalize(ctx, updated)
	}
	return nil
}

// EndCall finalizes the call. Only the host may end it for everyone.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) error {
	updated, err := s.store.Mutate(ctx, callID, func(sess *domain.CallSession) error {
		if sess.Status == domain.SessionEnded {
			return errors.SessionEndedError()
		}
		if userID != sess.HostID {
			return errors.ForbiddenError("Only the host may end the call")
		}
		sess.End(s.now())
		return nil
	})
	if err != nil {
		return err
	}

	s.finalize(ctx, updated)
	return nil
}

// GetCall retrieves the current session state
func (s *Service) GetCall(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	return s.store.Get(ctx, callID)
}

func (s *Service) finalize(ctx context.Context, session *domain.CallSession) {
	if s.metrics != nil {
		s.metrics.RecordCallEnded(session.Duration)
	}
	if s.archive == nil || session.EndedAt == nil {
		return
	}
	if err := s.archive.FinalizeCall(ctx, session.ID, *session.EndedAt, session.Duration); err != nil {
		logger.Warn("Failed to finalize call record",
			zap.String("call_id", session.ID.String()),
			zap.Error(err))
	}
}

func (s *Service) publishControlChanged(ctx context.Context, session *domain.CallSession) {
	if s.publisher == nil {
		return
	}
	event := &domain.Event{
		Type:      domain.EventControlChanged,
		CallID:    session.ID,
		Control:   session.ControlSnapshot(),
		Version:   session.Version,
		Timestamp: s.now(),
	}
	if err := s.publisher.Publish(ctx, session.ID, event); err != nil {
		logger.Warn("Failed to broadcast control change on leave",
			zap.String("call_id", session.ID.String()),
			zap.Error(err))
	}
}
