package browse

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"shopcall-backend/internal/domain"
	redisrepo "shopcall-backend/internal/repository/redis"
	"shopcall-backend/pkg/errors"
)

type fakeStore struct {
	session *domain.CallSession
}

func (f *fakeStore) Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	if f.session == nil || f.session.ID != callID {
		return nil, errors.SessionNotFoundError()
	}
	return f.session, nil
}

func (f *fakeStore) Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error) {
	if f.session == nil || f.session.ID != callID {
		return nil, errors.SessionNotFoundError()
	}
	if err := fn(f.session); err != nil {
		if goerrors.Is(err, redisrepo.ErrNoChange) {
			return f.session, nil
		}
		return nil, err
	}
	f.session.Version++
	return f.session, nil
}

// MockPublisher is a mock implementation of transport.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, callID uuid.UUID, event *domain.Event) error {
	args := m.Called(ctx, callID, event)
	return args.Error(0)
}

// MockAuditArchiver is a mock implementation of AuditArchiver
type MockAuditArchiver struct {
	mock.Mock
}

func (m *MockAuditArchiver) SaveBrowseView(ctx context.Context, callID uuid.UUID, view *domain.BrowseView) error {
	args := m.Called(ctx, callID, view)
	return args.Error(0)
}

func (m *MockAuditArchiver) SaveCartUpdate(ctx context.Context, callID uuid.UUID, update *domain.CartUpdate) error {
	args := m.Called(ctx, callID, update)
	return args.Error(0)
}

// TestSyncBrowsing_Controller tests a canonical sync: state moves,
// broadcast carries the full canonical state, audit row written
func TestSyncBrowsing_Controller(t *testing.T) {
	hostID := uuid.New()
	now := time.Now()
	session := domain.NewCallSession(uuid.New(), hostID, now)

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, session.ID, mock.MatchedBy(func(e *domain.Event) bool {
		return e.Type == domain.EventBrowseUpdate &&
			e.Browsing != nil &&
			e.Browsing.CurrentProductID == "prod-1" &&
			e.Version == int64(2)
	})).Return(nil)

	audit := new(MockAuditArchiver)
	audit.On("SaveBrowseView", mock.Anything, session.ID, mock.MatchedBy(func(v *domain.BrowseView) bool {
		return v.ProductID == "prod-1" && v.ViewedBy == hostID
	})).Return(nil)

	sync := NewSynchronizer(&fakeStore{session: session}, pub, audit, nil)

	state, err := sync.SyncBrowsing(context.Background(), session.ID, hostID, domain.BrowsePayload{
		ProductID:      "prod-1",
		ScrollPosition: 0.3,
	})

	assert.NoError(t, err)
	assert.Equal(t, "prod-1", state.CurrentProductID)
	pub.AssertExpectations(t)
	audit.AssertExpectations(t)
}

// TestSyncBrowsing_NonController tests a personal sync: canonical state
// stays put, no audit row, but the broadcast still goes out
func TestSyncBrowsing_NonController(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := domain.NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, session.ID, mock.MatchedBy(func(e *domain.Event) bool {
		return e.Type == domain.EventBrowseUpdate && e.Browsing.CurrentProductID == ""
	})).Return(nil)

	audit := new(MockAuditArchiver)
	sync := NewSynchronizer(&fakeStore{session: session}, pub, audit, nil)

	_, err := sync.SyncBrowsing(context.Background(), session.ID, userID, domain.BrowsePayload{
		ProductID: "prod-2",
	})

	assert.NoError(t, err)
	assert.Equal(t, "prod-2", session.Participant(userID).CurrentProductID)
	pub.AssertExpectations(t)
	audit.AssertNotCalled(t, "SaveBrowseView")
}

// TestSyncBrowsing_NotParticipant tests a rejected sync: nothing moves,
// nothing is broadcast
func TestSyncBrowsing_NotParticipant(t *testing.T) {
	session := domain.NewCallSession(uuid.New(), uuid.New(), time.Now())

	pub := new(MockPublisher)
	sync := NewSynchronizer(&fakeStore{session: session}, pub, nil, nil)

	_, err := sync.SyncBrowsing(context.Background(), session.ID, uuid.New(), domain.BrowsePayload{})

	assert.True(t, errors.HasCode(err, errors.ErrCodeParticipantNotFound))
	assert.Equal(t, int64(1), session.Version)
	pub.AssertNotCalled(t, "Publish")
}

// TestAddCartUpdate tests the cart notification and audit row
func TestAddCartUpdate(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := domain.NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, session.ID, mock.MatchedBy(func(e *domain.Event) bool {
		return e.Type == domain.EventCartNotification &&
			e.Cart != nil &&
			e.Cart.UserID == userID &&
			e.Cart.Action == domain.CartAdded
	})).Return(nil)

	audit := new(MockAuditArchiver)
	audit.On("SaveCartUpdate", mock.Anything, session.ID, mock.Anything).Return(nil)

	sync := NewSynchronizer(&fakeStore{session: session}, pub, audit, nil)

	update, err := sync.AddCartUpdate(context.Background(), session.ID, userID, "prod-5", domain.CartAdded)

	assert.NoError(t, err)
	assert.Equal(t, "prod-5", update.ProductID)
	pub.AssertExpectations(t)
	audit.AssertExpectations(t)
}

// TestAddCartUpdate_InvalidAction tests rejection of unknown actions
func TestAddCartUpdate_InvalidAction(t *testing.T) {
	hostID := uuid.New()
	session := domain.NewCallSession(uuid.New(), hostID, time.Now())

	pub := new(MockPublisher)
	sync := NewSynchronizer(&fakeStore{session: session}, pub, nil, nil)

	_, err := sync.AddCartUpdate(context.Background(), session.ID, hostID, "prod-5", domain.CartAction("emptied"))

	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
	pub.AssertNotCalled(t, "Publish")
}

// TestGetBrowsingState tests mid-call hydration
func TestGetBrowsingState(t *testing.T) {
	hostID := uuid.New()
	now := time.Now()
	session := domain.NewCallSession(uuid.New(), hostID, now)
	_, err := session.ApplyBrowse(hostID, domain.BrowsePayload{ProductID: "prod-7"}, now)
	assert.NoError(t, err)
	session.Version = 4

	sync := NewSynchronizer(&fakeStore{session: session}, nil, nil, nil)

	state, version, err := sync.GetBrowsingState(context.Background(), session.ID)
	assert.NoError(t, err)
	assert.Equal(t, "prod-7", state.CurrentProductID)
	assert.Equal(t, int64(4), version)
}
