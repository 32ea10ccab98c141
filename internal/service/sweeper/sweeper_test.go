package sweeper

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"shopcall-backend/pkg/errors"
	"shopcall-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	m.Run()
}

// MockActiveLister is a mock implementation of ActiveLister
type MockActiveLister struct {
	mock.Mock
}

func (m *MockActiveLister) ActiveSessionIDs(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockExpiryChecker is a mock implementation of ExpiryChecker
type MockExpiryChecker struct {
	mock.Mock
}

func (m *MockExpiryChecker) CheckExpiry(ctx context.Context, callID uuid.UUID) (bool, error) {
	args := m.Called(ctx, callID)
	return args.Bool(0), args.Error(1)
}

// TestSweep tests one pass over active sessions
func TestSweep(t *testing.T) {
	first := uuid.New()
	second := uuid.New()

	store := new(MockActiveLister)
	store.On("ActiveSessionIDs", mock.Anything).Return([]uuid.UUID{first, second}, nil)

	checker := new(MockExpiryChecker)
	checker.On("CheckExpiry", mock.Anything, first).Return(true, nil)
	checker.On("CheckExpiry", mock.Anything, second).Return(false, nil)

	sweeper := NewSweeper(store, checker, nil, 0)
	sweeper.Sweep(context.Background())

	store.AssertExpectations(t)
	checker.AssertExpectations(t)
}

// TestSweep_SessionEndedMidSweep tests that a session vanishing between
// listing and checking is skipped, not treated as a failure
func TestSweep_SessionEndedMidSweep(t *testing.T) {
	gone := uuid.New()
	alive := uuid.New()

	store := new(MockActiveLister)
	store.On("ActiveSessionIDs", mock.Anything).Return([]uuid.UUID{gone, alive}, nil)

	checker := new(MockExpiryChecker)
	checker.On("CheckExpiry", mock.Anything, gone).Return(false, errors.SessionNotFoundError())
	checker.On("CheckExpiry", mock.Anything, alive).Return(false, nil)

	sweeper := NewSweeper(store, checker, nil, 0)
	sweeper.Sweep(context.Background())

	// The vanished session did not stop the pass
	checker.AssertCalled(t, "CheckExpiry", mock.Anything, alive)
}

// TestSweep_ListFailure tests that a listing failure aborts quietly
func TestSweep_ListFailure(t *testing.T) {
	store := new(MockActiveLister)
	store.On("ActiveSessionIDs", mock.Anything).Return(nil, errors.DatabaseError(context.DeadlineExceeded))

	checker := new(MockExpiryChecker)

	sweeper := NewSweeper(store, checker, nil, 0)
	sweeper.Sweep(context.Background())

	checker.AssertNotCalled(t, "CheckExpiry")
}
