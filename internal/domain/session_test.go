package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"shopcall-backend/pkg/errors"
)

const (
	testRequestTTL = 5 * time.Minute
	testHoldTTL    = 10 * time.Minute
)

// TestNewCallSession tests session creation
func TestNewCallSession(t *testing.T) {
	roomID := uuid.New()
	hostID := uuid.New()
	now := time.Now()

	session := NewCallSession(roomID, hostID, now)

	assert.Equal(t, SessionActive, session.Status)
	assert.Equal(t, int64(1), session.Version)
	assert.Len(t, session.Participants, 1)
	assert.Equal(t, RoleHost, session.Participants[0].Role)

	// Host holds implicit control with no hold entry and no timeout
	assert.Nil(t, session.Control.CurrentController)
	assert.Equal(t, hostID, session.ControllerID())
	assert.True(t, session.IsController(hostID))
}

// TestJoin tests joining and rejoining
func TestJoin(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)

	err := session.Join(userID, now)
	assert.NoError(t, err)
	assert.Equal(t, 2, session.ActiveParticipantCount())
	assert.Equal(t, RoleParticipant, session.Participant(userID).Role)

	// Rejoin clears LeftAt instead of adding a second entry
	_, err = session.Leave(userID, now)
	assert.NoError(t, err)
	assert.Equal(t, 1, session.ActiveParticipantCount())

	err = session.Join(userID, now)
	assert.NoError(t, err)
	assert.Len(t, session.Participants, 2)
	assert.True(t, session.Participant(userID).IsActive())
}

// TestJoin_SessionEnded tests joining an ended session
func TestJoin_SessionEnded(t *testing.T) {
	now := time.Now()
	session := NewCallSession(uuid.New(), uuid.New(), now)
	session.End(now)

	err := session.Join(uuid.New(), now)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionEnded))
}

// TestRequestControl tests filing a control request
func TestRequestControl(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))

	err := session.RequestControl(userID, now, testRequestTTL)
	assert.NoError(t, err)

	pending := session.PendingRequests()
	assert.Len(t, pending, 1)
	assert.Equal(t, userID, pending[0].UserID)
	assert.Equal(t, now.Add(testRequestTTL), pending[0].ExpiresAt)

	// Control has not moved yet
	assert.Equal(t, hostID, session.ControllerID())
}

// TestRequestControl_AlreadyController tests the host requesting control
func TestRequestControl_AlreadyController(t *testing.T) {
	hostID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)

	err := session.RequestControl(hostID, now, testRequestTTL)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyController))
}

// TestRequestControl_Duplicate tests filing twice while pending
func TestRequestControl_Duplicate(t *testing.T) {
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), uuid.New(), now)
	assert.NoError(t, session.Join(userID, now))

	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))
	err := session.RequestControl(userID, now, testRequestTTL)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDuplicatePendingRequest))
}

// TestRequestControl_NotParticipant tests a stranger requesting control
func TestRequestControl_NotParticipant(t *testing.T) {
	now := time.Now()
	session := NewCallSession(uuid.New(), uuid.New(), now)

	err := session.RequestControl(uuid.New(), now, testRequestTTL)
	assert.True(t, errors.HasCode(err, errors.ErrCodeParticipantNotFound))
}

// TestApproveControl tests granting control
func TestApproveControl(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))

	err := session.ApproveControl(userID, hostID, now, testHoldTTL)
	assert.NoError(t, err)

	assert.Equal(t, userID, session.ControllerID())
	assert.NotNil(t, session.Control.CurrentController)
	assert.NotNil(t, session.Control.CurrentController.ExpiresAt)
	assert.Equal(t, now.Add(testHoldTTL), *session.Control.CurrentController.ExpiresAt)
	assert.Empty(t, session.PendingRequests())
}

// TestApproveControl_SupersedesOtherRequests tests that approving one
// request denies every other pending request in the same mutation
func TestApproveControl_SupersedesOtherRequests(t *testing.T) {
	hostID := uuid.New()
	first := uuid.New()
	second := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(first, now))
	assert.NoError(t, session.Join(second, now))
	assert.NoError(t, session.RequestControl(first, now, testRequestTTL))
	assert.NoError(t, session.RequestControl(second, now, testRequestTTL))

	assert.NoError(t, session.ApproveControl(first, hostID, now, testHoldTTL))

	assert.Equal(t, first, session.ControllerID())
	assert.Empty(t, session.PendingRequests())

	var secondStatus RequestStatus
	for _, req := range session.Control.RequestQueue {
		if req.UserID == second {
			secondStatus = req.Status
		}
	}
	assert.Equal(t, RequestDenied, secondStatus)

	// The loser cannot be approved afterwards
	err := session.ApproveControl(second, hostID, now, testHoldTTL)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRequestNotFound))
}

// TestApproveControl_Unauthorized tests a plain participant deciding
func TestApproveControl_Unauthorized(t *testing.T) {
	hostID := uuid.New()
	requester := uuid.New()
	bystander := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(requester, now))
	assert.NoError(t, session.Join(bystander, now))
	assert.NoError(t, session.RequestControl(requester, now, testRequestTTL))

	err := session.ApproveControl(requester, bystander, now, testHoldTTL)
	assert.True(t, errors.HasCode(err, errors.ErrCodeControlUnauthorized))
	assert.Equal(t, hostID, session.ControllerID())
}

// TestApproveControl_ByCurrentController tests that the controller (not
// just the host) may decide requests
func TestApproveControl_ByCurrentController(t *testing.T) {
	hostID := uuid.New()
	controller := uuid.New()
	requester := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(controller, now))
	assert.NoError(t, session.Join(requester, now))
	assert.NoError(t, session.RequestControl(controller, now, testRequestTTL))
	assert.NoError(t, session.ApproveControl(controller, hostID, now, testHoldTTL))

	assert.NoError(t, session.RequestControl(requester, now, testRequestTTL))
	assert.NoError(t, session.ApproveControl(requester, controller, now, testHoldTTL))
	assert.Equal(t, requester, session.ControllerID())
}

// TestDenyControl tests rejecting a request
func TestDenyControl(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))

	assert.NoError(t, session.DenyControl(userID, hostID))
	assert.Empty(t, session.PendingRequests())
	assert.Equal(t, hostID, session.ControllerID())

	// Denying again finds nothing
	err := session.DenyControl(userID, hostID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRequestNotFound))
}

// TestReleaseControl tests the voluntary handback
func TestReleaseControl(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))
	assert.NoError(t, session.ApproveControl(userID, hostID, now, testHoldTTL))

	assert.NoError(t, session.ReleaseControl(userID))
	assert.Equal(t, hostID, session.ControllerID())
	assert.Nil(t, session.Control.CurrentController)

	// A non-controller cannot release
	err := session.ReleaseControl(userID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotController))
}

// TestLeave_ControllerDisconnect tests that a leaving controller loses
// control in the same mutation
func TestLeave_ControllerDisconnect(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))
	assert.NoError(t, session.ApproveControl(userID, hostID, now, testHoldTTL))

	changed, err := session.Leave(userID, now)
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, hostID, session.ControllerID())
	assert.False(t, session.Participant(userID).IsActive())
}

// TestLeave_PendingRequesterDisconnect tests that a leaver's pending
// request is denied
func TestLeave_PendingRequesterDisconnect(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))

	changed, err := session.Leave(userID, now)
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, session.PendingRequests())
}

// TestLeave_PlainParticipant tests that an uninvolved leaver does not
// touch control
func TestLeave_PlainParticipant(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))

	changed, err := session.Leave(userID, now)
	assert.NoError(t, err)
	assert.False(t, changed)
}

// TestCheckExpiry tests the hold timeout revert
func TestCheckExpiry(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))
	assert.NoError(t, session.ApproveControl(userID, hostID, now, testHoldTTL))

	// Before the deadline nothing happens
	reverted, expired := session.CheckExpiry(now.Add(testHoldTTL - time.Second))
	assert.False(t, reverted)
	assert.Zero(t, expired)
	assert.Equal(t, userID, session.ControllerID())

	// After the deadline control reverts to the host
	reverted, _ = session.CheckExpiry(now.Add(testHoldTTL + time.Second))
	assert.True(t, reverted)
	assert.Equal(t, hostID, session.ControllerID())

	// A second pass is a no-op
	reverted, expired = session.CheckExpiry(now.Add(testHoldTTL + 2*time.Second))
	assert.False(t, reverted)
	assert.Zero(t, expired)
}

// TestCheckExpiry_PendingRequests tests that overdue requests expire
func TestCheckExpiry_PendingRequests(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))

	reverted, expired := session.CheckExpiry(now.Add(testRequestTTL + time.Second))
	assert.False(t, reverted)
	assert.Equal(t, 1, expired)
	assert.Empty(t, session.PendingRequests())

	// An expired request can be re-filed
	later := now.Add(testRequestTTL + time.Minute)
	assert.NoError(t, session.RequestControl(userID, later, testRequestTTL))
}

// TestCheckExpiry_HostImplicitHold tests that the host's implicit hold
// never times out
func TestCheckExpiry_HostImplicitHold(t *testing.T) {
	hostID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)

	reverted, expired := session.CheckExpiry(now.Add(1000 * time.Hour))
	assert.False(t, reverted)
	assert.Zero(t, expired)
	assert.Equal(t, hostID, session.ControllerID())
}

// TestTransferToHost_Idempotent tests that repeat transfers report no change
func TestTransferToHost_Idempotent(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))
	assert.NoError(t, session.ApproveControl(userID, hostID, now, testHoldTTL))

	assert.True(t, session.TransferToHost())
	assert.False(t, session.TransferToHost())
}

// TestEnd tests session finalization
func TestEnd(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	start := time.Now()
	session := NewCallSession(uuid.New(), hostID, start)
	assert.NoError(t, session.Join(userID, start))

	end := start.Add(42 * time.Second)
	session.End(end)

	assert.Equal(t, SessionEnded, session.Status)
	assert.Equal(t, 42, session.Duration)
	assert.Zero(t, session.ActiveParticipantCount())
	assert.Nil(t, session.Control.CurrentController)

	// Idempotent: a second End does not move the clock
	session.End(end.Add(time.Hour))
	assert.Equal(t, 42, session.Duration)
}

// TestControlSnapshot tests the broadcast projection
func TestControlSnapshot(t *testing.T) {
	hostID := uuid.New()
	userID := uuid.New()
	now := time.Now()
	session := NewCallSession(uuid.New(), hostID, now)
	assert.NoError(t, session.Join(userID, now))
	assert.NoError(t, session.RequestControl(userID, now, testRequestTTL))

	snap := session.ControlSnapshot()
	assert.Equal(t, hostID, snap.ControllerID)
	assert.Nil(t, snap.CurrentController)
	assert.Len(t, snap.PendingRequests, 1)
}

// TestStatusTransitions tests the session lifecycle rules
func TestStatusTransitions(t *testing.T) {
	assert.True(t, SessionActive.CanTransitionTo(SessionPaused))
	assert.True(t, SessionActive.CanTransitionTo(SessionEnded))
	assert.True(t, SessionPaused.CanTransitionTo(SessionActive))
	assert.True(t, SessionPaused.CanTransitionTo(SessionEnded))
	assert.False(t, SessionEnded.CanTransitionTo(SessionActive))
	assert.False(t, SessionEnded.CanTransitionTo(SessionPaused))
}
