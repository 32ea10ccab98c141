package domain

import (
	"time"

	"github.com/google/uuid"

	"shopcall-backend/pkg/errors"
)

// SessionStatus represents the lifecycle state of a shopping call
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionEnded  SessionStatus = "ended"
)

// CanTransitionTo reports whether a status change is a legal lifecycle move.
// Ended is terminal.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionActive:
		return next == SessionPaused || next == SessionEnded
	case SessionPaused:
		return next == SessionActive || next == SessionEnded
	default:
		return false
	}
}

// Role of a participant within a call
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// RequestStatus is the state of a control request.
// pending is the only non-terminal state.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// Terminal reports whether the request can no longer change state
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

// ControlRequest is a pending ask by a participant to become the controller
type ControlRequest struct {
	UserID      uuid.UUID     `json:"user_id"`
	RequestedAt time.Time     `json:"requested_at"`
	Status      RequestStatus `json:"status"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// ControllerHold describes who currently holds master control.
// ExpiresAt is nil only for the host's implicit hold.
type ControllerHold struct {
	UserID    uuid.UUID  `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ControlState tracks master-control ownership and the request queue.
// A nil CurrentController means the host holds implicit control.
type ControlState struct {
	CurrentController *ControllerHold  `json:"current_controller,omitempty"`
	RequestQueue      []ControlRequest `json:"request_queue"`
}

// ProductView is one entry in a participant's personal browsing history
type ProductView struct {
	ProductID string    `json:"product_id"`
	ViewedAt  time.Time `json:"viewed_at"`
}

// Participant represents a user in a shopping call.
// Participants are never deleted; LeftAt marks disconnection.
type Participant struct {
	UserID           uuid.UUID     `json:"user_id"`
	Role             Role          `json:"role"`
	JoinedAt         time.Time     `json:"joined_at"`
	LeftAt           *time.Time    `json:"left_at,omitempty"`
	CurrentProductID string        `json:"current_product_id,omitempty"`
	ScrollPosition   float64       `json:"scroll_position"`
	BrowsingHistory  []ProductView `json:"browsing_history,omitempty"`
}

// IsActive reports whether the participant is still connected
func (p *Participant) IsActive() bool {
	return p.LeftAt == nil
}

// CallSession is the root aggregate for one live shopping call.
// All mutations go through its methods; Version is the optimistic
// concurrency token bumped by the store on every committed write.
type CallSession struct {
	ID           uuid.UUID      `json:"id"`
	RoomID       uuid.UUID      `json:"room_id"`
	HostID       uuid.UUID      `json:"host_id"`
	Status       SessionStatus  `json:"status"`
	Participants []*Participant `json:"participants"`
	Control      ControlState   `json:"control"`
	Browsing     BrowsingState  `json:"browsing"`
	Version      int64          `json:"version"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Duration     int            `json:"duration,omitempty"` // in seconds
}

// NewCallSession creates a session with the host joined and holding
// implicit control (no hold entry, no timeout).
func NewCallSession(roomID, hostID uuid.UUID, now time.Time) *CallSession {
	return &CallSession{
		ID:     uuid.New(),
		RoomID: roomID,
		HostID: hostID,
		Status: SessionActive,
		Participants: []*Participant{
			{UserID: hostID, Role: RoleHost, JoinedAt: now},
		},
		Control: ControlState{},
		Browsing: BrowsingState{
			ActiveBrowsers: map[uuid.UUID]time.Time{hostID: now},
		},
		Version:   1,
		StartedAt: now,
	}
}

// Participant returns the participant entry for a user, or nil
func (s *CallSession) Participant(userID uuid.UUID) *Participant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// ControllerID returns the user currently holding master control.
// Falls back to the host when no explicit hold exists.
func (s *CallSession) ControllerID() uuid.UUID {
	if s.Control.CurrentController == nil {
		return s.HostID
	}
	return s.Control.CurrentController.UserID
}

// IsController reports whether userID holds master control right now
func (s *CallSession) IsController(userID uuid.UUID) bool {
	return s.ControllerID() == userID
}

// ActiveParticipantCount counts participants that have not left
func (s *CallSession) ActiveParticipantCount() int {
	count := 0
	for _, p := range s.Participants {
		if p.IsActive() {
			count++
		}
	}
	return count
}

// Join adds a user to the session, or clears LeftAt on rejoin
func (s *CallSession) Join(userID uuid.UUID, now time.Time) error {
	if s.Status == SessionEnded {
		return errors.SessionEndedError()
	}
	if p := s.Participant(userID); p != nil {
		p.LeftAt = nil
		s.Browsing.touchBrowser(userID, now)
		return nil
	}
	role := RoleParticipant
	if userID == s.HostID {
		role = RoleHost
	}
	s.Participants = append(s.Participants, &Participant{
		UserID:   userID,
		Role:     role,
		JoinedAt: now,
	})
	s.Browsing.touchBrowser(userID, now)
	return nil
}

// Leave marks a participant as disconnected. If the leaver held master
// control, control reverts to the host in the same mutation, and any
// pending request of theirs is denied. Returns whether control changed.
func (s *CallSession) Leave(userID uuid.UUID, now time.Time) (bool, error) {
	p := s.Participant(userID)
	if p == nil {
		return false, errors.ParticipantNotFoundError()
	}
	if p.LeftAt == nil {
		p.LeftAt = &now
	}
	delete(s.Browsing.ActiveBrowsers, userID)

	controlChanged := false
	for i := range s.Control.RequestQueue {
		req := &s.Control.RequestQueue[i]
		if req.UserID == userID && req.Status == RequestPending {
			req.Status = RequestDenied
			controlChanged = true
		}
	}
	if s.Control.CurrentController != nil && s.Control.CurrentController.UserID == userID {
		s.Control.CurrentController = nil
		controlChanged = true
	}
	return controlChanged, nil
}

// RequestControl appends a pending control request for userID
func (s *CallSession) RequestControl(userID uuid.UUID, now time.Time, requestTTL time.Duration) error {
	if s.Status == SessionEnded {
		return errors.SessionEndedError()
	}
	p := s.Participant(userID)
	if p == nil || !p.IsActive() {
		return errors.ParticipantNotFoundError()
	}
	if s.IsController(userID) {
		return errors.AlreadyControllerError()
	}
	if s.pendingRequest(userID) != nil {
		return errors.DuplicatePendingRequestError()
	}
	s.Control.RequestQueue = append(s.Control.RequestQueue, ControlRequest{
		UserID:      userID,
		RequestedAt: now,
		Status:      RequestPending,
		ExpiresAt:   now.Add(requestTTL),
	})
	return nil
}

func (s *CallSession) pendingRequest(userID uuid.UUID) *ControlRequest {
	for i := range s.Control.RequestQueue {
		if s.Control.RequestQueue[i].UserID == userID && s.Control.RequestQueue[i].Status == RequestPending {
			return &s.Control.RequestQueue[i]
		}
	}
	return nil
}

// canDecide reports whether userID may approve or deny control requests:
// only the host or the current controller.
func (s *CallSession) canDecide(userID uuid.UUID) bool {
	return userID == s.HostID || userID == s.ControllerID()
}

// ApproveControl grants master control to requesterID. Every other
// pending request is denied in the same mutation, so no two requests
// can ever be approved within one committed version.
func (s *CallSession) ApproveControl(requesterID, approverID uuid.UUID, now time.Time, holdTTL time.Duration) error {
	if !s.canDecide(approverID) {
		return errors.ControlUnauthorizedError()
	}
	req := s.pendingRequest(requesterID)
	if req == nil {
		return errors.RequestNotFoundError()
	}
	p := s.Participant(requesterID)
	if p == nil || !p.IsActive() {
		return errors.RequestNotFoundError()
	}
	req.Status = RequestApproved
	for i := range s.Control.RequestQueue {
		other := &s.Control.RequestQueue[i]
		if other.Status == RequestPending {
			other.Status = RequestDenied
		}
	}
	expires := now.Add(holdTTL)
	s.Control.CurrentController = &ControllerHold{
		UserID:    requesterID,
		StartedAt: now,
		ExpiresAt: &expires,
	}
	return nil
}

// DenyControl rejects a pending request without changing control
func (s *CallSession) DenyControl(requesterID, denierID uuid.UUID) error {
	if !s.canDecide(denierID) {
		return errors.ControlUnauthorizedError()
	}
	req := s.pendingRequest(requesterID)
	if req == nil {
		return errors.RequestNotFoundError()
	}
	req.Status = RequestDenied
	return nil
}

// ReleaseControl hands control back to the host voluntarily
func (s *CallSession) ReleaseControl(userID uuid.UUID) error {
	if !s.IsController(userID) {
		return errors.NotControllerError()
	}
	s.TransferToHost()
	return nil
}

// TransferToHost unconditionally reverts control to the host and denies
// all pending requests. Returns false when nothing changed, so callers
// can suppress spurious broadcasts.
func (s *CallSession) TransferToHost() bool {
	changed := false
	if s.Control.CurrentController != nil {
		s.Control.CurrentController = nil
		changed = true
	}
	for i := range s.Control.RequestQueue {
		req := &s.Control.RequestQueue[i]
		if req.Status == RequestPending {
			req.Status = RequestDenied
			changed = true
		}
	}
	return changed
}

// CheckExpiry reclaims an overdue control hold and expires overdue
// pending requests. Returns whether control reverted and how many
// requests expired; (false, 0) means the call was a no-op.
func (s *CallSession) CheckExpiry(now time.Time) (bool, int) {
	reverted := false
	hold := s.Control.CurrentController
	if hold != nil && hold.ExpiresAt != nil && now.After(*hold.ExpiresAt) {
		reverted = s.TransferToHost()
	}
	expired := 0
	for i := range s.Control.RequestQueue {
		req := &s.Control.RequestQueue[i]
		if req.Status == RequestPending && now.After(req.ExpiresAt) {
			req.Status = RequestExpired
			expired++
		}
	}
	return reverted, expired
}

// PendingRequests returns all requests still awaiting a decision
func (s *CallSession) PendingRequests() []ControlRequest {
	var pending []ControlRequest
	for _, req := range s.Control.RequestQueue {
		if req.Status == RequestPending {
			pending = append(pending, req)
		}
	}
	return pending
}

// ControlSnapshot projects the control state for broadcast
func (s *CallSession) ControlSnapshot() *ControlSnapshot {
	return &ControlSnapshot{
		ControllerID:      s.ControllerID(),
		CurrentController: s.Control.CurrentController,
		PendingRequests:   s.PendingRequests(),
	}
}

// End finalizes the session. Idempotent.
func (s *CallSession) End(now time.Time) {
	if s.Status == SessionEnded {
		return
	}
	s.Status = SessionEnded
	s.EndedAt = &now
	s.Duration = int(now.Sub(s.StartedAt).Seconds())
	for _, p := range s.Participants {
		if p.LeftAt == nil {
			p.LeftAt = &now
		}
	}
	s.Control.CurrentController = nil
}
