package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies an outbound broadcast event
type EventType string

const (
	EventControlRequest   EventType = "control-request"
	EventControlChanged   EventType = "control-changed"
	EventBrowseUpdate     EventType = "browse-update"
	EventCartNotification EventType = "cart-notification"
)

// ControlSnapshot is the control-changed payload: who holds control and
// which requests are still pending.
type ControlSnapshot struct {
	ControllerID      uuid.UUID        `json:"controller_id"`
	CurrentController *ControllerHold  `json:"current_controller,omitempty"`
	PendingRequests   []ControlRequest `json:"pending_requests,omitempty"`
}

// Event is the broadcast envelope delivered to all members of a call.
// TargetID narrows delivery to one member (control-request goes to the
// host/controller only). Version carries the session version at commit
// time so clients can detect stale projections.
type Event struct {
	Type        EventType        `json:"type"`
	CallID      uuid.UUID        `json:"call_id"`
	TargetID    uuid.UUID        `json:"target_id,omitempty"`
	RequesterID uuid.UUID        `json:"requester_id,omitempty"`
	Control     *ControlSnapshot `json:"control,omitempty"`
	Browsing    *BrowsingState   `json:"browsing,omitempty"`
	Cart        *CartUpdate      `json:"cart,omitempty"`
	Version     int64            `json:"version"`
	Timestamp   time.Time        `json:"timestamp"`
}
