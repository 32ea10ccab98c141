package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shopcall-backend/internal/repository/cockroach"
	"shopcall-backend/internal/service/browse"
	"shopcall-backend/internal/service/call"
	"shopcall-backend/internal/service/control"
	"shopcall-backend/pkg/constants"
	"shopcall-backend/pkg/errors"
	"shopcall-backend/pkg/response"
)

// Handler handles shopping-call HTTP requests
type Handler struct {
	callService  *call.Service
	coordinator  *control.Coordinator
	synchronizer *browse.Synchronizer
	archive      *cockroach.CallArchiveRepository
}

// NewHandler creates a new call handler. archive may be nil in limited
// mode; the history endpoint then reports unavailability.
func NewHandler(callService *call.Service, coordinator *control.Coordinator, synchronizer *browse.Synchronizer, archive *cockroach.CallArchiveRepository) *Handler {
	return &Handler{
		callService:  callService,
		coordinator:  coordinator,
		synchronizer: synchronizer,
		archive:      archive,
	}
}

// fail maps a service error onto the response envelope
func fail(c *gin.Context, err error) {
	appErr := errors.GetAppError(err)
	response.Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
}

// currentUser extracts the authenticated user ID set by the auth middleware
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// callID parses the :id path parameter
func callID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return id, true
}

// StartCallRequest represents a call start request
type StartCallRequest struct {
	RoomID string `json:"room_id" binding:"required,uuid"`
}

// StartCall starts a new shopping call for a room
// POST /v1/shopping-calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return
	}

	session, err := h.callService.StartCall(c.Request.Context(), roomID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// JoinCall joins an ongoing call and returns the full session snapshot
// POST /v1/shopping-calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.callService.JoinCall(c.Request.Context(), id, userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// LeaveCall marks the caller as having left the call
// POST /v1/shopping-calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.callService.LeaveCall(c.Request.Context(), id, userID); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Left call",
		"call_id": id,
	})
}

// EndCall ends the call for everyone (host only)
// POST /v1/shopping-calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), id, userID); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call ended",
		"call_id": id,
	})
}

// GetCall retrieves the current session state
// GET /v1/shopping-calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}

	session, err := h.callService.GetCall(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// GetBrowsingState returns the canonical browsing state for hydration
// GET /v1/shopping-calls/:id/browsing
func (h *Handler) GetBrowsingState(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}

	state, version, err := h.synchronizer.GetBrowsingState(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"browsing": state,
		"version":  version,
	})
}

// RequestControl files a master-control request
// POST /v1/shopping-calls/:id/control/request
func (h *Handler) RequestControl(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.coordinator.RequestControl(c.Request.Context(), id, userID); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{
		"message": "Control requested",
		"call_id": id,
	})
}

// ControlDecisionRequest identifies the pending request being decided
type ControlDecisionRequest struct {
	RequesterID string `json:"requester_id" binding:"required,uuid"`
}

// ApproveControl approves a pending control request
// POST /v1/shopping-calls/:id/control/approve
func (h *Handler) ApproveControl(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ControlDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		response.ValidationError(c, "Invalid requester ID")
		return
	}

	if err := h.coordinator.ApproveControlRequest(c.Request.Context(), id, requesterID, userID); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":      "Control approved",
		"call_id":      id,
		"requester_id": requesterID,
	})
}

// DenyControl denies a pending control request
// POST /v1/shopping-calls/:id/control/deny
func (h *Handler) DenyControl(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ControlDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		response.ValidationError(c, "Invalid requester ID")
		return
	}

	if err := h.coordinator.DenyControlRequest(c.Request.Context(), id, requesterID, userID); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":      "Control denied",
		"call_id":      id,
		"requester_id": requesterID,
	})
}

// ReleaseControl voluntarily returns control to the host
// POST /v1/shopping-calls/:id/control/release
func (h *Handler) ReleaseControl(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.coordinator.ReleaseControl(c.Request.Context(), id, userID); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Control released",
		"call_id": id,
	})
}

// GetRoomHistory lists archived calls for a room, newest first
// GET /v1/rooms/:room_id/shopping-calls
func (h *Handler) GetRoomHistory(c *gin.Context) {
	if h.archive == nil {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Call history is temporarily unavailable")
		return
	}

	roomID, err := uuid.Parse(c.Param("room_id"))
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return
	}

	limit := constants.DefaultPageSize
	if val := c.Query("limit"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= constants.MinPageSize && n <= constants.MaxPageSize {
			limit = n
		}
	}
	offset := 0
	if val := c.Query("offset"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			offset = n
		}
	}

	records, err := h.archive.GetRoomCalls(c.Request.Context(), roomID, limit, offset)
	if err != nil {
		response.InternalError(c, "Failed to load call history")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls":  records,
		"limit":  limit,
		"offset": offset,
	})
}
