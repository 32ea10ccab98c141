package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"shopcall-backend/internal/domain"
	"shopcall-backend/internal/service/browse"
	"shopcall-backend/internal/service/call"
	"shopcall-backend/internal/service/control"
	"shopcall-backend/internal/transport"
	"shopcall-backend/pkg/constants"
	"shopcall-backend/pkg/errors"
	"shopcall-backend/pkg/logger"
	"shopcall-backend/pkg/metrics"
)

// Inbound client message types
const (
	MessageControlRequest = "control:request"
	MessageControlApprove = "control:approve"
	MessageControlDeny    = "control:deny"
	MessageControlRelease = "control:release"
	MessageBrowseSync     = "browse:sync"
	MessageCartUpdate     = "cart:update"
)

// ClientMessage is an inbound frame from a call participant
type ClientMessage struct {
	Type        string                `json:"type"`
	RequesterID uuid.UUID             `json:"requester_id,omitempty"`
	Browse      *domain.BrowsePayload `json:"browse,omitempty"`
	ProductID   string                `json:"product_id,omitempty"`
	Action      domain.CartAction     `json:"action,omitempty"`
}

// errorFrame is sent back to the acting client when its message failed
// validation; broadcast state is untouched in that case.
type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CallHub manages the WebSocket side of the call transport: it joins
// clients to a call, fans broadcast events out to local sockets, and
// dispatches inbound messages to the coordinator and synchronizer.
type CallHub struct {
	// Registered clients per call
	calls map[uuid.UUID]map[*CallClient]bool

	// Cancel functions for call event subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	transport    transport.Transport
	callService  *call.Service
	coordinator  *control.Coordinator
	synchronizer *browse.Synchronizer
	metrics      *metrics.Metrics

	mu sync.RWMutex

	register   chan *CallClient
	unregister chan *CallClient
	broadcast  chan *domain.Event

	// Concurrency limit for WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

// CallClient represents one participant's WebSocket connection
type CallClient struct {
	hub    *CallHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	callID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

var callUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}
		for _, allowed := range allowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

func allowedOrigins() []string {
	if val := os.Getenv("WS_ALLOWED_ORIGINS"); val != "" {
		return strings.Split(val, ",")
	}
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
	}
}

// NewCallHub creates a new call hub
func NewCallHub(t transport.Transport, callService *call.Service, coordinator *control.Coordinator, synchronizer *browse.Synchronizer, m *metrics.Metrics) *CallHub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CALL_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &CallHub{
		calls:               make(map[uuid.UUID]map[*CallClient]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		transport:           t,
		callService:         callService,
		coordinator:         coordinator,
		synchronizer:        synchronizer,
		metrics:             m,
		register:            make(chan *CallClient),
		unregister:          make(chan *CallClient),
		broadcast:           make(chan *domain.Event, 256),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *CallHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.calls[client.callID] == nil {
				h.calls[client.callID] = make(map[*CallClient]bool)

				ctx, cancel := context.WithCancel(context.Background())
				h.subscriptionCancels[client.callID] = cancel

				go h.pumpEvents(ctx, client.callID)
			}
			h.calls[client.callID][client] = true
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.RecordWebSocketConnect()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.calls[client.callID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					client.cancel()

					if len(clients) == 0 {
						if cancel, ok := h.subscriptionCancels[client.callID]; ok {
							cancel()
							delete(h.subscriptionCancels, client.callID)
						}
						delete(h.calls, client.callID)
					}
				}
			}
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.RecordWebSocketDisconnect()
			}

			// Disconnect handling: the leave mutation reverts control to
			// the host if this client held it, in the same commit.
			go h.handleDisconnect(client)

		case event := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.calls[event.CallID]; ok {
				payload, _ := json.Marshal(event)

				// Targeted events (control-request) go to one member only
				if event.TargetID != uuid.Nil {
					for client := range clients {
						if client.userID == event.TargetID {
							select {
							case client.send <- payload:
							default:
								close(client.send)
								delete(clients, client)
							}
						}
					}
				} else {
					for client := range clients {
						select {
						case client.send <- payload:
						default:
							close(client.send)
							delete(clients, client)
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pumpEvents forwards the call's broadcast stream into the hub until
// the last local client leaves
func (h *CallHub) pumpEvents(ctx context.Context, callID uuid.UUID) {
	events, err := h.transport.Subscribe(ctx, callID)
	if err != nil {
		logger.Error("Failed to subscribe to call events",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			h.broadcast <- event
		}
	}
}

func (h *CallHub) handleDisconnect(client *CallClient) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	if err := h.callService.LeaveCall(ctx, client.callID, client.userID); err != nil {
		// Already left via the HTTP endpoint or the call ended
		if errors.HasCode(err, errors.ErrCodeSessionNotFound) ||
			errors.HasCode(err, errors.ErrCodeParticipantNotFound) {
			return
		}
		logger.Warn("Failed to process WebSocket disconnect",
			zap.String("call_id", client.callID.String()),
			zap.String("user_id", client.userID.String()),
			zap.Error(err))
	}
}

// ServeWS handles WebSocket requests for call events
func (h *CallHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	callIDStr := c.Query("call_id")
	if callIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	callID, err := uuid.Parse(callIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call_id"})
		return
	}

	// Get user ID from context (set by auth middleware)
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	// Join the session before upgrading so membership is enforced and
	// the client can be hydrated with the canonical state
	session, err := h.callService.JoinCall(c.Request.Context(), callID, userID)
	if err != nil {
		appErr := errors.GetAppError(err)
		c.JSON(appErr.StatusCode, gin.H{"error": appErr.Message})
		return
	}

	conn, err := callUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &CallClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		callID: callID,
		ctx:    ctx,
		cancel: cancel,
	}

	client.hub.register <- client

	// Hydrate the late joiner with the full canonical state
	hydration, _ := json.Marshal(&domain.Event{
		Type:      domain.EventBrowseUpdate,
		CallID:    callID,
		Browsing:  &session.Browsing,
		Version:   session.Version,
		Timestamp: time.Now(),
	})
	client.send <- hydration

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from WebSocket
func (c *CallClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("call_id", c.callID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("call_id", c.callID.String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		c.handleMessage(&msg)
	}
}

// handleMessage dispatches an inbound frame to the core services.
// Validation failures go back to the sender only; nothing is broadcast.
func (c *CallClient) handleMessage(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(c.ctx, constants.DefaultTimeout)
	defer cancel()

	if c.hub.metrics != nil {
		c.hub.metrics.RecordWebSocketMessage(msg.Type)
	}

	var err error
	switch msg.Type {
	case MessageControlRequest:
		err = c.hub.coordinator.RequestControl(ctx, c.callID, c.userID)
	case MessageControlApprove:
		err = c.hub.coordinator.ApproveControlRequest(ctx, c.callID, msg.RequesterID, c.userID)
	case MessageControlDeny:
		err = c.hub.coordinator.DenyControlRequest(ctx, c.callID, msg.RequesterID, c.userID)
	case MessageControlRelease:
		err = c.hub.coordinator.ReleaseControl(ctx, c.callID, c.userID)
	case MessageBrowseSync:
		if msg.Browse == nil {
			err = errors.MissingFieldError("browse")
		} else {
			_, err = c.hub.synchronizer.SyncBrowsing(ctx, c.callID, c.userID, *msg.Browse)
		}
	case MessageCartUpdate:
		_, err = c.hub.synchronizer.AddCartUpdate(ctx, c.callID, c.userID, msg.ProductID, msg.Action)
	default:
		err = errors.InvalidInputError("unknown message type: " + msg.Type)
	}

	if err != nil {
		c.sendError(err)
	}
}

func (c *CallClient) sendError(err error) {
	appErr := errors.GetAppError(err)
	payload, marshalErr := json.Marshal(errorFrame{
		Type:    "error",
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
	if marshalErr != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump writes messages to WebSocket
func (c *CallClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
