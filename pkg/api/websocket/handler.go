package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	bufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusReader loads the current state of an execution
type StatusReader interface {
	GetStatus(ctx context.Context, executionID string) (*domain.Execution, error)
}

// Message is a single frame sent to clients. The first frame of a stream
// carries the execution snapshot, every later frame one event.
type Message struct {
	Kind      string            `json:"kind"`
	Execution *domain.Execution `json:"execution,omitempty"`
	Event     *domain.Event     `json:"event,omitempty"`
}

// Message kinds
const (
	KindSnapshot = "snapshot"
	KindEvent    = "event"
)

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	status   StatusReader
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, status StatusReader, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		status:   status,
		logger:   logger,
	}
}

// HandleExecutionStream streams the events of one execution until the
// client disconnects or the execution reaches a terminal state
func (h *Handler) HandleExecutionStream(c *gin.Context) {
	executionID := c.Param("id")

	exec, err := h.status.GetStatus(c.Request.Context(), executionID)
	if err != nil {
		status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
		if errors.Is(err, domain.ErrNotFound) {
			status, code = http.StatusNotFound, "NOT_FOUND"
		}
		c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
		return
	}

	// Upgrade connection
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("execution_id", executionID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan domain.Event, bufferSize)
	err = h.eventBus.Subscribe(ctx, domain.EventsTopic, func(ctx context.Context, event domain.Event) error {
		if event.ExecutionID != executionID {
			return nil
		}
		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("execution_id", executionID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to subscribe to events", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		return
	}

	// re-read after subscribing so no event falls between snapshot and stream
	if fresh, err := h.status.GetStatus(ctx, executionID); err == nil {
		exec = fresh
	}
	if err := h.write(conn, Message{Kind: KindSnapshot, Execution: exec}); err != nil {
		return
	}
	if exec.Status.IsTerminal() {
		h.close(conn, "execution finished")
		return
	}

	go h.readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case event := <-events:
			if err := h.write(conn, Message{Kind: KindEvent, Event: &event}); err != nil {
				return
			}
			if isFinal(event.Type) {
				h.close(conn, "execution finished")
				return
			}
		}
	}
}

// readPump discards client frames and cancels the stream on disconnect
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("failed to write message", zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) close(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
}

func isFinal(t domain.EventType) bool {
	switch t {
	case domain.EventTypeFulfillmentCompleted,
		domain.EventTypeFulfillmentFailed,
		domain.EventTypeFulfillmentCancelled:
		return true
	}
	return false
}
