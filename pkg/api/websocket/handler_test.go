package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/fulfillment/pkg/adapters/events/memory"
	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticStatus map[string]*domain.Execution

func (s staticStatus) GetStatus(ctx context.Context, executionID string) (*domain.Execution, error) {
	if exec, ok := s[executionID]; ok {
		return exec, nil
	}
	return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
}

func newStreamServer(t *testing.T, status staticStatus) (*httptest.Server, *memory.EventBus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := memory.NewEventBus(zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	router := gin.New()
	router.GET("/api/v1/fulfillments/:id/ws", NewHandler(bus, status, zap.NewNop()).HandleExecutionStream)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, bus
}

func wsURL(srv *httptest.Server, id string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/fulfillments/" + id + "/ws"
}

func TestExecutionStream(t *testing.T) {
	srv, bus := newStreamServer(t, staticStatus{
		"exec-1": {ID: "exec-1", Status: domain.ExecutionStatusInProgress},
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "exec-1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, KindSnapshot, msg.Kind)
	require.NotNil(t, msg.Execution)
	assert.Equal(t, "exec-1", msg.Execution.ID)

	ctx := context.Background()
	publish := func(id string, typ domain.EventType) {
		require.NoError(t, bus.Publish(ctx, domain.EventsTopic, domain.Event{
			ID:          fmt.Sprintf("%s-%s", id, typ),
			Type:        typ,
			ExecutionID: id,
			Timestamp:   time.Now(),
		}))
	}
	publish("exec-2", domain.EventTypeStepStarted)
	publish("exec-1", domain.EventTypeStepStarted)
	publish("exec-1", domain.EventTypeFulfillmentCompleted)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, KindEvent, msg.Kind)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "exec-1", msg.Event.ExecutionID)
	assert.Equal(t, domain.EventTypeStepStarted, msg.Event.Type)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, domain.EventTypeFulfillmentCompleted, msg.Event.Type)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestExecutionStreamTerminalSnapshotCloses(t *testing.T) {
	srv, _ := newStreamServer(t, staticStatus{
		"exec-done": {ID: "exec-done", Status: domain.ExecutionStatusCompleted},
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "exec-done"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, domain.ExecutionStatusCompleted, msg.Execution.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestExecutionStreamUnknownExecution(t *testing.T) {
	srv, _ := newStreamServer(t, staticStatus{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "missing"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
