package events_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/fulfillment/pkg/adapters/events/memory"
	redisbus "github.com/aescanero/fulfillment/pkg/adapters/events/redis"
	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// recorder collects delivered events
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.events))
	for _, e := range r.events {
		ids = append(ids, e.ID)
	}
	return ids
}

func event(i int) domain.Event {
	return domain.Event{
		ID:          fmt.Sprintf("evt-%d", i),
		Type:        domain.EventTypeStepCompleted,
		ExecutionID: "exec-1",
		StepID:      "validate-order",
		Timestamp:   time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		Data:        map[string]interface{}{"seq": float64(i)},
	}
}

// exerciseBus checks ordered fan-out delivery shared by every bus
func exerciseBus(t *testing.T, bus ports.EventBus) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, second := &recorder{}, &recorder{}
	require.NoError(t, bus.Subscribe(ctx, domain.EventsTopic, first.handle))
	require.NoError(t, bus.Subscribe(ctx, domain.EventsTopic, second.handle))

	other := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, "other.topic", other.handle))

	want := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(ctx, domain.EventsTopic, event(i)))
		want = append(want, fmt.Sprintf("evt-%d", i))
	}

	for _, r := range []*recorder{first, second} {
		r := r
		assert.Eventually(t, func() bool { return len(r.ids()) == len(want) }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, want, r.ids())
	}
	assert.Empty(t, other.ids())

	first.mu.Lock()
	got := first.events[2]
	first.mu.Unlock()
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, float64(2), got.Data["seq"])
}

func TestMemoryEventBus(t *testing.T) {
	bus := memory.NewEventBus(zap.NewNop())
	defer bus.Close()
	exerciseBus(t, bus)

	assert.Len(t, bus.History(domain.EventsTopic), 5)
}

func TestMemoryEventBusUnsubscribesOnCancel(t *testing.T) {
	bus := memory.NewEventBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, domain.EventsTopic, r.handle))
	require.NoError(t, bus.Publish(context.Background(), domain.EventsTopic, event(1)))
	assert.Eventually(t, func() bool { return len(r.ids()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), domain.EventsTopic, event(2)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"evt-1"}, r.ids())
}

func TestMemoryEventBusHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := memory.NewEventBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, bus.Subscribe(ctx, domain.EventsTopic, func(context.Context, domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return fmt.Errorf("boom")
	}))

	require.NoError(t, bus.Publish(ctx, domain.EventsTopic, event(1)))
	require.NoError(t, bus.Publish(ctx, domain.EventsTopic, event(2)))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStreamsEventBus(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()

	// entries published before subscribing are not replayed
	bus := redisbus.NewStreamsEventBus(client, "", "", 1000, zap.NewNop())
	defer bus.Close()
	require.NoError(t, bus.Publish(ctx, domain.EventsTopic, domain.Event{ID: "before"}))

	exerciseBus(t, bus)
}

func TestRedisStreamsEventBusConsumerGroup(t *testing.T) {
	client := newRedisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := redisbus.NewStreamsEventBus(client, "audit", "a", 0, zap.NewNop())
	b := redisbus.NewStreamsEventBus(client, "audit", "b", 0, zap.NewNop())
	defer a.Close()
	defer b.Close()

	ra, rb := &recorder{}, &recorder{}
	require.NoError(t, a.Subscribe(ctx, domain.EventsTopic, ra.handle))
	require.NoError(t, b.Subscribe(ctx, domain.EventsTopic, rb.handle))

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Publish(ctx, domain.EventsTopic, event(i)))
	}

	// the group splits the stream, each entry is handled once
	assert.Eventually(t, func() bool {
		return len(ra.ids())+len(rb.ids()) == 10
	}, 10*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "fulfillment:events:"+domain.EventsTopic, "audit").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 20*time.Millisecond)
}
