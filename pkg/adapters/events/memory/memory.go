package memory

import (
	"context"
	"sync"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"go.uber.org/zap"
)

const (
	defaultBuffer     = 256
	defaultHistoryCap = 10000
)

// EventBus implements ports.EventBus in process. Every subscription has
// its own buffered queue, so handlers see events in publish order and a slow
// handler does not hold up the publisher until its queue is full.
type EventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]map[int]*subscription
	nextID      int
	history     map[string][]domain.Event
	historyCap  int
	closed      bool
}

type subscription struct {
	events chan domain.Event
	done   chan struct{}
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger:      logger,
		subscribers: make(map[string]map[int]*subscription),
		history:     make(map[string][]domain.Event),
		historyCap:  defaultHistoryCap,
	}
}

// Publish appends the event to the topic log and queues it for every
// subscriber of the topic
func (e *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.Lock()
	log := append(e.history[topic], event)
	if len(log) > e.historyCap {
		log = log[len(log)-e.historyCap:]
	}
	e.history[topic] = log

	subs := make([]*subscription, 0, len(e.subscribers[topic]))
	for _, s := range e.subscribers[topic] {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, s := range subs {
		select {
		case s.events <- event:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe delivers events published on topic to handler until ctx ends
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return context.Canceled
	}

	id := e.nextID
	e.nextID++
	s := &subscription{
		events: make(chan domain.Event, defaultBuffer),
		done:   make(chan struct{}),
	}
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[int]*subscription)
	}
	e.subscribers[topic][id] = s

	go e.deliver(ctx, topic, s, handler)
	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, id)
	}()

	return nil
}

func (e *EventBus) deliver(ctx context.Context, topic string, s *subscription, handler ports.EventHandler) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case event := <-s.events:
			if err := handler(ctx, event); err != nil {
				e.logger.Warn("event handler error",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.String("type", string(event.Type)),
					zap.Error(err))
			}
		}
	}
}

// History returns a copy of the events published on topic, oldest first
func (e *EventBus) History(topic string) []domain.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Event(nil), e.history[topic]...)
}

// Close drops every subscription
func (e *EventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, subs := range e.subscribers {
		for _, s := range subs {
			close(s.done)
		}
	}
	e.subscribers = make(map[string]map[int]*subscription)
	e.closed = true
	return nil
}

func (e *EventBus) unsubscribe(topic string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.subscribers[topic][id]; ok {
		close(s.done)
		delete(e.subscribers[topic], id)
	}
}
