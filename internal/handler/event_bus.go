// internal/handler/event_bus.go
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"canfix-service/internal/service"
)

// Event types carried on the event bus
const (
	EventFrame = "frame"
)

// EventBus manages event distribution
type EventBus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	stopped     bool
	logger      *zap.Logger
}

// Event represents a system event
type Event struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger,
	}
}

// Start distributes events until Stop is called
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	for eventType, subscribers := range eb.subscribers {
		for _, subscriber := range subscribers {
			close(subscriber)
		}
		delete(eb.subscribers, eventType)
	}
}

// Stop closes the bus; subscriber channels are closed once pending
// events are distributed
func (eb *EventBus) Stop() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if !eb.stopped {
		eb.stopped = true
		close(eb.events)
	}
}

// Publish publishes an event
func (eb *EventBus) Publish(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	if eb.stopped {
		return
	}

	select {
	case eb.events <- event:
	default:
		// Event bus is full, log warning
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", event.Type),
			)
		}
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType string) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// Unsubscribe removes a subscription and closes its channel
func (eb *EventBus) Unsubscribe(eventType string, subscription <-chan Event) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscribers := eb.subscribers[eventType]
	for i, subscriber := range subscribers {
		if subscriber == subscription {
			eb.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			close(subscriber)
			return
		}
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, subscriber := range eb.subscribers[event.Type] {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// BusEventHandler publishes bus frame events on the event bus
type BusEventHandler struct {
	eventBus *EventBus
}

// NewBusEventHandler creates a new bus event handler
func NewBusEventHandler(eventBus *EventBus) *BusEventHandler {
	return &BusEventHandler{eventBus: eventBus}
}

// PublishFrame implements service.FramePublisher
func (h *BusEventHandler) PublishFrame(event service.FrameEvent) {
	h.eventBus.Publish(Event{
		Type:      EventFrame,
		Source:    "bus",
		Data:      event,
		Timestamp: event.Time,
	})
}
