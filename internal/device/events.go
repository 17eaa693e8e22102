package device

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	EventChannels   = "channels"
	EventSettings   = "settings"
	EventGPIOConfig = "gpio_config"
	EventConnection = "connection"
	EventSurvey     = "survey"
	EventStatus     = "status"
)

// Event is a device state change, emitted on the loop goroutine.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans device events out to observers such as the web surface.
// Observers must not call back into the device.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[uint64]subscription
	nextID   uint64
	logger   *slog.Logger
}

type subscription struct {
	types   map[string]bool // nil: every type
	handler EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[uint64]subscription),
		logger:   logger.With("component", "events"),
	}
}

// Subscribe registers handler for the given event types, or for all events
// when none are given. Returns an unsubscribe function.
func (eb *EventBus) Subscribe(handler EventHandler, types ...string) func() {
	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.handlers[id] = sub
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers, id)
	}
}

// Emit delivers an event to matching handlers synchronously; a panicking
// handler is recovered and logged.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers))
	for _, s := range eb.handlers {
		if s.types == nil || s.types[event.Type] {
			handlers = append(handlers, s.handler)
		}
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
