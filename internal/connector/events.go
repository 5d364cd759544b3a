package connector

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
)

// EventQueueCapacity is the number of events that can wait for consumers.
const EventQueueCapacity = 1000

// Event is a change propagated by the registries to the consumers.
type Event interface {
	// DeviceID returns the device the event belongs to.
	DeviceID() uuid.UUID
}

// DeviceRecordEvent is propagated when a device record is created or its
// persisted attributes change.
type DeviceRecordEvent struct {
	Record DeviceRecord
}

// DeviceID implements Event.
func (e DeviceRecordEvent) DeviceID() uuid.UUID { return e.Record.ID }

// DeviceStateEvent is propagated when a device changes state or is enabled
// or disabled.
type DeviceStateEvent struct {
	Record DeviceRecord
}

// DeviceID implements Event.
func (e DeviceStateEvent) DeviceID() uuid.UUID { return e.Record.ID }

// RegisterRecordEvent is propagated when a register record is created.
type RegisterRecordEvent struct {
	Record RegisterRecord
}

// DeviceID implements Event.
func (e RegisterRecordEvent) DeviceID() uuid.UUID { return e.Record.DeviceID }

// RegisterActualValueEvent is propagated when a register value is received
// from the device. Values are in gateway representation.
type RegisterActualValueEvent struct {
	Device        uuid.UUID
	Register      uuid.UUID
	RegisterType  bus.RegisterType
	Address       int
	DataType      bus.DataType
	ActualValue   any
	ExpectedValue any
}

// DeviceID implements Event.
func (e RegisterActualValueEvent) DeviceID() uuid.UUID { return e.Device }

// EventPropagator accepts events from the registries.
type EventPropagator interface {
	Propagate(event Event)
}

// Consumer receives every event popped from the queue.
type Consumer interface {
	Consume(ctx context.Context, event Event) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, event Event) error

// Consume implements Consumer.
func (f ConsumerFunc) Consume(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Events is a bounded queue of registry events dispatched to consumers.
//
// Propagate never blocks: when the queue is full the event is dropped.
// Handle is called from the connector loop.
type Events struct {
	queue chan Event

	consumers   []Consumer
	consumersMu sync.RWMutex

	logger Logger
}

// NewEvents creates an empty event queue.
func NewEvents(logger Logger) *Events {
	return &Events{
		queue:  make(chan Event, EventQueueCapacity),
		logger: loggerOrNoop(logger),
	}
}

// Register adds a consumer. Consumers are called in registration order.
func (e *Events) Register(c Consumer) {
	e.consumersMu.Lock()
	e.consumers = append(e.consumers, c)
	e.consumersMu.Unlock()
}

// Propagate implements EventPropagator.
func (e *Events) Propagate(event Event) {
	select {
	case e.queue <- event:
	default:
		e.logger.Warn("event queue is full, dropping event",
			"device_id", event.DeviceID().String(),
			"event", eventName(event))
	}
}

// Handle pops one event and dispatches it to every consumer. It reports
// whether an event was handled.
func (e *Events) Handle(ctx context.Context) bool {
	var event Event
	select {
	case event = <-e.queue:
	default:
		return false
	}

	e.consumersMu.RLock()
	consumers := e.consumers
	e.consumersMu.RUnlock()

	for _, c := range consumers {
		if err := c.Consume(ctx, event); err != nil {
			e.logger.Error("event consumer failed",
				"event", eventName(event),
				"device_id", event.DeviceID().String(),
				"error", err)
		}
	}
	return true
}

// Len returns the number of queued events.
func (e *Events) Len() int {
	return len(e.queue)
}

// IsEmpty reports whether no event is queued.
func (e *Events) IsEmpty() bool {
	return len(e.queue) == 0
}

func eventName(event Event) string {
	switch event.(type) {
	case DeviceRecordEvent:
		return "device_record"
	case DeviceStateEvent:
		return "device_state"
	case RegisterRecordEvent:
		return "register_record"
	case RegisterActualValueEvent:
		return "register_actual_value"
	}
	return "unknown"
}
