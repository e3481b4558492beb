package transport

import "sync"

// EventType enumerates the transport's event kinds. EventMisprediction and
// EventReconciliationComplete are declared here but never emitted by this
// package; pkg/prediction raises its own events through its own
// EventManager. Grounded on core/events/events.go's EventManager, generalized from
// game events to transport/connection lifecycle events per the "handler
// registry, keyed by packet type" guidance in spec Design Notes §9.
type EventType int

const (
	EventConnected EventType = iota
	EventClientConnected
	EventClientDisconnected
	EventError
	EventMisprediction
	EventReconciliationComplete
)

func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "Connected"
	case EventClientConnected:
		return "ClientConnected"
	case EventClientDisconnected:
		return "ClientDisconnected"
	case EventError:
		return "Error"
	case EventMisprediction:
		return "Misprediction"
	case EventReconciliationComplete:
		return "ReconciliationComplete"
	default:
		return "Unknown"
	}
}

// Event is a single occurrence dispatched to registered handlers.
type Event struct {
	Type         EventType
	ConnectionID uint32
	Message      string // OnError message / OnClientDisconnected reason
	Data         any
}

// Handler processes one Event.
type Handler func(Event)

// EventManager is a simple synchronous pub/sub dispatcher: On adds a
// handler for an EventType, Emit invokes every handler registered for
// the event's type, in registration order. Handlers run synchronously on
// the caller's goroutine (the application tick worker, for transport
// events dispatched from ProcessIncoming).
type EventManager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventManager creates an empty dispatcher.
func NewEventManager() *EventManager {
	return &EventManager{handlers: make(map[EventType][]Handler)}
}

// On registers handler for events of the given type.
func (em *EventManager) On(eventType EventType, handler Handler) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.handlers[eventType] = append(em.handlers[eventType], handler)
}

// Emit dispatches event to every handler registered for its type.
func (em *EventManager) Emit(event Event) {
	em.mu.RLock()
	handlers := em.handlers[event.Type]
	em.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}
