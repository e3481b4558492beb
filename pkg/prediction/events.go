package prediction

import (
	"sync"

	"github.com/xl4net/xl4net/pkg/simulation"
)

// EventType identifies a reconciliation lifecycle event.
type EventType int

const (
	// EventMisprediction fires when a reconciled server snapshot disagrees
	// with the locally predicted state beyond tolerance.
	EventMisprediction EventType = iota
	// EventReconciliationComplete fires after the rollback-and-replay that
	// follows a misprediction; a snapshot within tolerance emits no event.
	EventReconciliationComplete
)

func (t EventType) String() string {
	switch t {
	case EventMisprediction:
		return "misprediction"
	case EventReconciliationComplete:
		return "reconciliation_complete"
	default:
		return "unknown"
	}
}

// Event carries the data relevant to a reconciliation event.
type Event struct {
	Type EventType

	// Populated for EventMisprediction.
	Predicted       simulation.State
	Server          simulation.State
	PositionDeltaEMA float64

	// Populated for EventReconciliationComplete.
	Old           simulation.State
	New           simulation.State
	ReplayedCount int
}

// Handler receives emitted events.
type Handler func(Event)

// EventManager is a simple registry of handlers keyed by event type,
// generalized from core/events/events.go's EventType/Event/EventHandler
// pattern down to the prediction engine's own lifecycle.
type EventManager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventManager creates an empty registry.
func NewEventManager() *EventManager {
	return &EventManager{handlers: make(map[EventType][]Handler)}
}

// On registers handler to run whenever eventType is emitted.
func (m *EventManager) On(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Emit runs every handler registered for event.Type, synchronously, in
// registration order.
func (m *EventManager) Emit(event Event) {
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[event.Type]...)
	m.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}
