package prediction

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/xl4net/xl4net/internal/metrics"
	"github.com/xl4net/xl4net/pkg/simulation"
)

// engineState is the prediction engine's own lifecycle, distinct from a
// transport Connection's state.
type engineState int

const (
	// Uninitialized rejects ProcessInput/Reconcile/SyncTick with
	// ErrNotInitialized until Initialize is called.
	Uninitialized engineState = iota
	Running
)

// Tunables fixed by spec §4.5.
const (
	PositionTolerance = 0.01
	VelocityTolerance = 0.1
	MispredictionEMAAlpha = 0.1
	MaxTickDrift = 10
)

// ErrNotInitialized is returned by ProcessInput, Reconcile and SyncTick
// when the engine has not yet been initialized.
var ErrNotInitialized = errors.New("prediction: engine not initialized")

// RawInput is a client input sample before the engine stamps it with a
// tick and sequence number.
type RawInput struct {
	MoveDirection simulation.Vector2
	LookRotation  float32
	ActionFlags   simulation.ActionFlags
}

// Engine is the client-side prediction and reconciliation state machine:
// it simulates every local input immediately via simulation.Execute,
// buffers both the input and the resulting state, and rolls back and
// replays against authoritative server snapshots as they arrive.
type Engine struct {
	mu sync.Mutex

	state engineState

	settings  simulation.Settings
	tickDelta float32

	currentState    simulation.State
	currentTick     uint32
	sequenceCounter uint32

	inputs *InputRing
	states *StateRing

	mispredictionCount uint64
	meanPositionDelta  float64

	events *EventManager
}

// NewEngine creates an uninitialized engine with the given movement
// settings, tick rate (ticks per second), and ring capacity (spec §9
// default is DefaultRingCapacity).
func NewEngine(settings simulation.Settings, tickRate float64, ringCapacity int) *Engine {
	return &Engine{
		settings:  settings,
		tickDelta: float32(1.0 / tickRate),
		inputs:    NewInputRing(ringCapacity),
		states:    NewStateRing(ringCapacity),
		events:    NewEventManager(),
	}
}

// Events returns the engine's event registry.
func (e *Engine) Events() *EventManager { return e.events }

// Initialize (re)starts the engine at initialState, tagging it with the
// server's current tick, and transitions Uninitialized -> Running.
func (e *Engine) Initialize(initialState simulation.State, serverTick uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inputs.Reset()
	e.states.Reset()
	e.currentState = initialState
	e.currentState.Tick = serverTick
	e.currentTick = serverTick
	e.sequenceCounter = 0
	e.mispredictionCount = 0
	e.meanPositionDelta = 0
	e.states.Append(e.currentState)
	e.state = Running
}

// Reset returns the engine to Uninitialized, discarding all buffered
// input/state history.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inputs.Reset()
	e.states.Reset()
	e.currentState = simulation.State{}
	e.currentTick = 0
	e.sequenceCounter = 0
	e.state = Uninitialized
}

// CurrentState returns the engine's current predicted state.
func (e *Engine) CurrentState() simulation.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentState
}

// MispredictionStats returns the total misprediction count and the
// exponential moving average of the position-delta magnitude across
// mispredictions.
func (e *Engine) MispredictionStats() (count uint64, meanDelta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mispredictionCount, e.meanPositionDelta
}

// ProcessInput advances the local simulation by one tick: it stamps raw
// with the next tick/sequence number, runs simulation.Execute against the
// current predicted state, buffers both the input and resulting state,
// and returns the stamped input command to send to the server.
func (e *Engine) ProcessInput(raw RawInput) (simulation.Input, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Running {
		return simulation.Input{}, ErrNotInitialized
	}

	e.currentTick++
	e.sequenceCounter++

	input := simulation.Input{
		Tick:           e.currentTick,
		SequenceNumber: e.sequenceCounter,
		MoveDirection:  raw.MoveDirection,
		LookRotation:   raw.LookRotation,
		ActionFlags:    raw.ActionFlags,
	}

	next := simulation.Execute(e.currentState, input, e.settings, e.tickDelta)

	e.inputs.Append(input)
	e.states.Append(next)
	e.currentState = next

	return input, nil
}

// Reconcile compares an authoritative server snapshot against the
// buffered prediction at the same tick. If the predicted state is within
// tolerance the snapshot's acknowledged inputs are simply dropped; on
// mismatch the engine rolls back to the snapshot and replays every
// buffered input with a later tick, emitting EventMisprediction and
// EventReconciliationComplete along the way.
func (e *Engine) Reconcile(server simulation.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Running {
		return ErrNotInitialized
	}

	predicted, ok := e.states.LookupByTick(server.Tick)
	if !ok {
		// Snapshot too old (already pruned) or too far ahead: nothing to
		// reconcile against yet.
		return nil
	}

	if statesMatch(predicted, server) {
		e.inputs.DropPrefixUpTo(server.LastProcessedInput)
		return nil
	}

	delta := positionDelta(predicted, server)
	e.mispredictionCount++
	e.meanPositionDelta = MispredictionEMAAlpha*delta + (1-MispredictionEMAAlpha)*e.meanPositionDelta
	metrics.Mispredictions.Inc()
	metrics.MispredictionDelta.Set(e.meanPositionDelta)

	e.events.Emit(Event{
		Type:             EventMisprediction,
		Predicted:        predicted,
		Server:           server,
		PositionDeltaEMA: e.meanPositionDelta,
	})

	old := e.currentState
	working := server
	replayed := 0
	for _, in := range e.inputs.InOrder() {
		if in.Tick <= server.Tick {
			continue
		}
		working = simulation.Execute(working, in, e.settings, e.tickDelta)
		e.states.Append(working)
		replayed++
	}
	e.currentState = working
	e.currentTick = working.Tick
	e.inputs.DropPrefixUpTo(server.LastProcessedInput)
	metrics.ReplayedInputs.Observe(float64(replayed))

	e.events.Emit(Event{
		Type:          EventReconciliationComplete,
		Old:           old,
		New:           working,
		ReplayedCount: replayed,
	})

	return nil
}

// SyncTick adjusts the engine's local tick counter toward the server's
// clock, estimating the server's current tick from its last reported
// tick plus the measured one-way latency. A large drift snaps directly
// to the estimate; a small one is corrected gradually (drift/4) to avoid
// visibly jumping the simulation.
func (e *Engine) SyncTick(serverTick uint32, oneWayLatency time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Running {
		return ErrNotInitialized
	}

	latencyTicks := oneWayLatency.Seconds() / float64(e.tickDelta)
	estimated := float64(serverTick) + latencyTicks
	drift := estimated - float64(e.currentTick)
	metrics.TickDrift.Set(drift)

	if math.Abs(drift) > MaxTickDrift {
		newTick := int64(math.Round(estimated))
		if newTick < 0 {
			newTick = 0
		}
		e.currentTick = uint32(newTick)
		return nil
	}

	adjust := int64(drift) / 4
	newTick := int64(e.currentTick) + adjust
	if newTick < 0 {
		newTick = 0
	}
	e.currentTick = uint32(newTick)
	return nil
}

func statesMatch(predicted, server simulation.State) bool {
	if predicted.StateFlags != server.StateFlags {
		return false
	}
	if vectorDistance(predicted.Position, server.Position) > PositionTolerance {
		return false
	}
	if vectorDistance(predicted.Velocity, server.Velocity) > VelocityTolerance {
		return false
	}
	return true
}

func positionDelta(predicted, server simulation.State) float64 {
	return vectorDistance(predicted.Position, server.Position)
}

func vectorDistance(a, b simulation.Vector3) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	dz := float64(a.Z - b.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
