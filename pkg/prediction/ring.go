// Package prediction implements the XL4Net client-side prediction and
// server-reconciliation engine: per-tick local simulation ahead of server
// confirmation, input/state ring buffering, and rollback-and-replay
// reconciliation against authoritative snapshots. Grounded on
// source/protocol/raknet.go's bounded, pruned collections
// (Session.RecoveryQueue, SplitPackets — maps kept bounded and swept),
// adapted here into true fixed-capacity ring arrays since spec §4.5
// requires overwrite-oldest-when-full semantics rather than unbounded
// accumulation.
package prediction

import "github.com/xl4net/xl4net/pkg/simulation"

// DefaultRingCapacity is the default input/state ring size per spec §9.
const DefaultRingCapacity = 64

// InputRing is a fixed-capacity circular buffer of input commands,
// ordered by sequence_number; the oldest entry is overwritten once full.
type InputRing struct {
	buf   []simulation.Input
	start int
	count int
}

// NewInputRing creates an empty ring of the given capacity.
func NewInputRing(capacity int) *InputRing {
	return &InputRing{buf: make([]simulation.Input, capacity)}
}

// Append adds in as the newest entry, overwriting the oldest if full.
func (r *InputRing) Append(in simulation.Input) {
	cap := len(r.buf)
	if r.count < cap {
		idx := (r.start + r.count) % cap
		r.buf[idx] = in
		r.count++
		return
	}
	r.buf[r.start] = in
	r.start = (r.start + 1) % cap
}

// InOrder returns every buffered input, oldest first.
func (r *InputRing) InOrder() []simulation.Input {
	out := make([]simulation.Input, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// DropPrefixUpTo discards every buffered input whose SequenceNumber is
// <= seq.
func (r *InputRing) DropPrefixUpTo(seq uint32) {
	cap := len(r.buf)
	for r.count > 0 {
		front := r.buf[r.start]
		if front.SequenceNumber > seq {
			break
		}
		r.start = (r.start + 1) % cap
		r.count--
	}
}

// LookupBySequence finds the buffered input with the given sequence
// number, if still present.
func (r *InputRing) LookupBySequence(seq uint32) (simulation.Input, bool) {
	for i := 0; i < r.count; i++ {
		in := r.buf[(r.start+i)%len(r.buf)]
		if in.SequenceNumber == seq {
			return in, true
		}
	}
	return simulation.Input{}, false
}

// Len returns the number of buffered inputs.
func (r *InputRing) Len() int { return r.count }

// Reset empties the ring without reallocating its backing array.
func (r *InputRing) Reset() {
	r.start = 0
	r.count = 0
}

// StateRing is a fixed-capacity circular buffer of state snapshots,
// indexed by tick.
type StateRing struct {
	buf   []simulation.State
	start int
	count int
}

// NewStateRing creates an empty ring of the given capacity.
func NewStateRing(capacity int) *StateRing {
	return &StateRing{buf: make([]simulation.State, capacity)}
}

// Append adds s as the newest entry, overwriting the oldest if full.
func (r *StateRing) Append(s simulation.State) {
	cap := len(r.buf)
	if r.count < cap {
		idx := (r.start + r.count) % cap
		r.buf[idx] = s
		r.count++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % cap
}

// LookupByTick returns the most recently appended state at the given
// tick, if still buffered (newest-first scan, so a replayed overwrite of
// an already-buffered tick wins over the original prediction).
func (r *StateRing) LookupByTick(tick uint32) (simulation.State, bool) {
	for i := r.count - 1; i >= 0; i-- {
		s := r.buf[(r.start+i)%len(r.buf)]
		if s.Tick == tick {
			return s, true
		}
	}
	return simulation.State{}, false
}

// Len returns the number of buffered states.
func (r *StateRing) Len() int { return r.count }

// Reset empties the ring without reallocating its backing array.
func (r *StateRing) Reset() {
	r.start = 0
	r.count = 0
}
