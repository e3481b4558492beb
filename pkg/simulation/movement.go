// Package simulation implements the XL4Net movement contract: a pure,
// deterministic function from (state, input, settings, dt) to the next
// state, invoked identically by the client's prediction engine and the
// authoritative server. Grounded on core/gamemode/freeroam.go's
// Vector3/Player field shape (Position, Rotation, Health as plain float32
// triples), generalized from SA-MP's freeroam ruleset down to the
// spec-defined canonical movement physics — no wall-clock reads, no
// randomness, fixed 32-bit float width and addition order so client and
// server never diverge on identical input.
package simulation

// Vector3 is a 32-bit-float 3D vector: position, velocity.
type Vector3 struct {
	X, Y, Z float32
}

// Vector2 is a 32-bit-float 2D vector: move direction.
type Vector2 struct {
	X, Y float32
}

// ActionFlags is the input bitset.
type ActionFlags uint8

const (
	ActionJump ActionFlags = 1 << iota
	ActionSprint
	ActionCrouch
	ActionPrimary
	ActionSecondary
	ActionInteract
)

// StateFlags is the output state bitset.
type StateFlags uint8

const (
	StateGrounded StateFlags = 1 << iota
	StateSprinting
	StateCrouching
	StateJumping
	StateFalling
)

// Input is one client input command: tick, the distinct monotonic
// sequence_number, and the raw player input for that tick.
type Input struct {
	Tick           uint32
	SequenceNumber uint32
	MoveDirection  Vector2
	LookRotation   float32
	ActionFlags    ActionFlags
}

// State is a full movement state snapshot, used both as the client's
// predicted state and the server's authoritative snapshot.
type State struct {
	Tick               uint32
	LastProcessedInput uint32
	Position           Vector3
	Velocity           Vector3
	Rotation           float32
	StateFlags         StateFlags
}

// Settings are the tunable movement constants shared by both peers.
type Settings struct {
	WalkSpeed    float32
	SprintSpeed  float32
	CrouchSpeed  float32
	JumpImpulse  float32
	Gravity      float32
	MaxFallSpeed float32
	GroundLevel  float32
}

// Execute advances state by one tick of dt seconds given input and
// settings. It is pure: identical arguments always produce an identical
// result, and it touches nothing outside its parameters.
func Execute(state State, input Input, settings Settings, dt float32) State {
	wasGrounded := state.StateFlags&StateGrounded != 0
	sprint := input.ActionFlags&ActionSprint != 0
	crouch := input.ActionFlags&ActionCrouch != 0
	jump := input.ActionFlags&ActionJump != 0

	var horizontalSpeed float32
	switch {
	case crouch:
		horizontalSpeed = settings.CrouchSpeed
	case sprint:
		horizontalSpeed = settings.SprintSpeed
	default:
		horizontalSpeed = settings.WalkSpeed
	}

	vx := input.MoveDirection.X * horizontalSpeed
	vz := input.MoveDirection.Y * horizontalSpeed

	var vy float32
	if wasGrounded && jump {
		vy = settings.JumpImpulse
	} else {
		vy = state.Velocity.Y - settings.Gravity*dt
		if vy < -settings.MaxFallSpeed {
			vy = -settings.MaxFallSpeed
		}
	}

	position := Vector3{
		X: state.Position.X + vx*dt,
		Y: state.Position.Y + vy*dt,
		Z: state.Position.Z + vz*dt,
	}

	grounded := false
	if position.Y <= settings.GroundLevel {
		position.Y = settings.GroundLevel
		vy = 0
		grounded = true
	}

	var flags StateFlags
	if grounded {
		flags |= StateGrounded
	}
	if vy > 0 {
		flags |= StateJumping
	}
	if vy < 0 {
		flags |= StateFalling
	}
	if grounded && sprint {
		flags |= StateSprinting
	}
	if grounded && crouch {
		flags |= StateCrouching
	}

	return State{
		Tick:               input.Tick,
		LastProcessedInput: input.SequenceNumber,
		Position:           position,
		Velocity:           Vector3{X: vx, Y: vy, Z: vz},
		Rotation:           input.LookRotation,
		StateFlags:         flags,
	}
}

// DefaultSettings mirrors a typical human-scale reference rig.
func DefaultSettings() Settings {
	return Settings{
		WalkSpeed:    3.0,
		SprintSpeed:  6.0,
		CrouchSpeed:  1.5,
		JumpImpulse:  5.0,
		Gravity:      9.8,
		MaxFallSpeed: 25.0,
		GroundLevel:  0.0,
	}
}
