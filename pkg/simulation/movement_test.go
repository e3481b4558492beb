package simulation

import "testing"

func groundedState() State {
	return State{StateFlags: StateGrounded, Position: Vector3{Y: 0}}
}

func TestExecuteIsPureAndDeterministic(t *testing.T) {
	settings := DefaultSettings()
	state := groundedState()
	input := Input{Tick: 1, SequenceNumber: 1, MoveDirection: Vector2{X: 1, Y: 0}}

	a := Execute(state, input, settings, 1.0/30)
	b := Execute(state, input, settings, 1.0/30)
	if a != b {
		t.Fatalf("Execute is not deterministic: %+v != %+v", a, b)
	}
	// state must not be mutated.
	if state.Position.X != 0 {
		t.Error("Execute mutated its input state")
	}
}

func TestWalkSpeedAppliesWhenNoModifierFlags(t *testing.T) {
	settings := DefaultSettings()
	state := groundedState()
	dt := float32(1.0)
	input := Input{MoveDirection: Vector2{X: 1, Y: 0}}

	next := Execute(state, input, settings, dt)
	if next.Velocity.X != settings.WalkSpeed {
		t.Errorf("velocity.X = %f, want walk speed %f", next.Velocity.X, settings.WalkSpeed)
	}
}

func TestSprintOverridesWalkSpeed(t *testing.T) {
	settings := DefaultSettings()
	state := groundedState()
	input := Input{MoveDirection: Vector2{X: 1, Y: 0}, ActionFlags: ActionSprint}

	next := Execute(state, input, settings, 1.0)
	if next.Velocity.X != settings.SprintSpeed {
		t.Errorf("velocity.X = %f, want sprint speed %f", next.Velocity.X, settings.SprintSpeed)
	}
	if next.StateFlags&StateSprinting == 0 {
		t.Error("expected StateSprinting to be set")
	}
}

func TestCrouchTakesPrecedenceOverSprint(t *testing.T) {
	settings := DefaultSettings()
	state := groundedState()
	input := Input{MoveDirection: Vector2{X: 1, Y: 0}, ActionFlags: ActionSprint | ActionCrouch}

	next := Execute(state, input, settings, 1.0)
	if next.Velocity.X != settings.CrouchSpeed {
		t.Errorf("velocity.X = %f, want crouch speed %f", next.Velocity.X, settings.CrouchSpeed)
	}
}

func TestJumpAppliesImpulseOnlyWhenGrounded(t *testing.T) {
	settings := DefaultSettings()
	grounded := groundedState()
	input := Input{ActionFlags: ActionJump}

	next := Execute(grounded, input, settings, 0.01)
	if next.Velocity.Y != settings.JumpImpulse {
		t.Errorf("velocity.Y = %f, want jump impulse %f", next.Velocity.Y, settings.JumpImpulse)
	}
	if next.StateFlags&StateJumping == 0 {
		t.Error("expected StateJumping to be set after a jump impulse")
	}

	airborne := State{StateFlags: 0, Position: Vector3{Y: 10}, Velocity: Vector3{Y: 1}}
	next2 := Execute(airborne, input, settings, 0.01)
	if next2.Velocity.Y == settings.JumpImpulse {
		t.Error("jump impulse applied while not grounded")
	}
}

func TestGravityClampsAtMaxFallSpeed(t *testing.T) {
	settings := DefaultSettings()
	airborne := State{Position: Vector3{Y: 1000}, Velocity: Vector3{Y: -settings.MaxFallSpeed}}
	input := Input{}

	next := Execute(airborne, input, settings, 10.0) // huge dt to force the clamp
	if next.Velocity.Y != -settings.MaxFallSpeed {
		t.Errorf("velocity.Y = %f, want clamped at %f", next.Velocity.Y, -settings.MaxFallSpeed)
	}
}

func TestSnapsToGroundAndZeroesVerticalVelocity(t *testing.T) {
	settings := DefaultSettings()
	falling := State{Position: Vector3{Y: 0.05}, Velocity: Vector3{Y: -1}}
	input := Input{}

	next := Execute(falling, input, settings, 1.0)
	if next.Position.Y != settings.GroundLevel {
		t.Errorf("position.Y = %f, want ground level %f", next.Position.Y, settings.GroundLevel)
	}
	if next.Velocity.Y != 0 {
		t.Errorf("velocity.Y = %f, want 0 after ground snap", next.Velocity.Y)
	}
	if next.StateFlags&StateGrounded == 0 {
		t.Error("expected StateGrounded to be set after snapping to ground")
	}
}

func TestLastProcessedInputAndTickCarryFromInput(t *testing.T) {
	settings := DefaultSettings()
	state := groundedState()
	input := Input{Tick: 42, SequenceNumber: 99}

	next := Execute(state, input, settings, 1.0/30)
	if next.Tick != 42 {
		t.Errorf("Tick = %d, want 42", next.Tick)
	}
	if next.LastProcessedInput != 99 {
		t.Errorf("LastProcessedInput = %d, want 99", next.LastProcessedInput)
	}
}
