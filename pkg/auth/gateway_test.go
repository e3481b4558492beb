package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	gw, err := NewGateway(NewMemoryAccountStore(), NewMemoryLoginAttemptStore(), secret, zerolog.Nop())
	require.NoError(t, err)
	return gw
}

func TestRegisterSuccessThenDuplicateUsername(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	first := gw.Register(ctx, "player_one", "p1@example.com", "hunter22", "hunter22")
	require.Equal(t, RegisterSuccess, first.Outcome)
	assert.NotZero(t, first.AccountID)

	dup := gw.Register(ctx, "player_one", "other@example.com", "hunter22", "hunter22")
	assert.Equal(t, RegisterFailure, dup.Outcome)
	assert.Equal(t, "Username already taken", dup.Reason)
}

func TestRegisterDuplicateEmailReportsEmailAlreadyRegistered(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	require.Equal(t, RegisterSuccess, gw.Register(ctx, "alice", "shared@example.com", "password1", "password1").Outcome)

	dup := gw.Register(ctx, "bob", "shared@example.com", "password1", "password1")
	assert.Equal(t, RegisterFailure, dup.Outcome)
	assert.Equal(t, "Email already registered", dup.Reason)
}

func TestRegisterRejectsWeakInputWithoutTouchingStore(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	cases := []struct {
		name, username, email, password, confirm string
	}{
		{"short username", "ab", "a@example.com", "password1", "password1"},
		{"bad chars", "bad name!", "a@example.com", "password1", "password1"},
		{"bad email", "gooduser", "not-an-email", "password1", "password1"},
		{"short password", "gooduser", "a@example.com", "short", "short"},
		{"mismatched confirm", "gooduser", "a@example.com", "password1", "password2"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result := gw.Register(ctx, c.username, c.email, c.password, c.confirm)
			assert.Equal(t, RegisterFailure, result.Outcome)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestLoginSuccessIssuesValidatableToken(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	reg := gw.Register(ctx, "carol", "carol@example.com", "swordfish1", "swordfish1")
	require.Equal(t, RegisterSuccess, reg.Outcome)

	login := gw.Login(ctx, "carol", "swordfish1", "198.51.100.1")
	require.Equal(t, LoginSuccess, login.Outcome)
	require.NotEmpty(t, login.Token)

	validated := gw.ValidateTokenFull(login.Token)
	assert.True(t, validated.Valid)
	assert.Equal(t, reg.AccountID, validated.UserID)
	assert.Equal(t, "carol", validated.Username)
}

func TestLoginFailureMessagesAreIdenticalForMissingAccountAndWrongPassword(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	require.Equal(t, RegisterSuccess, gw.Register(ctx, "dave", "dave@example.com", "correcthorse", "correcthorse").Outcome)

	missing := gw.Login(ctx, "nobody", "whatever1", "203.0.113.5")
	wrongPass := gw.Login(ctx, "dave", "wrongpassword", "203.0.113.6")

	require.Equal(t, LoginFailure, missing.Outcome)
	require.Equal(t, LoginFailure, wrongPass.Outcome)
	assert.Equal(t, missing.Reason, wrongPass.Reason)
	assert.Equal(t, "Invalid username or password", missing.Reason)
}

func TestRateLimitTripsOnSixthBadLoginFromSameSource(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	require.Equal(t, RegisterSuccess, gw.Register(ctx, "erin", "erin@example.com", "correctpass1", "correctpass1").Outcome)

	const source = "192.0.2.50"
	for i := 0; i < 5; i++ {
		result := gw.Login(ctx, "erin", "wrongpassword", source)
		require.Equal(t, LoginFailure, result.Outcome, "attempt %d", i+1)
		require.Equal(t, "Invalid username or password", result.Reason)
	}

	sixth := gw.Login(ctx, "erin", "correctpass1", source)
	require.Equal(t, LoginRateLimited, sixth.Outcome)
	assert.Greater(t, sixth.RetryAfterSeconds, 0)
}

func TestRateLimitIsPerSourceAddress(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	require.Equal(t, RegisterSuccess, gw.Register(ctx, "frank", "frank@example.com", "correctpass1", "correctpass1").Outcome)

	for i := 0; i < 5; i++ {
		gw.Login(ctx, "frank", "wrongpassword", "192.0.2.1")
	}
	// A different source address is unaffected by frank's failures from 192.0.2.1.
	other := gw.Login(ctx, "frank", "correctpass1", "192.0.2.2")
	assert.Equal(t, LoginSuccess, other.Outcome)
}

func TestValidateTokenRejectsTamperedSignature(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	reg := gw.Register(ctx, "grace", "grace@example.com", "password123", "password123")
	require.Equal(t, RegisterSuccess, reg.Outcome)
	login := gw.Login(ctx, "grace", "password123", "192.0.2.9")
	require.Equal(t, LoginSuccess, login.Outcome)

	tampered := login.Token[:len(login.Token)-1] + "x"
	result := gw.ValidateTokenFull(tampered)
	assert.False(t, result.Valid)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	secret := make([]byte, 32)
	signed, _, err := issueToken(secret, 7, "henry", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	result, err := validateToken(secret, signed)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateTokenRejectsGarbageInput(t *testing.T) {
	gw := newTestGateway(t)
	result := gw.ValidateTokenFull("not-a-jwt-at-all")
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Reason)
}
