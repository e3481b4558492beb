package auth

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/xl4net/xl4net/internal/metrics"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// RegisterOutcome tags a Register result, the Go idiom for the source's
// exception-based control flow per spec §7's "explicit result variants"
// redesign flag.
type RegisterOutcome int

const (
	RegisterSuccess RegisterOutcome = iota
	RegisterFailure
)

// RegisterResult is Register's tagged response.
type RegisterResult struct {
	Outcome   RegisterOutcome
	AccountID uint64
	Username  string
	Reason    string
}

// LoginOutcome tags a Login result.
type LoginOutcome int

const (
	LoginSuccess LoginOutcome = iota
	LoginFailure
	LoginRateLimited
)

// LoginResult is Login's tagged response.
type LoginResult struct {
	Outcome           LoginOutcome
	Token             string
	ExpiresAt         time.Time
	UserID            uint64
	Username          string
	Reason            string
	RetryAfterSeconds int
}

// ValidateResult is ValidateToken's tagged response.
type ValidateResult struct {
	Valid     bool
	UserID    uint64
	Username  string
	ExpiresAt time.Time
	Reason    string
}

// Gateway implements the three Auth Gateway operations of spec §4.4:
// Register, Login, ValidateToken. Grounded on
// la2go/internal/login/handler.go's opcode-dispatch handler wrapping an
// AccountRepository, generalized from L2's raw-socket opcode protocol to
// three named Go methods returning tagged results.
type Gateway struct {
	accounts AccountStore
	limiter  *rateLimiter
	secret   []byte
	log      zerolog.Logger
}

// NewGateway builds a Gateway. secret is the shared HMAC signing key; it
// must be at least 32 bytes (256 bits) per spec §4.4's Token format.
func NewGateway(accounts AccountStore, attempts LoginAttemptStore, secret []byte, log zerolog.Logger) (*Gateway, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 256 bits")
	}
	return &Gateway{
		accounts: accounts,
		limiter:  newRateLimiter(attempts, log),
		secret:   secret,
		log:      log,
	}, nil
}

// Register validates and inserts a new account.
func (g *Gateway) Register(ctx context.Context, username, email, password, confirm string) RegisterResult {
	if reason, ok := validateRegistration(username, email, password, confirm); !ok {
		metrics.AuthRegistrations.WithLabelValues("invalid_input").Inc()
		return RegisterResult{Outcome: RegisterFailure, Reason: reason}
	}

	if _, err := g.accounts.GetByUsername(ctx, username); err == nil {
		metrics.AuthRegistrations.WithLabelValues("duplicate_username").Inc()
		return RegisterResult{Outcome: RegisterFailure, Reason: "Username already taken"}
	} else if !errors.Is(err, ErrAccountNotFound) {
		metrics.AuthRegistrations.WithLabelValues("error").Inc()
		return RegisterResult{Outcome: RegisterFailure, Reason: "Internal server error"}
	}

	if _, err := g.accounts.GetByEmail(ctx, email); err == nil {
		metrics.AuthRegistrations.WithLabelValues("duplicate_email").Inc()
		return RegisterResult{Outcome: RegisterFailure, Reason: "Email already registered"}
	} else if !errors.Is(err, ErrAccountNotFound) {
		metrics.AuthRegistrations.WithLabelValues("error").Inc()
		return RegisterResult{Outcome: RegisterFailure, Reason: "Internal server error"}
	}

	hash, err := HashPassword(password)
	if err != nil {
		g.log.Error().Err(err).Msg("password hashing failed")
		metrics.AuthRegistrations.WithLabelValues("error").Inc()
		return RegisterResult{Outcome: RegisterFailure, Reason: "Failed to process password"}
	}

	acc := &Account{Username: username, Email: email, PasswordHash: hash, CreatedAt: time.Now()}
	id, err := g.accounts.Insert(ctx, acc)
	if err != nil {
		g.log.Error().Err(err).Msg("account insert failed")
		metrics.AuthRegistrations.WithLabelValues("error").Inc()
		return RegisterResult{Outcome: RegisterFailure, Reason: "Internal server error"}
	}

	metrics.AuthRegistrations.WithLabelValues("success").Inc()
	return RegisterResult{Outcome: RegisterSuccess, AccountID: id, Username: username}
}

func validateRegistration(username, email, password, confirm string) (reason string, ok bool) {
	if len(username) < 3 || len(username) > 50 || !usernamePattern.MatchString(username) {
		return "Invalid username", false
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "Invalid email", false
	}
	if len(password) < 8 {
		return "Password too short", false
	}
	if password != confirm {
		return "Passwords do not match", false
	}
	return "", true
}

const invalidCredentialsMessage = "Invalid username or password"

// Login authenticates a user and, on success, mints a bearer token.
func (g *Gateway) Login(ctx context.Context, usernameOrEmail, password, sourceAddress string) LoginResult {
	now := time.Now()

	if limited, retryAfter := g.limiter.check(ctx, sourceAddress, now); limited {
		metrics.AuthRateLimited.Inc()
		metrics.AuthLogins.WithLabelValues("rate_limited").Inc()
		return LoginResult{Outcome: LoginRateLimited, RetryAfterSeconds: retryAfter, Reason: "Too many failed login attempts"}
	}

	var acc *Account
	var err error
	if isEmail(usernameOrEmail) {
		acc, err = g.accounts.GetByEmail(ctx, usernameOrEmail)
	} else {
		acc, err = g.accounts.GetByUsername(ctx, usernameOrEmail)
	}
	if err != nil {
		g.limiter.recordFailure(ctx, sourceAddress, usernameOrEmail, now)
		metrics.AuthLogins.WithLabelValues("invalid_credentials").Inc()
		return LoginResult{Outcome: LoginFailure, Reason: invalidCredentialsMessage}
	}

	if !VerifyPassword(acc.PasswordHash, password) {
		g.limiter.recordFailure(ctx, sourceAddress, usernameOrEmail, now)
		metrics.AuthLogins.WithLabelValues("invalid_credentials").Inc()
		return LoginResult{Outcome: LoginFailure, Reason: invalidCredentialsMessage}
	}

	token, expiresAt, err := issueToken(g.secret, acc.ID, acc.Username, now)
	if err != nil {
		g.log.Error().Err(err).Msg("token signing failed")
		metrics.AuthLogins.WithLabelValues("error").Inc()
		return LoginResult{Outcome: LoginFailure, Reason: "Internal server error"}
	}

	if err := g.accounts.UpdateLastLogin(ctx, acc.ID, now); err != nil {
		g.log.Warn().Err(err).Uint64("account_id", acc.ID).Msg("failed to update last-login timestamp")
	}
	g.limiter.recordSuccess(ctx, sourceAddress, usernameOrEmail, now)
	metrics.AuthLogins.WithLabelValues("success").Inc()

	return LoginResult{
		Outcome:   LoginSuccess,
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    acc.ID,
		Username:  acc.Username,
	}
}

// ValidateTokenFull parses and verifies token, returning the full tagged
// result spec §4.4 describes.
func (g *Gateway) ValidateTokenFull(token string) ValidateResult {
	validated, err := validateToken(g.secret, token)
	if err != nil {
		return ValidateResult{Valid: false, Reason: err.Error()}
	}
	return ValidateResult{
		Valid:     true,
		UserID:    validated.UserID,
		Username:  validated.Username,
		ExpiresAt: validated.ExpiresAt,
	}
}

// ValidateToken implements transport.TokenValidator: a boolean-collapsed
// view of ValidateTokenFull for the handshake's accept/reject decision.
func (g *Gateway) ValidateToken(token string) (subject string, ok bool) {
	result := g.ValidateTokenFull(token)
	if !result.Valid {
		return "", false
	}
	return result.Username, true
}

// PurgeOldAttempts delegates to the rate limiter's retention sweep.
func (g *Gateway) PurgeOldAttempts(ctx context.Context) error {
	return g.limiter.PurgeOldAttempts(ctx, time.Now())
}

func isEmail(identifier string) bool {
	for _, r := range identifier {
		if r == '@' {
			return true
		}
	}
	return false
}
