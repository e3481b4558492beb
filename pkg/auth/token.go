package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token configuration, per spec §4.4's "Token format" and
// §9's configuration table.
const (
	TokenIssuer        = "xl4net-auth"
	TokenAudience      = "xl4net-game"
	TokenLifetime      = 60 * time.Minute
	ClockSkewTolerance = 5 * time.Minute
)

// The exact reason strings ValidateToken must return, per spec §4.4.
var (
	ErrTokenExpired      = errors.New("Token expired")
	ErrInvalidSignature  = errors.New("Invalid token signature")
	ErrInvalidFormat     = errors.New("Invalid token format")
	ErrMissingClaims     = errors.New("Token missing required claims")
)

// tokenClaims adds the username claim spec §4.4 names on top of the
// registered claims (sub, iat, exp, jti, iss, aud). Grounded on the
// golang-jwt/jwt/v5 custom-claims pattern used in
// adred-codev-ws_poc's auth middleware.
type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// issueToken mints a signed bearer token for accountID/username, valid
// from now for TokenLifetime.
func issueToken(secret []byte, accountID uint64, username string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(TokenLifetime)
	claims := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(accountID, 10),
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidatedToken is what a successfully validated token yields.
type ValidatedToken struct {
	UserID    uint64
	Username  string
	ExpiresAt time.Time
}

// validateToken parses and verifies tokenStr, returning one of the four
// named failure reasons on any defect.
func validateToken(secret []byte, tokenStr string) (*ValidatedToken, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return secret, nil
	}, jwt.WithIssuer(TokenIssuer), jwt.WithAudience(TokenAudience), jwt.WithLeeway(ClockSkewTolerance))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidFormat
		}
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidFormat
	}
	if claims.Subject == "" || claims.Username == "" || claims.ExpiresAt == nil {
		return nil, ErrMissingClaims
	}
	accountID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrMissingClaims
	}

	return &ValidatedToken{
		UserID:    accountID,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// TokenVerifier validates bearer tokens using only the shared signing
// secret. It implements transport.TokenValidator for the game server
// binary, which authenticates handshakes against tokens the auth gateway
// issued but has no reason to hold the account/login-attempt stores the
// full Gateway needs.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier builds a TokenVerifier from the same signing secret
// the auth gateway uses.
func NewTokenVerifier(secret []byte) (*TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 256 bits")
	}
	return &TokenVerifier{secret: secret}, nil
}

// ValidateToken implements transport.TokenValidator.
func (v *TokenVerifier) ValidateToken(token string) (subject string, ok bool) {
	validated, err := validateToken(v.secret, token)
	if err != nil {
		return "", false
	}
	return validated.Username, true
}
