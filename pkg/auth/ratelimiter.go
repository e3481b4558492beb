package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RateLimitWindow and RateLimitThreshold are the sliding-window defaults
// from spec §9's configuration table.
const (
	RateLimitWindow    = 60 * time.Minute
	RateLimitThreshold = 5
	attemptRetention   = 7 * 24 * time.Hour
)

// rateLimiter enforces the sliding-window failed-login cap described in
// spec §4.4: counts failures from a source address in the trailing
// window, and is fail-open — a broken attempt store permits the request
// rather than locking everyone out. Grounded on la2go's
// AccountRepository-as-interface dependency-injection idiom, applied here
// to LoginAttemptStore instead.
type rateLimiter struct {
	attempts LoginAttemptStore
	log      zerolog.Logger
}

func newRateLimiter(store LoginAttemptStore, log zerolog.Logger) *rateLimiter {
	return &rateLimiter{attempts: store, log: log}
}

// check reports whether sourceAddress is currently rate-limited and, if
// so, how many seconds until the oldest in-window failure expires.
func (r *rateLimiter) check(ctx context.Context, sourceAddress string, now time.Time) (limited bool, retryAfterSeconds int) {
	since := now.Add(-RateLimitWindow)
	count, oldest, err := r.attempts.CountFailures(ctx, sourceAddress, since)
	if err != nil {
		r.log.Error().Err(err).Str("source_address", sourceAddress).Msg("rate limiter store unreachable, fail-open")
		return false, 0
	}
	if count < RateLimitThreshold {
		return false, 0
	}
	retryAfter := oldest.Add(RateLimitWindow).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return true, int(retryAfter.Seconds())
}

func (r *rateLimiter) recordFailure(ctx context.Context, sourceAddress, username string, now time.Time) {
	if err := r.attempts.Record(ctx, LoginAttempt{SourceAddress: sourceAddress, Username: username, Success: false, At: now}); err != nil {
		r.log.Error().Err(err).Msg("failed to record login failure")
	}
}

func (r *rateLimiter) recordSuccess(ctx context.Context, sourceAddress, username string, now time.Time) {
	if err := r.attempts.Record(ctx, LoginAttempt{SourceAddress: sourceAddress, Username: username, Success: true, At: now}); err != nil {
		r.log.Error().Err(err).Msg("failed to record login success")
	}
}

// PurgeOldAttempts removes attempt records older than attemptRetention
// (7 days). The authgateway binary calls it hourly from startAttemptPurge.
func (r *rateLimiter) PurgeOldAttempts(ctx context.Context, now time.Time) error {
	return r.attempts.Purge(ctx, now.Add(-attemptRetention))
}
