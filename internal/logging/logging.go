// Package logging builds the structured zerolog logger shared by both
// XL4Net binaries, grounded on
// adred-codev-ws_poc/ws/internal/shared/monitoring/logger.go's
// NewLogger/RecoverPanic pattern: JSON output by default (Loki/ELK
// friendly), an optional console-pretty mode for local development, and a
// goroutine panic recoverer that logs instead of crashing the process.
package logging

import (
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
	Name   string // service name attached to every line
}

// New builds a zerolog.Logger per cfg.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output = os.Stdout
	logger := zerolog.New(output).With().Timestamp()
	if cfg.Format == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp()
	}
	if cfg.Name != "" {
		logger = logger.Str("service", cfg.Name)
	}
	return logger.Logger()
}

// RecoverPanic is deferred at the top of a long-lived goroutine (the auth
// gateway's attempt-purge loop uses it); it logs a recovered panic with a stack trace instead of letting it take
// down the process.
func RecoverPanic(logger zerolog.Logger, goroutineName string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Msg("goroutine panic recovered")
	}
}
