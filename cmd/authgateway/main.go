// Command authgateway runs the XL4Net auth gateway: a small HTTP service
// wrapping pkg/auth.Gateway's Register/Login/ValidateToken operations over
// a Postgres-backed account store. Grounded on
// udisondev-la2go/cmd/loginserver/main.go's config -> store -> migrate ->
// serve shape and core/main.go's signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/xl4net/xl4net/internal/config"
	"github.com/xl4net/xl4net/internal/logging"
	"github.com/xl4net/xl4net/internal/metrics"
	"github.com/xl4net/xl4net/pkg/auth"
	"github.com/xl4net/xl4net/pkg/auth/postgres"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.New(logging.Config{Level: "info", Format: "json", Name: "xl4net-authgateway"})
	if _, err := maxprocs.Set(maxprocs.Logger(func(f string, a ...any) { log.Debug().Msgf(f, a...) })); err != nil {
		log.Warn().Err(err).Msg("failed to set GOMAXPROCS from cgroup limits")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := run(ctx, log); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func run(ctx context.Context, log zerolog.Logger) error {
	cfg, err := config.LoadAuthGateway(&log)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info().Str("listen_addr", cfg.ListenAddr).Msg("auth gateway starting")

	if err := postgres.Migrate(ctx, cfg.DatabaseDSN); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info().Msg("database migrations applied")

	store, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer store.Close()

	gw, err := auth.NewGateway(store, store, []byte(cfg.TokenSigningKey), log)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	purgeCancel := startAttemptPurge(ctx, gw, log)
	defer purgeCancel()

	metricsErrCh := make(chan error, 1)
	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsListenAddr); err != nil {
			metricsErrCh <- err
		}
	}()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: auth.NewHTTPHandler(gw, log)}
	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serveErrCh:
		return fmt.Errorf("http server: %w", err)
	case err := <-metricsErrCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// startAttemptPurge sweeps expired login-attempt rows hourly, mirroring
// the sliding-window rate limiter's own retention policy.
func startAttemptPurge(ctx context.Context, gw *auth.Gateway, log zerolog.Logger) context.CancelFunc {
	purgeCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer logging.RecoverPanic(log, "attempt-purge")
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-purgeCtx.Done():
				return
			case <-ticker.C:
				if err := gw.PurgeOldAttempts(purgeCtx); err != nil {
					log.Warn().Err(err).Msg("failed to purge old login attempts")
				}
			}
		}
	}()
	return cancel
}
