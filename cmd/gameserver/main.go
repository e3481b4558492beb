// Command gameserver runs the XL4Net authoritative game server: a single
// UDP socket accepting handshakes validated against tokens minted by the
// auth gateway, and the reliability/heartbeat machinery in pkg/transport.
// Grounded on core/main.go's signal-driven graceful shutdown and
// udisondev-la2go/cmd/loginserver/main.go's config -> build -> serve shape.
package main

import (
	"context"
	"fmt"
	"net"
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
	"github.com/xl4net/xl4net/pkg/transport"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.New(logging.Config{Level: "info", Format: "json", Name: "xl4net-gameserver"})
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
	cfg, err := config.LoadGameServer(&log)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info().Str("listen_addr", cfg.ListenAddr).Float64("tick_rate", cfg.TickRate).Msg("game server starting")

	socket, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("binding udp socket: %w", err)
	}
	defer socket.Close()

	verifier, err := auth.NewTokenVerifier([]byte(cfg.TokenSigningKey))
	if err != nil {
		return fmt.Errorf("building token verifier: %w", err)
	}

	serverCfg := transport.ServerConfig{
		MaxConnections:    cfg.MaxConnections,
		InboundQueueSize:  cfg.InboundQueueSize,
		ProcessBatchSize:  cfg.ProcessBatchSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	}
	server := transport.NewServer(socket, verifier, serverCfg, log)
	registerConnectionLogging(server, log)

	collector := metrics.NewPoolCollector(server.Pool(), 5*time.Second)
	collector.Start()
	defer collector.Stop()

	metricsErrCh := make(chan error, 1)
	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsListenAddr); err != nil {
			metricsErrCh <- err
		}
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := server.Run(ctx); err != nil && ctx.Err() == nil {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		server.Shutdown()
		return nil
	case err := <-serveErrCh:
		return fmt.Errorf("transport server: %w", err)
	case err := <-metricsErrCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// registerConnectionLogging wires the transport's event stream into the
// server's own logger, mirroring core/events/events.go's pattern of
// decoupling the session lifecycle from whoever reacts to it.
func registerConnectionLogging(server *transport.Server, log zerolog.Logger) {
	server.Events().On(transport.EventClientConnected, func(ev transport.Event) {
		log.Info().Uint32("connection_id", ev.ConnectionID).Msg("client connected")
	})
	server.Events().On(transport.EventClientDisconnected, func(ev transport.Event) {
		log.Info().Uint32("connection_id", ev.ConnectionID).Str("reason", ev.Message).Msg("client disconnected")
	})
	server.Events().On(transport.EventError, func(ev transport.Event) {
		log.Error().Uint32("connection_id", ev.ConnectionID).Str("reason", ev.Message).Msg("transport error")
	})
}
