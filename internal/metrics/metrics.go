// Package metrics exposes XL4Net's Prometheus instrumentation, grounded
// on adred-codev-ws_poc/ws/metrics.go's package-level metric vars plus
// init-time MustRegister, adapted from WebSocket-hub counters to the
// transport/auth/prediction concerns this module owns.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection lifecycle (pkg/transport).
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xl4net_connections_total",
		Help: "Total number of connections accepted after a successful handshake.",
	})
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xl4net_connections_active",
		Help: "Current number of connected peers.",
	})
	HandshakesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xl4net_handshakes_rejected_total",
		Help: "Handshake attempts rejected, by reason.",
	}, []string{"reason"})
	Disconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xl4net_disconnects_total",
		Help: "Disconnections by reason.",
	}, []string{"reason"})

	// Channel throughput (pkg/transport).
	PacketsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xl4net_packets_sent_total",
		Help: "Packets sent, by channel.",
	}, []string{"channel"})
	PacketsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xl4net_packets_received_total",
		Help: "Packets received, by channel.",
	}, []string{"channel"})
	Retransmits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xl4net_retransmits_total",
		Help: "Reliable-channel retransmissions sent.",
	})
	RTT = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xl4net_rtt_seconds",
		Help:    "Measured round-trip time per heartbeat.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6},
	})

	// Pool accounting (pkg/pool).
	PoolAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xl4net_pool_available",
		Help: "Buffers currently available in the pool, by bucket size.",
	}, []string{"bucket"})
	PoolCreated = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xl4net_pool_created",
		Help: "Cumulative buffers allocated past pre-warmed capacity, by bucket size (sampled gauge, not a Prometheus counter, since it mirrors the pool's own lifetime total rather than counting scrape-local events).",
	}, []string{"bucket"})

	// Auth gateway (pkg/auth).
	AuthRegistrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xl4net_auth_registrations_total",
		Help: "Registration attempts, by outcome.",
	}, []string{"outcome"})
	AuthLogins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xl4net_auth_logins_total",
		Help: "Login attempts, by outcome.",
	}, []string{"outcome"})
	AuthRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xl4net_auth_rate_limited_total",
		Help: "Login attempts rejected by the sliding-window rate limiter.",
	})

	// Prediction/reconciliation (pkg/prediction).
	Mispredictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xl4net_mispredictions_total",
		Help: "Client-side mispredictions detected during reconciliation.",
	})
	MispredictionDelta = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xl4net_misprediction_position_delta_ema",
		Help: "Exponential moving average of misprediction position-delta magnitude.",
	})
	ReplayedInputs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xl4net_reconciliation_replayed_inputs",
		Help:    "Number of inputs replayed per reconciliation pass.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})
	TickDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xl4net_tick_drift",
		Help: "Most recently measured client/server tick drift.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal, ConnectionsActive, HandshakesRejected, Disconnects,
		PacketsSent, PacketsReceived, Retransmits, RTT,
		PoolAvailable, PoolCreated,
		AuthRegistrations, AuthLogins, AuthRateLimited,
		Mispredictions, MispredictionDelta, ReplayedInputs, TickDrift,
	)
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until
// ctx is canceled, then shuts it down gracefully.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
