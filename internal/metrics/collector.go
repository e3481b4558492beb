package metrics

import (
	"strconv"
	"time"

	"github.com/xl4net/xl4net/pkg/pool"
)

// PoolCollector periodically samples a BufferPool's bucket counters into
// the PoolAvailable/PoolCreated gauges, grounded on
// adred-codev-ws_poc/ws/metrics.go's MetricsCollector: an external ticker
// samples live state rather than the pool importing Prometheus itself,
// keeping pkg/pool free of ambient-stack dependencies.
type PoolCollector struct {
	bufs     *pool.BufferPool
	interval time.Duration
	stop     chan struct{}
}

// NewPoolCollector creates a collector that samples bufs every interval.
func NewPoolCollector(bufs *pool.BufferPool, interval time.Duration) *PoolCollector {
	return &PoolCollector{bufs: bufs, interval: interval, stop: make(chan struct{})}
}

// Start begins periodic sampling in a background goroutine.
func (c *PoolCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sample()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts periodic sampling.
func (c *PoolCollector) Stop() {
	close(c.stop)
}

func (c *PoolCollector) sample() {
	for _, size := range pool.BucketSizes() {
		stats := c.bufs.Stats(size)
		label := strconv.Itoa(size)
		PoolAvailable.WithLabelValues(label).Set(float64(stats.Available))
		PoolCreated.WithLabelValues(label).Set(float64(stats.TotalCreated))
	}
}
