package monitor

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"trading-bridge/internal/events"
)

// Collector keeps the runtime counters the dashboard reports: engine
// throughput from the bus, API request latency, and process vitals.
type Collector struct {
	bus *events.Bus

	ticksProcessed  uint64
	predictionsMade uint64
	tradesExecuted  uint64
	tradesCompleted uint64
	tradesFailed    uint64
	reconFailures   uint64

	// RequestLatency is fed by the API request middleware.
	RequestLatency *LatencyHistogram

	startedAt time.Time
}

// NewCollector wires a collector to the bus. Start must be called for the
// counters to move.
func NewCollector(bus *events.Bus) *Collector {
	return &Collector{
		bus:            bus,
		RequestLatency: NewLatencyHistogram(1000),
		startedAt:      time.Now(),
	}
}

// Start subscribes the counters to their bus topics until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	counters := map[events.Event]*uint64{
		events.EventTick:                 &c.ticksProcessed,
		events.EventPrediction:           &c.predictionsMade,
		events.EventTradeExecuted:        &c.tradesExecuted,
		events.EventTradeCompleted:       &c.tradesCompleted,
		events.EventTradeFailed:          &c.tradesFailed,
		events.EventReconciliationFailed: &c.reconFailures,
	}

	for topic, counter := range counters {
		ch, unsub := c.bus.Subscribe(topic, 64)
		go func(ch <-chan any, unsub func(), counter *uint64) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					atomic.AddUint64(counter, 1)
				}
			}
		}(ch, unsub, counter)
	}
}

// MetricsSnapshot is a point-in-time view for the dashboard.
type MetricsSnapshot struct {
	TicksProcessed  uint64       `json:"ticks_processed"`
	PredictionsMade uint64       `json:"predictions_made"`
	TradesExecuted  uint64       `json:"trades_executed"`
	TradesCompleted uint64       `json:"trades_completed"`
	TradesFailed    uint64       `json:"trades_failed"`
	ReconFailures   uint64       `json:"reconciliation_failures"`
	RequestLatency  LatencyStats `json:"request_latency"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAllocBytes  uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds   float64      `json:"uptime_seconds"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Snapshot reads the current counters.
func (c *Collector) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		TicksProcessed:  atomic.LoadUint64(&c.ticksProcessed),
		PredictionsMade: atomic.LoadUint64(&c.predictionsMade),
		TradesExecuted:  atomic.LoadUint64(&c.tradesExecuted),
		TradesCompleted: atomic.LoadUint64(&c.tradesCompleted),
		TradesFailed:    atomic.LoadUint64(&c.tradesFailed),
		ReconFailures:   atomic.LoadUint64(&c.reconFailures),
		RequestLatency:  c.RequestLatency.Stats(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAllocBytes:  memStats.HeapAlloc,
		UptimeSeconds:   time.Since(c.startedAt).Seconds(),
		Timestamp:       time.Now(),
	}
}

// LatencyHistogram tracks latency samples over a sliding window. Stats are
// computed lazily and cached until the next Record.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding-window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts a duration to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg, p50, p95, p99 over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}
