// Package metrics provides operational metrics for faketun's gateway,
// SOCKS5 listener, and tunnel endpoints.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects counters, gauges, and histograms across every faketun
// component sharing a process.
type Metrics struct {
	// Address pool metrics
	PoolAllocations *Counter
	PoolHits        *Counter
	PoolMisses      *Counter
	PoolGCReclaimed *Counter
	PoolActive      *Gauge

	// Fake-DNS metrics
	DNSQueries   *Counter
	DNSAnswered  *Counter
	DNSNXDomain  *Counter
	DNSRejected  *Counter

	// SOCKS5 metrics
	Socks5Connections     *Counter
	Socks5HTTPConnections *Counter
	Socks5Errors          *Counter

	// TPROXY bridge metrics
	TProxyAccepted       *Counter
	TProxyDialFailures   *Counter
	TProxyActiveSessions *Gauge

	// Tunnel metrics
	TunnelHandshakes        *Counter
	TunnelHandshakeFailures *Counter
	TunnelBytesRelayed      *Counter
	TunnelActiveSessions    *Gauge
	TunnelHandshakeTime     *Histogram

	// System metrics
	startTime   time.Time
	startTimeMu sync.RWMutex
}

// New creates a zeroed metrics collection.
func New() *Metrics {
	return &Metrics{
		PoolAllocations: NewCounter(),
		PoolHits:        NewCounter(),
		PoolMisses:      NewCounter(),
		PoolGCReclaimed: NewCounter(),
		PoolActive:      NewGauge(),

		DNSQueries:  NewCounter(),
		DNSAnswered: NewCounter(),
		DNSNXDomain: NewCounter(),
		DNSRejected: NewCounter(),

		Socks5Connections:     NewCounter(),
		Socks5HTTPConnections: NewCounter(),
		Socks5Errors:          NewCounter(),

		TProxyAccepted:       NewCounter(),
		TProxyDialFailures:   NewCounter(),
		TProxyActiveSessions: NewGauge(),

		TunnelHandshakes:        NewCounter(),
		TunnelHandshakeFailures: NewCounter(),
		TunnelBytesRelayed:      NewCounter(),
		TunnelActiveSessions:    NewGauge(),
		TunnelHandshakeTime:     NewHistogram(),

		startTime: time.Now(),
	}
}

// RecordDNSQuery records a fake-DNS query outcome: answered, nxdomain
// (unknown name with no pool entry), or rejected (malformed/unsupported).
func (m *Metrics) RecordDNSQuery(outcome string) {
	m.DNSQueries.Inc()
	switch outcome {
	case "answered":
		m.DNSAnswered.Inc()
	case "nxdomain":
		m.DNSNXDomain.Inc()
	default:
		m.DNSRejected.Inc()
	}
}

// RecordTunnelHandshake records a tunnel handshake attempt and its duration.
func (m *Metrics) RecordTunnelHandshake(success bool, duration time.Duration) {
	m.TunnelHandshakes.Inc()
	if !success {
		m.TunnelHandshakeFailures.Inc()
	}
	m.TunnelHandshakeTime.Observe(duration)
}

// Uptime returns how long this process has been collecting metrics.
func (m *Metrics) Uptime() time.Duration {
	m.startTimeMu.RLock()
	defer m.startTimeMu.RUnlock()
	return time.Since(m.startTime)
}

// Snapshot returns a point-in-time copy of every metric.
func (m *Metrics) Snapshot() *Snapshot {
	return &Snapshot{
		PoolAllocations: m.PoolAllocations.Value(),
		PoolHits:        m.PoolHits.Value(),
		PoolMisses:      m.PoolMisses.Value(),
		PoolGCReclaimed: m.PoolGCReclaimed.Value(),
		PoolActive:      m.PoolActive.Value(),

		DNSQueries:  m.DNSQueries.Value(),
		DNSAnswered: m.DNSAnswered.Value(),
		DNSNXDomain: m.DNSNXDomain.Value(),
		DNSRejected: m.DNSRejected.Value(),

		Socks5Connections:     m.Socks5Connections.Value(),
		Socks5HTTPConnections: m.Socks5HTTPConnections.Value(),
		Socks5Errors:          m.Socks5Errors.Value(),

		TProxyAccepted:       m.TProxyAccepted.Value(),
		TProxyDialFailures:   m.TProxyDialFailures.Value(),
		TProxyActiveSessions: m.TProxyActiveSessions.Value(),

		TunnelHandshakes:           m.TunnelHandshakes.Value(),
		TunnelHandshakeFailures:    m.TunnelHandshakeFailures.Value(),
		TunnelBytesRelayed:         m.TunnelBytesRelayed.Value(),
		TunnelActiveSessions:       m.TunnelActiveSessions.Value(),
		TunnelHandshakeTimeAvg:     m.TunnelHandshakeTime.Mean(),
		TunnelHandshakeTimeP95:     m.TunnelHandshakeTime.Percentile(0.95),

		UptimeSeconds: int64(m.Uptime().Seconds()),
	}
}

// Snapshot is a point-in-time copy of every metric, safe to serialize.
type Snapshot struct {
	PoolAllocations int64
	PoolHits        int64
	PoolMisses      int64
	PoolGCReclaimed int64
	PoolActive      int64

	DNSQueries  int64
	DNSAnswered int64
	DNSNXDomain int64
	DNSRejected int64

	Socks5Connections     int64
	Socks5HTTPConnections int64
	Socks5Errors          int64

	TProxyAccepted       int64
	TProxyDialFailures   int64
	TProxyActiveSessions int64

	TunnelHandshakes        int64
	TunnelHandshakeFailures int64
	TunnelBytesRelayed      int64
	TunnelActiveSessions    int64
	TunnelHandshakeTimeAvg  time.Duration
	TunnelHandshakeTimeP95  time.Duration

	UptimeSeconds int64
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value int64
}

// NewCounter creates a new counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds n to the counter.
func (c *Counter) Add(n int64) {
	atomic.AddInt64(&c.value, n)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Gauge is a value that can go up or down.
type Gauge struct {
	value int64
}

// NewGauge creates a new gauge.
func NewGauge() *Gauge {
	return &Gauge{}
}

// Set sets the gauge to a specific value.
func (g *Gauge) Set(value int64) {
	atomic.StoreInt64(&g.value, value)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds n to the gauge.
func (g *Gauge) Add(n int64) {
	atomic.AddInt64(&g.value, n)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Histogram tracks the distribution of durations over a bounded window.
type Histogram struct {
	observations []time.Duration
	mu           sync.RWMutex
}

// NewHistogram creates a new histogram.
func NewHistogram() *Histogram {
	return &Histogram{
		observations: make([]time.Duration, 0, 1000),
	}
}

// Observe adds a new observation to the histogram.
func (h *Histogram) Observe(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.observations) >= 1000 {
		h.observations = h.observations[1:]
	}
	h.observations = append(h.observations, d)
}

// Mean returns the mean of all observations.
func (h *Histogram) Mean() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.observations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range h.observations {
		sum += d
	}
	return sum / time.Duration(len(h.observations))
}

// Percentile returns the nth percentile (0.0 to 1.0) of all observations.
func (h *Histogram) Percentile(p float64) time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.observations) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(h.observations))
	copy(sorted, h.observations)

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// Count returns the number of observations.
func (h *Histogram) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observations)
}
