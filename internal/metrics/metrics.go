package metrics

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector tracks request counts, latency and firewall outcomes.
type MetricsCollector struct {
	totalRequests uint64
	totalErrors   uint64
	statusCounts  map[int]uint64
	blocked       map[string]uint64
	faults        map[string]uint64
	allowed       uint64

	// sliding window of the last maxSamples latencies
	latencies  []time.Duration
	maxSamples int
	mu         sync.RWMutex
}

func NewCollector(maxSamples int) *MetricsCollector {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &MetricsCollector{
		statusCounts: make(map[int]uint64),
		blocked:      make(map[string]uint64),
		faults:       make(map[string]uint64),
		latencies:    make([]time.Duration, 0, maxSamples),
		maxSamples:   maxSamples,
	}
}

func (c *MetricsCollector) Record(duration time.Duration, statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if statusCode >= 400 {
		c.totalErrors++
	}
	c.statusCounts[statusCode]++

	if len(c.latencies) >= c.maxSamples {
		c.latencies = c.latencies[1:]
	}
	c.latencies = append(c.latencies, duration)
}

// RecordDecision counts a terminal firewall outcome. layer is empty for allows.
func (c *MetricsCollector) RecordDecision(allowed bool, layer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if allowed {
		c.allowed++
		return
	}
	c.blocked[layer]++
}

// RecordFault counts a layer that errored or panicked.
func (c *MetricsCollector) RecordFault(layer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[layer]++
}

type Stats struct {
	TotalRequests  uint64            `json:"total_requests"`
	TotalErrors    uint64            `json:"total_errors"`
	ErrorRate      float64           `json:"error_rate"`
	P50Latency     string            `json:"p50_latency"`
	P95Latency     string            `json:"p95_latency"`
	P99Latency     string            `json:"p99_latency"`
	StatusCounts   map[int]uint64    `json:"status_counts"`
	FirewallAllows uint64            `json:"firewall_allows"`
	BlockedByLayer map[string]uint64 `json:"blocked_by_layer"`
	FaultsByLayer  map[string]uint64 `json:"faults_by_layer"`
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func copyCounts[K comparable](m map[K]uint64) map[K]uint64 {
	out := make(map[K]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *MetricsCollector) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sorted := make([]time.Duration, len(c.latencies))
	copy(sorted, c.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	errorRate := 0.0
	if c.totalRequests > 0 {
		errorRate = float64(c.totalErrors) / float64(c.totalRequests)
	}

	return Stats{
		TotalRequests:  c.totalRequests,
		TotalErrors:    c.totalErrors,
		ErrorRate:      errorRate,
		P50Latency:     quantile(sorted, 0.50).String(),
		P95Latency:     quantile(sorted, 0.95).String(),
		P99Latency:     quantile(sorted, 0.99).String(),
		StatusCounts:   copyCounts(c.statusCounts),
		FirewallAllows: c.allowed,
		BlockedByLayer: copyCounts(c.blocked),
		FaultsByLayer:  copyCounts(c.faults),
	}
}
