package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbob_active_calls",
		Help: "Number of calls currently in progress",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbob_calls_total",
		Help: "Total number of calls started",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callbob_call_duration_seconds",
		Help:    "Duration of calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	streamConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbob_stream_connections",
		Help: "Number of open call stream connections",
	})

	// Turn metrics
	utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbob_utterances_total",
		Help: "Total number of user utterances",
	}, []string{"source"}) // source: "speech", "idea", "text"

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbob_barge_ins_total",
		Help: "Total number of assistant replies interrupted by the user",
	})

	staleReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbob_stale_replies_total",
		Help: "Total number of relay replies discarded because their call ended or a newer request superseded them",
	})

	// Relay metrics
	relayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbob_relay_requests_total",
		Help: "Total number of relay requests",
	}, []string{"status"})

	relayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callbob_relay_latency_seconds",
		Help:    "Upstream completion latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbob_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "callbob_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbob_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Relay request outcomes
const (
	RelayStatusSuccess  = "success"
	RelayStatusError    = "error"
	RelayStatusRejected = "rejected"
	RelayStatusOpen     = "circuit_open"
)

// CallMetrics tracks metrics for a single call
type CallMetrics struct {
	mu        sync.Mutex
	startTime time.Time
	active    bool
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics() *CallMetrics {
	return &CallMetrics{}
}

// RecordCallStart records the start of a call
func (m *CallMetrics) RecordCallStart() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return
	}
	m.active = true
	m.startTime = time.Now()
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call. Calling it without a matching start is a no-op.
func (m *CallMetrics) RecordCallEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}
	m.active = false
	activeCalls.Dec()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordUtterance counts a user turn by its source
func RecordUtterance(source string) {
	utterances.WithLabelValues(source).Inc()
}

// RecordBargeIn counts an interrupted assistant reply
func RecordBargeIn() {
	bargeIns.Inc()
}

// RecordStaleReply counts a discarded relay reply
func RecordStaleReply() {
	staleReplies.Inc()
}

// RecordRelayRequest records the outcome and upstream latency of a relay request.
// A zero latency skips the histogram (no upstream call was made).
func RecordRelayRequest(status string, latency time.Duration) {
	relayRequests.WithLabelValues(status).Inc()
	if latency > 0 {
		relayLatency.Observe(latency.Seconds())
	}
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// StreamOpened and StreamClosed track open call stream connections
func StreamOpened() { streamConnections.Inc() }

func StreamClosed() { streamConnections.Dec() }

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
