// Package metrics exposes Prometheus instruments for the lending service and
// subscribes them to the recorder hooks of the domain packages.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/himera-lend/internal/aave"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/flows"
	"github.com/Proton-105/himera-lend/internal/marketdata"
	"github.com/Proton-105/himera-lend/internal/ratelimit"
	"github.com/Proton-105/himera-lend/internal/txflow"
)

var (
	txTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tx_state_transitions_total",
			Help: "Transaction state transitions by action and state",
		},
		[]string{"action", "state"},
	)
	actionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lending_actions_total",
			Help: "Lending actions by action, result and error code",
		},
		[]string{"action", "result", "code"},
	)
	actionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lending_action_duration_seconds",
			Help:    "Duration of lending actions from validation to receipt",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"action"},
	)
	flowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_step_transitions_total",
			Help: "Flow step changes by flow kind and target step",
		},
		[]string{"kind", "step"},
	)
	activeSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flow_sessions_active",
			Help: "Current number of flow sessions per kind",
		},
		[]string{"kind"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
	marketDataRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketdata_requests_total",
			Help: "Data API queries by query name and result",
		},
		[]string{"query", "result"},
	)
	marketDataDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketdata_request_duration_seconds",
			Help:    "Data API query latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
	rateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Rate limit decisions by backend and result",
		},
		[]string{"backend", "result"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	httpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var trackedKinds = []flows.Kind{
	flows.KindSupply,
	flows.KindWithdraw,
	flows.KindBorrow,
	flows.KindRepay,
}

func init() {
	txflow.RegisterStateRecorder(RecordTxTransition)
	aave.RegisterOutcomeRecorder(RecordActionOutcome)
	flows.RegisterTransitionRecorder(RecordFlowTransition)
	apperrors.RegisterErrorRecorder(RecordError)
	marketdata.RegisterRequestRecorder(RecordMarketDataRequest)
	ratelimit.RegisterCheckRecorder(RecordRateLimitCheck)
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// RecordTxTransition counts one executor state change.
func RecordTxTransition(action, state string) {
	txTransitionsTotal.WithLabelValues(orUnknown(action), orUnknown(state)).Inc()
}

// RecordActionOutcome counts a finished action and observes its duration.
func RecordActionOutcome(action, result, code string, duration time.Duration) {
	if code == "" {
		code = "none"
	}
	actionOutcomesTotal.WithLabelValues(orUnknown(action), orUnknown(result), code).Inc()
	actionDurationSeconds.WithLabelValues(orUnknown(action)).Observe(duration.Seconds())
}

// RecordFlowTransition tracks wizard step changes.
func RecordFlowTransition(kind, step string) {
	flowTransitionsTotal.WithLabelValues(orUnknown(kind), orUnknown(step)).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	errorsTotal.WithLabelValues(orUnknown(code), orUnknown(severity)).Inc()
}

func RecordMarketDataRequest(query, result string, duration time.Duration) {
	marketDataRequestsTotal.WithLabelValues(orUnknown(query), orUnknown(result)).Inc()
	marketDataDurationSeconds.WithLabelValues(orUnknown(query)).Observe(duration.Seconds())
}

func RecordRateLimitCheck(backend, result string) {
	rateLimitChecksTotal.WithLabelValues(orUnknown(backend), orUnknown(result)).Inc()
}

// RecordHTTPRequest is called by the HTTP metrics middleware. route is the
// matched pattern, not the raw path.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	route = orUnknown(route)
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetActiveSessions updates the gauge for kind.
func SetActiveSessions(kind string, count int) {
	activeSessions.WithLabelValues(orUnknown(kind)).Set(float64(count))
}

// SessionCounter is satisfied by *flows.Registry.
type SessionCounter interface {
	CountByKind() map[flows.Kind]int
}

// SessionCollector periodically publishes session counts.
type SessionCollector struct {
	sessions SessionCounter
	interval time.Duration
}

// NewSessionCollector builds a collector polling sessions every interval.
func NewSessionCollector(sessions SessionCounter, interval time.Duration) *SessionCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &SessionCollector{sessions: sessions, interval: interval}
}

// Run collects until ctx is cancelled.
func (c *SessionCollector) Run(ctx context.Context) {
	if c == nil || c.sessions == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Collect()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect publishes one snapshot. Tracked kinds are always reported, zero
// included.
func (c *SessionCollector) Collect() {
	counts := c.sessions.CountByKind()

	activeSessions.Reset()
	for _, kind := range trackedKinds {
		SetActiveSessions(string(kind), counts[kind])
		delete(counts, kind)
	}
	for kind, count := range counts {
		SetActiveSessions(string(kind), count)
	}
}
