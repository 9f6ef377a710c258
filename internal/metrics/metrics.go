package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const namespace = "gk_healter"

// Collector receives domain events from the engines and the scheduler
type Collector interface {
	ObserveOperation(category, outcome, errKind string, bytesFreed int64)
	ObserveCleanupRun(trigger, status string, duration time.Duration)
	ObserveAudit(trustScore int, duration time.Duration)
	ObserveFinding(check, severity string)
	SetSchedulerState(state string)
	ObserveHTTPRequest(method, path string, code int)
}

// Nop discards every event
type Nop struct{}

func (Nop) ObserveOperation(string, string, string, int64)  {}
func (Nop) ObserveCleanupRun(string, string, time.Duration) {}
func (Nop) ObserveAudit(int, time.Duration)                 {}
func (Nop) ObserveFinding(string, string)                   {}
func (Nop) SetSchedulerState(string)                        {}
func (Nop) ObserveHTTPRequest(string, string, int)          {}

var _ Collector = Nop{}
var _ Collector = (*Prometheus)(nil)

// Prometheus exports the events on its own registry
type Prometheus struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	BytesFreed      *prometheus.CounterVec
	CleanupRuns     *prometheus.CounterVec
	CleanupDuration *prometheus.HistogramVec
	LastCleanupTime prometheus.Gauge
	TrustScore      prometheus.Gauge
	AuditDuration   prometheus.Histogram
	Findings        *prometheus.CounterVec
	SchedulerState  *prometheus.GaugeVec
	HTTPRequests    *prometheus.CounterVec

	states []string
	logger *zap.Logger
}

// NewPrometheus registers the collectors. states lists every scheduler
// state so exactly one of them reads 1 at a time.
func NewPrometheus(logger *zap.Logger, states []string) *Prometheus {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	p := &Prometheus{
		registry: registry,
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_operations_total",
			Help:      "Cleanup operations by category, outcome and error kind",
		}, []string{"category", "outcome", "error"}),

		BytesFreed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_bytes_freed_total",
			Help:      "Bytes reclaimed by cleanup operations",
		}, []string{"category"}),

		CleanupRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_runs_total",
			Help:      "Cleanup runs by trigger and status",
		}, []string{"trigger", "status"}),

		CleanupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_duration_seconds",
			Help:      "Time spent in cleanup runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"trigger"}),

		LastCleanupTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cleanup_timestamp_seconds",
			Help:      "Unix time of the last finished cleanup run",
		}),

		TrustScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_trust_score",
			Help:      "Trust score of the last security audit",
		}),

		AuditDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_duration_seconds",
			Help:      "Time spent in security audits",
			Buckets:   prometheus.DefBuckets,
		}),

		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_findings_total",
			Help:      "Audit findings by check and severity",
		}, []string{"check", "severity"}),

		SchedulerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_state",
			Help:      "1 for the current maintenance scheduler state",
		}, []string{"state"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the status endpoint",
		}, []string{"method", "path", "code"}),

		states: states,
		logger: logger,
	}

	logger.Info("Prometheus metrics initialized", zap.Int("scheduler_states", len(states)))
	return p
}

// Registry returns the registry to expose over HTTP
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) ObserveOperation(category, outcome, errKind string, bytesFreed int64) {
	p.Operations.WithLabelValues(category, outcome, errKind).Inc()
	if bytesFreed > 0 {
		p.BytesFreed.WithLabelValues(category).Add(float64(bytesFreed))
	}
}

func (p *Prometheus) ObserveCleanupRun(trigger, status string, duration time.Duration) {
	p.CleanupRuns.WithLabelValues(trigger, status).Inc()
	p.CleanupDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	p.LastCleanupTime.SetToCurrentTime()
}

func (p *Prometheus) ObserveAudit(trustScore int, duration time.Duration) {
	p.TrustScore.Set(float64(trustScore))
	p.AuditDuration.Observe(duration.Seconds())
}

func (p *Prometheus) ObserveFinding(check, severity string) {
	p.Findings.WithLabelValues(check, severity).Inc()
}

func (p *Prometheus) SetSchedulerState(state string) {
	for _, s := range p.states {
		value := 0.0
		if s == state {
			value = 1
		}
		p.SchedulerState.WithLabelValues(s).Set(value)
	}
}

func (p *Prometheus) ObserveHTTPRequest(method, path string, code int) {
	p.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
}
