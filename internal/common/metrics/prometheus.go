package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Recorder backed by Prometheus.
type PrometheusCollector struct {
	draws     *prometheus.CounterVec
	drawTime  *prometheus.HistogramVec
	conflicts *prometheus.CounterVec
	lockWait  *prometheus.HistogramVec
	resets    *prometheus.CounterVec
}

var _ Recorder = (*PrometheusCollector)(nil)

// NewPrometheus registers the collectors on reg (prometheus.DefaultRegisterer
// if nil) under namespace (defaults to "gift_exchange").
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "gift_exchange"
	}

	p := &PrometheusCollector{
		draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "draw",
			Name:      "total",
			Help:      "Draw requests by result (assigned, existing, exhausted, error).",
		}, []string{"result"}),
		drawTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "draw",
			Name:      "duration_seconds",
			Help:      "Draw latency including lock wait and retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"result"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "conflict_retries_total",
			Help:      "Uniqueness conflicts retried by operation.",
		}, []string{"op"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-event lock.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "resets_total",
			Help:      "Participants whose draw was reset, by reason (regenerate, cascade, repair).",
		}, []string{"reason"}),
	}

	reg.MustRegister(p.draws, p.drawTime, p.conflicts, p.lockWait, p.resets)
	return p
}

func (p *PrometheusCollector) ObserveDraw(result string, elapsed time.Duration) {
	p.draws.WithLabelValues(result).Inc()
	p.drawTime.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (p *PrometheusCollector) IncConflictRetry(op string) {
	p.conflicts.WithLabelValues(op).Inc()
}

func (p *PrometheusCollector) ObserveLockWait(op string, waited time.Duration) {
	p.lockWait.WithLabelValues(op).Observe(waited.Seconds())
}

func (p *PrometheusCollector) AddResets(reason string, n int) {
	if n <= 0 {
		return
	}
	p.resets.WithLabelValues(reason).Add(float64(n))
}
