package observability

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recoveryMetricsOnce sync.Once
	recoveryRegistry    *RecoveryMetrics

	monitorMetricsOnce sync.Once
	monitorRegistry    *MonitorMetrics
)

// ErrorKinder is implemented by errors that carry a stable metric label.
type ErrorKinder interface {
	Kind() string
}

// RecoveryMetrics wraps collectors tracking recovery queue reconstruction.
type RecoveryMetrics struct {
	reconstructions *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	creationLookups *prometheus.CounterVec
	classifications *prometheus.CounterVec
}

// Recovery returns the lazily-initialised registry used by the reconstructor.
func Recovery() *RecoveryMetrics {
	recoveryMetricsOnce.Do(func() {
		recoveryRegistry = &RecoveryMetrics{
			reconstructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safe",
				Subsystem: "recovery",
				Name:      "reconstructions_total",
				Help:      "Recovery queue reconstructions segmented by outcome.",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "safe",
				Subsystem: "recovery",
				Name:      "reconstruction_duration_seconds",
				Help:      "Latency distribution for recovery queue reconstructions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"path"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safe",
				Subsystem: "recovery",
				Name:      "errors_total",
				Help:      "Reconstruction failures segmented by error kind.",
			}, []string{"kind"}),
			creationLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safe",
				Subsystem: "recovery",
				Name:      "creation_lookups_total",
				Help:      "Wallet creation receipt lookups segmented by cache outcome.",
			}, []string{"outcome"}),
			classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safe",
				Subsystem: "recovery",
				Name:      "classifications_total",
				Help:      "Classified queue items segmented by verdict reason.",
			}, []string{"reason", "malicious"}),
		}
		prometheus.MustRegister(
			recoveryRegistry.reconstructions,
			recoveryRegistry.latency,
			recoveryRegistry.errors,
			recoveryRegistry.creationLookups,
			recoveryRegistry.classifications,
		)
	})
	return recoveryRegistry
}

// ObserveReconstruction records the latency and outcome of one reconstruction.
// Path is "empty" when the queue short-circuited and "scan" otherwise.
func (m *RecoveryMetrics) ObserveReconstruction(path string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if strings.TrimSpace(path) == "" {
		path = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		kind := "unknown"
		var kinder ErrorKinder
		if errors.As(err, &kinder) {
			kind = kinder.Kind()
		}
		m.errors.WithLabelValues(kind).Inc()
	}
	m.reconstructions.WithLabelValues(outcome).Inc()
	m.latency.WithLabelValues(path).Observe(d.Seconds())
}

// RecordCreationLookup counts a creation receipt lookup. Outcome is one of
// "hit", "miss" or "shared".
func (m *RecoveryMetrics) RecordCreationLookup(outcome string) {
	if m == nil {
		return
	}
	m.creationLookups.WithLabelValues(outcome).Inc()
}

// RecordClassification counts a classified queue item.
func (m *RecoveryMetrics) RecordClassification(reason string, malicious bool) {
	if m == nil {
		return
	}
	label := "false"
	if malicious {
		label = "true"
	}
	m.classifications.WithLabelValues(reason, label).Inc()
}

// MonitorMetrics wraps collectors tracking the recovery monitor sweeps.
type MonitorMetrics struct {
	pending     *prometheus.GaugeVec
	malicious   *prometheus.GaugeVec
	healthy     *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	sweeps      *prometheus.CounterVec
	lastSweep   prometheus.Gauge
}

// Monitor returns the metrics registry for the recovery monitor.
func Monitor() *MonitorMetrics {
	monitorMetricsOnce.Do(func() {
		monitorRegistry = &MonitorMetrics{
			pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "safe",
				Subsystem: "recoverymon",
				Name:      "pending_items",
				Help:      "Pending recovery proposals per monitored wallet.",
			}, []string{"wallet"}),
			malicious: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "safe",
				Subsystem: "recoverymon",
				Name:      "malicious_items",
				Help:      "Pending recovery proposals flagged malicious per monitored wallet.",
			}, []string{"wallet"}),
			healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "safe",
				Subsystem: "recoverymon",
				Name:      "wallet_healthy",
				Help:      "1 when the last reconstruction of the wallet succeeded, 0 when the queue gauges are stale.",
			}, []string{"wallet"}),
			lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "safe",
				Subsystem: "recoverymon",
				Name:      "wallet_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful reconstruction per monitored wallet.",
			}, []string{"wallet"}),
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safe",
				Subsystem: "recoverymon",
				Name:      "sweeps_total",
				Help:      "Monitor sweeps segmented by outcome.",
			}, []string{"outcome"}),
			lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "safe",
				Subsystem: "recoverymon",
				Name:      "last_sweep_timestamp_seconds",
				Help:      "Unix time of the last completed sweep.",
			}),
		}
		prometheus.MustRegister(
			monitorRegistry.pending,
			monitorRegistry.malicious,
			monitorRegistry.healthy,
			monitorRegistry.lastSuccess,
			monitorRegistry.sweeps,
			monitorRegistry.lastSweep,
		)
	})
	return monitorRegistry
}

// SetQueue publishes the pending and malicious counts for a wallet.
func (m *MonitorMetrics) SetQueue(wallet string, pending, malicious int) {
	if m == nil {
		return
	}
	label := walletLabel(wallet)
	m.pending.WithLabelValues(label).Set(float64(pending))
	m.malicious.WithLabelValues(label).Set(float64(malicious))
}

// RecordWalletSuccess marks the wallet gauges fresh as of at.
func (m *MonitorMetrics) RecordWalletSuccess(wallet string, at time.Time) {
	if m == nil {
		return
	}
	label := walletLabel(wallet)
	m.healthy.WithLabelValues(label).Set(1)
	m.lastSuccess.WithLabelValues(label).Set(float64(at.Unix()))
}

// RecordWalletFailure marks the pending and malicious gauges of the wallet as
// stale. They keep the last successful values.
func (m *MonitorMetrics) RecordWalletFailure(wallet string) {
	if m == nil {
		return
	}
	m.healthy.WithLabelValues(walletLabel(wallet)).Set(0)
}

func walletLabel(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// RecordSweep counts a completed sweep and stamps its completion time.
func (m *MonitorMetrics) RecordSweep(at time.Time, failed int) {
	if m == nil {
		return
	}
	outcome := "success"
	if failed > 0 {
		outcome = "partial_failure"
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	m.lastSweep.Set(float64(at.Unix()))
}
