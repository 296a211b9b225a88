package reconcile

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "reconcile"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Completed passes.
	Passes metrics.Counter
	// Passes aborted by a ledger failure.
	Failures metrics.Counter
	// Indexed ids without a record in the last pass.
	Dangling metrics.Gauge
	// Malformed blobs in the last pass.
	Malformed metrics.Gauge
	// Offers per status in the last pass.
	Offers metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Passes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "passes_total",
			Help:      "Number of completed reconcile passes.",
		}, labels).With(labelsAndValues...),
		Failures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failures_total",
			Help:      "Number of reconcile passes aborted by ledger errors.",
		}, labels).With(labelsAndValues...),
		Dangling: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dangling_ids",
			Help:      "Indexed offer ids without a record.",
		}, labels).With(labelsAndValues...),
		Malformed: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "malformed_blobs",
			Help:      "Malformed index or record blobs.",
		}, labels).With(labelsAndValues...),
		Offers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "offers",
			Help:      "Offers on the ledger by status.",
		}, append(labels, "status")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Passes:    discard.NewCounter(),
		Failures:  discard.NewCounter(),
		Dangling:  discard.NewGauge(),
		Malformed: discard.NewGauge(),
		Offers:    discard.NewGauge(),
	}
}

func (m *Metrics) observe(r *Report) {
	m.Passes.Add(1)
	m.Dangling.Set(float64(len(r.Dangling)))
	m.Malformed.Set(float64(len(r.Malformed)))
	m.Offers.With("status", "pending").Set(float64(r.Stats.PendingCount))
	m.Offers.With("status", "matched").Set(float64(r.Stats.MatchedCount))
	m.Offers.With("status", "completed").Set(float64(r.Stats.CompletedCount))
}
