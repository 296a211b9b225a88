package offers

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "offers"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Offers recorded, labelled by type.
	Submitted metrics.Counter
	// Status changes, labelled by the status reached.
	Transitions metrics.Counter
	// Rejected operations, labelled by operation and reason.
	Rejections metrics.Counter
	// Blobs skipped by the last listing.
	Diagnostics metrics.Gauge
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
		Submitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "submitted_total",
			Help:      "Number of offers recorded on the ledger.",
		}, append(labels, "type")).With(labelsAndValues...),

		Transitions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transitions_total",
			Help:      "Number of offer status changes.",
		}, append(labels, "status")).With(labelsAndValues...),

		Rejections: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejections_total",
			Help:      "Number of rejected offer operations.",
		}, append(labels, "operation", "reason")).With(labelsAndValues...),

		Diagnostics: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "skipped_blobs",
			Help:      "Malformed or missing blobs skipped by the last listing.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Submitted:   discard.NewCounter(),
		Transitions: discard.NewCounter(),
		Rejections:  discard.NewCounter(),
		Diagnostics: discard.NewGauge(),
	}
}
