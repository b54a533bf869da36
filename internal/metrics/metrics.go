// Package metrics provides Prometheus metrics for the consumption pipeline.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

const namespace = "smartgrid"

// Collector holds all Prometheus metrics of the service.
type Collector struct {
	// Ingestion metrics
	ReadingsProcessed  *prometheus.CounterVec
	ReadingRejections  *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	ReadingsInFlight   prometheus.Gauge

	// Summary metrics
	SummaryWrites *prometheus.CounterVec

	// Transport metrics
	MessagesConsumed *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ReadingsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readings_processed_total",
				Help:      "Readings processed by outcome",
			},
			[]string{"outcome"},
		),
		ReadingRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reading_rejections_total",
				Help:      "Rejected readings and snapshots by reason",
			},
			[]string{"reason"},
		),
		ProcessingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reading_processing_duration_seconds",
				Help:      "Time from dequeue to summary write",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ReadingsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "readings_in_flight",
				Help:      "Readings queued or being processed",
			},
		),
		SummaryWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summary_writes_total",
				Help:      "Monthly summary writes by action",
			},
			[]string{"action"},
		),
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_consumed_total",
				Help:      "Messages read from the ingestion topic by result",
			},
			[]string{"result"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Reason maps an error onto a low-cardinality label value.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrStaleReading):
		return "stale_reading"
	case errors.Is(err, models.ErrDuplicatePeriod):
		return "duplicate_period"
	case errors.Is(err, models.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrInvalidTimeRange):
		return "invalid_time_range"
	case errors.Is(err, models.ErrInvalidYear):
		return "invalid_year"
	default:
		return "internal"
	}
}
