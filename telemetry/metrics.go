// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ClipsDetected       prometheus.Counter
	MetadataFailures    prometheus.Counter
	DuplicatesSkipped   *prometheus.CounterVec // destination
	PermissionDenials   *prometheus.CounterVec // destination
	BroadcasterVetoes   *prometheus.CounterVec // destination
	DeliveriesSucceeded *prometheus.CounterVec // destination
	DeliveriesFailed    *prometheus.CounterVec // destination, phase

	// Histograms (seconds)
	DeliveryDuration prometheus.Observer
	MetadataDuration prometheus.Observer

	// Gauges
	InFlightDeliveries prometheus.Gauge
	MetadataMode       prometheus.Gauge // 1=authenticated,0=fallback
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ClipsDetected = promauto.NewCounter(prometheus.CounterOpts{Name: "cliprelay_clips_detected_total", Help: "Chat messages that contained a clip link"})
		MetadataFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "cliprelay_metadata_failures_total", Help: "Clip metadata lookups that failed"})
		DuplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cliprelay_duplicates_skipped_total", Help: "Clips skipped because they were already posted"}, []string{"destination"})
		PermissionDenials = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cliprelay_permission_denials_total", Help: "Clip links ignored because the poster lacked permission"}, []string{"destination"})
		BroadcasterVetoes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cliprelay_broadcaster_vetoes_total", Help: "Clips dropped because the broadcaster is not watched"}, []string{"destination"})
		DeliveriesSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cliprelay_deliveries_succeeded_total", Help: "Clip notices delivered and recorded"}, []string{"destination"})
		DeliveriesFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cliprelay_deliveries_failed_total", Help: "Clip notice deliveries that failed"}, []string{"destination", "phase"})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "cliprelay_delivery_duration_seconds", Help: "Webhook delivery duration seconds", Buckets: prometheus.DefBuckets})
		MetadataDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "cliprelay_metadata_duration_seconds", Help: "Clip metadata resolution duration seconds", Buckets: prometheus.DefBuckets})
		InFlightDeliveries = promauto.NewGauge(prometheus.GaugeOpts{Name: "cliprelay_deliveries_in_flight", Help: "Destination deliveries currently running"})
		MetadataMode = promauto.NewGauge(prometheus.GaugeOpts{Name: "cliprelay_metadata_authenticated", Help: "Metadata mode authenticated=1 fallback=0"})
	})
}

// SetMetadataMode records whether Helix enrichment is available.
func SetMetadataMode(authenticated bool) {
	if MetadataMode == nil {
		return
	}
	if authenticated {
		MetadataMode.Set(1)
	} else {
		MetadataMode.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// NewCorrelationID returns a random id for tying together the logs of one chat event.
func NewCorrelationID() string { return uuid.NewString() }

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
