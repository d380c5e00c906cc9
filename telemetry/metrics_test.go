package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // idempotent: a second registration would panic

	if ClipsDetected == nil || MetadataFailures == nil {
		t.Error("counters not initialized")
	}
	if DuplicatesSkipped == nil || PermissionDenials == nil || BroadcasterVetoes == nil ||
		DeliveriesSucceeded == nil || DeliveriesFailed == nil {
		t.Error("counter vecs not initialized")
	}
	if DeliveryDuration == nil || MetadataDuration == nil {
		t.Error("histograms not initialized")
	}
	if InFlightDeliveries == nil || MetadataMode == nil {
		t.Error("gauges not initialized")
	}
}

func TestCounterVecLabels(t *testing.T) {
	Init()
	before := testutil.ToFloat64(DeliveriesFailed.WithLabelValues("dest-x", "preview"))
	DeliveriesFailed.WithLabelValues("dest-x", "preview").Inc()
	if got := testutil.ToFloat64(DeliveriesFailed.WithLabelValues("dest-x", "preview")); got != before+1 {
		t.Errorf("DeliveriesFailed = %v, want %v", got, before+1)
	}
}

func TestSetMetadataMode(t *testing.T) {
	Init()
	SetMetadataMode(true)
	if got := testutil.ToFloat64(MetadataMode); got != 1 {
		t.Errorf("MetadataMode = %v, want 1", got)
	}
	SetMetadataMode(false)
	if got := testutil.ToFloat64(MetadataMode); got != 0 {
		t.Errorf("MetadataMode = %v, want 0", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() != 1 {
		t.Error("TimeFunc did not record observation in histogram")
	}

	// nil observer is allowed
	TimeFunc(nil, func() {})
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("empty context should have no correlation id")
	}
	id := NewCorrelationID()
	if len(id) != 36 {
		t.Errorf("NewCorrelationID() = %q, want uuid", id)
	}
	ctx = WithCorrelation(ctx, id)
	if got := GetCorrelation(ctx); got != id {
		t.Errorf("GetCorrelation() = %q, want %q", got, id)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
