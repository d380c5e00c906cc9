package relay

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/onnwee/cliprelay/config"
	"github.com/onnwee/cliprelay/routing"
)

func TestEventSpanOutlivesDeliveries(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	sender := &fakeSender{gate: make(chan struct{})}
	dests := []config.Destination{
		plainDest("span-a", "https://example.com/a", "chan"),
		plainDest("span-b", "https://example.com/b", "chan"),
	}
	p := NewPipeline(routing.Build(dests, nil, false), newMemStore(), fallback(), sender, 2)
	p.Handle(context.Background(), event("chan", "clips.twitch.tv/SpanClip"))

	for _, s := range rec.Ended() {
		if s.Name() == "clip_event" {
			t.Fatal("clip_event span ended while deliveries were still running")
		}
	}

	close(sender.gate)
	p.Wait()

	var clipEvent sdktrace.ReadOnlySpan
	var deliveries []sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		switch s.Name() {
		case "clip_event":
			clipEvent = s
		case "deliver":
			deliveries = append(deliveries, s)
		}
	}
	if clipEvent == nil {
		t.Fatal("clip_event span not ended after Wait")
	}
	if len(deliveries) != 2 {
		t.Fatalf("deliver spans = %d, want 2", len(deliveries))
	}
	for _, d := range deliveries {
		if d.Parent().SpanID() != clipEvent.SpanContext().SpanID() {
			t.Errorf("deliver span parent = %s, want clip_event %s", d.Parent().SpanID(), clipEvent.SpanContext().SpanID())
		}
		if clipEvent.EndTime().Before(d.EndTime()) {
			t.Errorf("clip_event ended at %v, before its delivery ended at %v", clipEvent.EndTime(), d.EndTime())
		}
	}
}
