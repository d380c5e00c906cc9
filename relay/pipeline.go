// Package relay turns chat events into webhook deliveries.
//
// A single consumer reads events in order; each eligible destination gets its own
// goroutine, bounded by a semaphore so a saturated pipeline pushes back on the chat
// buffer. A posted clip is recorded only after every phase of its delivery succeeded.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/cliprelay/chat"
	"github.com/onnwee/cliprelay/clip"
	"github.com/onnwee/cliprelay/discord"
	"github.com/onnwee/cliprelay/metadata"
	"github.com/onnwee/cliprelay/routing"
	"github.com/onnwee/cliprelay/telemetry"
)

// Store records which clips each destination has received.
type Store interface {
	Exists(ctx context.Context, clipID, destID string) (bool, error)
	Commit(ctx context.Context, clipID, destID string, at time.Time) error
}

// Resolver fetches the details rendered into a notice.
type Resolver interface {
	Resolve(ctx context.Context, ref clip.Reference, poster string) (*metadata.Clip, error)
}

type claimKey struct{ clipID, destID string }

// Pipeline relays clip links from chat to destinations.
type Pipeline struct {
	routes   []routing.Route
	store    Store
	resolver Resolver
	sender   Sender
	now      func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	claims map[claimKey]struct{}

	started atomic.Bool
}

// NewPipeline builds a pipeline; maxConcurrent < 1 is treated as 1.
func NewPipeline(routes []routing.Route, store Store, resolver Resolver, sender Sender, maxConcurrent int) *Pipeline {
	telemetry.Init()
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pipeline{
		routes:   routes,
		store:    store,
		resolver: resolver,
		sender:   sender,
		now:      time.Now,
		sem:      make(chan struct{}, maxConcurrent),
		claims:   make(map[claimKey]struct{}),
	}
}

// Started reports whether Run has begun consuming events.
func (p *Pipeline) Started() bool { return p.started.Load() }

// ActiveDeliveries returns the number of occupied delivery slots.
func (p *Pipeline) ActiveDeliveries() int { return len(p.sem) }

// MaxConcurrentDeliveries returns the delivery slot count.
func (p *Pipeline) MaxConcurrentDeliveries() int { return cap(p.sem) }

// Run consumes events until ctx is cancelled or events is closed, then waits for
// in-flight deliveries.
func (p *Pipeline) Run(ctx context.Context, events <-chan chat.Event) error {
	p.started.Store(true)
	defer p.wg.Wait()
	slog.Info("relay pipeline started",
		slog.Int("destinations", len(p.routes)),
		slog.Int("max_concurrent_deliveries", cap(p.sem)),
		slog.String("component", "relay"))
	for {
		select {
		case <-ctx.Done():
			slog.Info("relay pipeline stopping", slog.String("component", "relay"))
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.Handle(ctx, ev)
		}
	}
}

// Handle processes one chat event. It returns once every eligible delivery has been
// started, blocking while all delivery slots are busy. Use Wait to await completion.
func (p *Pipeline) Handle(ctx context.Context, ev chat.Event) {
	if ev.Echo {
		return
	}
	ref, ok := clip.Extract(ev.Channel, ev.Text)
	if !ok {
		return
	}
	telemetry.ClipsDetected.Inc()

	eligible, denied := routing.Eligible(ev, p.routes)
	for _, d := range denied {
		telemetry.PermissionDenials.WithLabelValues(d.Route.Destination.ID).Inc()
	}
	if len(eligible) == 0 {
		return
	}

	// Deliveries outlive the consumer on shutdown; the HTTP client timeout bounds them.
	dctx := telemetry.WithCorrelation(context.WithoutCancel(ctx), telemetry.NewCorrelationID())
	dctx, span := telemetry.StartSpan(dctx, "relay", "clip_event",
		append(telemetry.ClipAttrs(ref.ID, ref.Channel), attribute.Int("destinations", len(eligible)))...)
	evSpan := newEventSpan(span)
	defer evSpan.done()
	logger := telemetry.LoggerWithCorr(dctx).With(
		slog.String("clip_id", ref.ID),
		slog.String("channel", ref.Channel),
		slog.String("poster", ev.Sender),
		slog.String("component", "relay"))
	logger.Info("clip link detected", slog.Int("destinations", len(eligible)))

	poster := ev.DisplayName
	if poster == "" {
		poster = ev.Sender
	}
	resolve := sync.OnceValues(func() (*metadata.Clip, error) {
		var md *metadata.Clip
		var err error
		telemetry.TimeFunc(telemetry.MetadataDuration, func() {
			md, err = p.resolver.Resolve(dctx, ref, poster)
		})
		if err != nil {
			telemetry.MetadataFailures.Inc()
			if errors.Is(err, metadata.ErrClipNotFound) {
				logger.Warn("clip not found", slog.Any("err", err))
			} else {
				logger.Error("clip metadata lookup failed", slog.Any("err", err))
			}
		}
		return md, err
	})

	for _, r := range eligible {
		key := claimKey{clipID: ref.ID, destID: r.Destination.ID}
		if !p.claim(key) {
			logger.Debug("delivery already in flight", slog.String("destination", key.destID))
			continue
		}
		if !p.acquireSlot(ctx) {
			p.unclaim(key)
			logger.Info("shutdown before delivery started", slog.String("destination", key.destID))
			return
		}
		p.wg.Add(1)
		evSpan.hold()
		go func(r routing.Route) {
			defer p.wg.Done()
			defer evSpan.done()
			defer p.releaseSlot()
			defer p.unclaim(key)
			p.deliver(dctx, logger.With(slog.String("destination", r.Destination.ID)), ref, r, resolve)
		}(r)
	}
}

// Wait blocks until all started deliveries have finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) deliver(ctx context.Context, logger *slog.Logger, ref clip.Reference, r routing.Route, resolve func() (*metadata.Clip, error)) {
	dest := r.Destination
	ctx, span := telemetry.StartSpan(ctx, "relay", "deliver",
		append(telemetry.ClipAttrs(ref.ID, ref.Channel), attribute.String("destination.id", dest.ID))...)
	defer span.End()

	posted, err := p.store.Exists(ctx, ref.ID, dest.ID)
	if err != nil {
		logger.Error("posted-clip lookup failed", slog.Any("err", err))
		telemetry.DeliveriesFailed.WithLabelValues(dest.ID, "store").Inc()
		telemetry.RecordError(span, err)
		return
	}
	if posted {
		logger.Debug("clip already posted to destination")
		telemetry.DuplicatesSkipped.WithLabelValues(dest.ID).Inc()
		return
	}

	md, err := resolve()
	if err != nil {
		telemetry.RecordError(span, err)
		return
	}
	if !r.AllowsBroadcaster(md.BroadcasterID) {
		logger.Info("clip broadcaster is not watched by destination", slog.String("broadcaster_id", md.BroadcasterID))
		telemetry.BroadcasterVetoes.WithLabelValues(dest.ID).Inc()
		return
	}

	out := discord.Build(md, dest.Presentation, discord.Branding{Username: dest.DisplayName, AvatarURL: dest.AvatarURL})
	d := newDelivery(p.sender, dest.WebhookURL, out)

	telemetry.InFlightDeliveries.Inc()
	var derr error
	dur := telemetry.TimeFunc(telemetry.DeliveryDuration, func() { derr = d.run(ctx) })
	telemetry.InFlightDeliveries.Dec()
	span.SetAttributes(attribute.String("delivery.state", d.state.String()))
	if derr != nil {
		logger.Warn("clip delivery failed", slog.String("state", d.state.String()), slog.Any("err", derr))
		telemetry.DeliveriesFailed.WithLabelValues(dest.ID, d.state.phase()).Inc()
		telemetry.RecordError(span, derr)
		return
	}
	if !d.state.Committable() {
		return
	}
	if err := p.store.Commit(ctx, ref.ID, dest.ID, p.now()); err != nil {
		logger.Error("failed to record posted clip", slog.Any("err", err))
		telemetry.DeliveriesFailed.WithLabelValues(dest.ID, "commit").Inc()
		telemetry.RecordError(span, err)
		return
	}
	telemetry.DeliveriesSucceeded.WithLabelValues(dest.ID).Inc()
	telemetry.SetSpanSuccess(span)
	logger.Info("clip relayed",
		slog.Bool("two_phase", out.TwoPhase()),
		slog.Duration("duration", dur))
}

// eventSpan ends the per-event span once Handle and every delivery it started are done.
type eventSpan struct {
	span    trace.Span
	pending atomic.Int32
}

func newEventSpan(span trace.Span) *eventSpan {
	e := &eventSpan{span: span}
	e.pending.Store(1)
	return e
}

func (e *eventSpan) hold() { e.pending.Add(1) }

func (e *eventSpan) done() {
	if e.pending.Add(-1) == 0 {
		e.span.End()
	}
}

func (p *Pipeline) claim(k claimKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.claims[k]; busy {
		return false
	}
	p.claims[k] = struct{}{}
	return true
}

func (p *Pipeline) unclaim(k claimKey) {
	p.mu.Lock()
	delete(p.claims, k)
	p.mu.Unlock()
}

// acquireSlot blocks until a delivery slot is free. Returns false if ctx is cancelled.
func (p *Pipeline) acquireSlot(ctx context.Context) bool {
	select {
	case p.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) releaseSlot() {
	select {
	case <-p.sem:
	default:
		slog.Warn("releaseSlot called without matching acquire", slog.String("component", "relay"))
	}
}
