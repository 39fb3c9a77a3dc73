// Package ops provides the fire-and-forget audit publisher used on request paths.
//
// Publish never blocks: events go into a bounded queue and Run drains it into
// a Sink. Sampling, a full queue and an open circuit all drop events, because
// losing an audit record is always preferable to slowing down a request.
package ops

import (
	"context"
	"log/slog"
	"time"

	audit "anyzine/pkg/platform/audit"
)

const defaultQueueSize = 1024

// Publisher buffers audit events and forwards them to a sink.
type Publisher struct {
	sink    audit.Sink
	queue   chan audit.Event
	breaker *CircuitBreaker
	sampler *Sampler
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithSampler replaces the keep-everything sampler.
func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = s
	}
}

// WithCircuitBreaker replaces the default breaker (5 failures, 30s cooldown).
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(p *Publisher) {
		p.breaker = cb
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan audit.Event, n)
		}
	}
}

// New creates a publisher over sink. Call Run to start forwarding.
func New(sink audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:    sink,
		queue:   make(chan audit.Event, defaultQueueSize),
		breaker: NewCircuitBreaker(5, 30*time.Second),
		sampler: NewSampler(),
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish enqueues event, dropping it if sampling rejects it or the queue is full.
func (p *Publisher) Publish(_ context.Context, event audit.Event) {
	if !p.sampler.Keep(event.Action) {
		p.metrics.incSampled()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	select {
	case p.queue <- event:
	default:
		p.metrics.incQueueFull()
	}
}

// Run forwards queued events until ctx is cancelled, then drains what is
// already queued using a short grace period.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil
		case event := <-p.queue:
			p.forward(ctx, event)
		}
	}
}

func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case event := <-p.queue:
			p.forward(ctx, event)
		default:
			return
		}
	}
}

func (p *Publisher) forward(ctx context.Context, event audit.Event) {
	if !p.breaker.Allow() {
		p.metrics.incCircuitDropped()
		return
	}
	if err := p.sink.Write(ctx, event); err != nil {
		p.breaker.RecordFailure()
		p.metrics.incSinkFailures()
		p.logger.WarnContext(ctx, "audit sink write failed",
			"action", event.Action,
			"error", err,
		)
		return
	}
	p.breaker.RecordSuccess()
	p.metrics.incForwarded()
}
