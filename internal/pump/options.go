package pump

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"padbridge/internal/sample"
)

// TickerFunc starts a ticker and returns its channel and a stop function.
type TickerFunc func(period time.Duration) (<-chan time.Time, func())

func realTicker(period time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(period)
	return t.C, t.Stop
}

// Option configures a Pump.
type Option func(*Pump)

// WithClock replaces time.Now for activity and idle measurements.
func WithClock(now func() time.Time) Option {
	return func(p *Pump) { p.now = now }
}

// WithTicker replaces the wall-clock ticker.
func WithTicker(f TickerFunc) Option {
	return func(p *Pump) { p.ticker = f }
}

// WithLogger sets the logger (nil keeps slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(p *Pump) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracer sets the tracer used for actuation spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pump) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithObserver registers a callback for every completed actuation.
func WithObserver(o Observer) Option {
	return func(p *Pump) { p.obs = o }
}

// WithMapping sets the button mapping used by Ingest.
func WithMapping(m sample.Mapping) Option {
	return func(p *Pump) { p.mapping = m }
}
