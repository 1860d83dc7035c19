// Package analytics keeps two independently owned usage stores on the device: a bounded
// raw event log for detail and a rolling summary for cheap dashboard reads.
package analytics

import (
	"time"

	"go.uber.org/zap"

	"raha.health/internal/kv"
	"raha.health/internal/obs"
)

// Aggregator groups the event log and the summary store behind one handle.
type Aggregator struct {
	events  *EventLog
	summary *SummaryStore
}

// Option configures Aggregator.
type Option func(*config)

type config struct {
	now       func() time.Time
	maxEvents int
}

// WithClock overrides the time source used for event timestamps.
func WithClock(fn func() time.Time) Option {
	return func(c *config) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithMaxEvents overrides the event log cap (tests only need small caps).
func WithMaxEvents(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxEvents = n
		}
	}
}

// New builds an Aggregator over the device substrate.
func New(substrate kv.Store, opts ...Option) *Aggregator {
	cfg := config{now: time.Now, maxEvents: MaxEvents}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Aggregator{
		events:  newEventLog(substrate, cfg.now, cfg.maxEvents),
		summary: newSummaryStore(substrate),
	}
}

// Events exposes the raw event log.
func (a *Aggregator) Events() *EventLog { return a.events }

// SummaryStore exposes the rolling summary.
func (a *Aggregator) SummaryStore() *SummaryStore { return a.summary }

// TrackEvent appends one event to the raw log.
func (a *Aggregator) TrackEvent(eventType string, data map[string]any) {
	a.events.Track(eventType, data)
}

// Summary returns the rolling counters.
func (a *Aggregator) Summary() Summary {
	return a.summary.Get()
}

// UpdateAnalytics adds delta to the rolling counters.
func (a *Aggregator) UpdateAnalytics(delta Delta) {
	a.summary.Add(delta)
}

func fail(namespace, op string, err error) {
	obs.StorageFailures.WithLabelValues(namespace, op).Inc()
	obs.Logger().Error("analytics storage failed",
		zap.String("namespace", namespace),
		zap.String("op", op),
		zap.Error(err),
	)
}
