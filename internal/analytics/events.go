package analytics

import (
	"sync"
	"time"

	"raha.health/internal/ids"
	"raha.health/internal/kv"
	"raha.health/internal/obs"
)

const (
	// EventsNamespace holds the raw, oldest-first event log.
	EventsNamespace = "raha_analytics"
	// MaxEvents bounds the raw log; older events are evicted first.
	MaxEvents = 1000
)

// Event types emitted by the application.
const (
	EventNoteCreated     = "note_created"
	EventAdminResetUsage = "admin_reset_usage"
)

// Well-known keys inside Event.Data.
const (
	DataUserID           = "userId"
	DataTimeSavedMinutes = "timeSavedMinutes"
	DataAccuracy         = "accuracy"
)

// Event is one usage event. Data must not carry clinical content.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventLog is the detailed usage log: append-only and bounded to MaxEvents.
type EventLog struct {
	kv  kv.Store
	now func() time.Time
	max int

	mu sync.Mutex
}

func newEventLog(substrate kv.Store, now func() time.Time, max int) *EventLog {
	return &EventLog{kv: substrate, now: now, max: max}
}

// Track appends an event, evicting the oldest entries beyond the cap in one step.
func (l *EventLog) Track(eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	events, err := l.load()
	if err != nil {
		fail(EventsNamespace, "track", err)
		return
	}
	events = append(events, Event{
		ID:        ids.Random(),
		Type:      eventType,
		Data:      data,
		Timestamp: l.now().UTC(),
	})
	if over := len(events) - l.max; over > 0 {
		events = append(events[:0:0], events[over:]...)
	}
	if err := kv.SaveJSON(l.kv, EventsNamespace, events); err != nil {
		fail(EventsNamespace, "track", err)
		return
	}
	obs.AnalyticsEvents.WithLabelValues(eventType).Inc()
}

// All returns the stored events oldest first.
func (l *EventLog) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events, err := l.load()
	if err != nil {
		fail(EventsNamespace, "list", err)
		return nil
	}
	return events
}

// Between returns events with from <= timestamp < to, oldest first.
func (l *EventLog) Between(from, to time.Time) []Event {
	var out []Event
	for _, e := range l.All() {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	return out
}

func (l *EventLog) load() ([]Event, error) {
	var events []Event
	if _, err := kv.LoadJSON(l.kv, EventsNamespace, &events); err != nil {
		return nil, err
	}
	return events, nil
}
