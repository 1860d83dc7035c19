package audit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"raha.health/internal/ids"
	"raha.health/internal/kv"
	"raha.health/internal/obs"
)

const (
	// Namespace holds the newest-first entry list.
	Namespace = "raha_admin_audit"
	// MaxEntries bounds the log; the oldest entries fall off the tail.
	MaxEntries = 500
)

// Log is the device-local, bounded audit trail. Entries are never sent to a server.
type Log struct {
	kv  kv.Store
	now func() time.Time
	max int

	mu sync.Mutex
}

// Option configures Log.
type Option func(*Log)

// WithClock overrides the time source used to stamp entries.
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithMaxEntries overrides the cap.
func WithMaxEntries(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.max = n
		}
	}
}

// NewLog creates an audit log over the device substrate.
func NewLog(substrate kv.Store, opts ...Option) *Log {
	l := &Log{kv: substrate, now: time.Now, max: MaxEntries}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record inserts entry at the head, filling ID, Timestamp and Severity when unset, and
// returns the stored entry. A storage failure is logged; the entry is still returned.
func (l *Log) Record(ctx context.Context, entry Entry) Entry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = ids.NewAt(entry.Timestamp)
	}
	if entry.Severity == "" {
		entry.Severity = SeverityFor(entry.Event, "")
	}

	l.mu.Lock()
	entries, err := l.load()
	if err == nil {
		entries = append([]Entry{entry}, entries...)
		if len(entries) > l.max {
			entries = entries[:l.max]
		}
		err = kv.SaveJSON(l.kv, Namespace, entries)
	}
	l.mu.Unlock()

	if err != nil {
		l.fail("record", err)
	}
	obs.AuditEntries.WithLabelValues(string(entry.Severity), strconv.FormatBool(entry.Resolved)).Inc()
	_ = LogEvent(ctx, entry.Event, map[string]any{
		"id":       entry.ID,
		"actor":    entry.Actor,
		"role":     entry.Role,
		"severity": string(entry.Severity),
		"details":  entry.Details,
		"resolved": entry.Resolved,
	})
	return entry
}

// Entries returns the full log, newest first.
func (l *Log) Entries() []Entry {
	return l.Tail(-1)
}

// Tail returns at most n of the newest entries; n < 0 returns all.
func (l *Log) Tail(n int) []Entry {
	l.mu.Lock()
	entries, err := l.load()
	l.mu.Unlock()
	if err != nil {
		l.fail("read", err)
		return nil
	}
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Len reports the number of stored entries.
func (l *Log) Len() int {
	return len(l.Entries())
}

func (l *Log) load() ([]Entry, error) {
	var entries []Entry
	if _, err := kv.LoadJSON(l.kv, Namespace, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *Log) fail(op string, err error) {
	obs.StorageFailures.WithLabelValues(Namespace, op).Inc()
	obs.Logger().Error("audit storage failed",
		zap.String("namespace", Namespace),
		zap.String("op", op),
		zap.Error(err),
	)
}
