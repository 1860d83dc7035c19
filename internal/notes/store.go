// Package notes keeps clinical note content on the device. Nothing in this package
// performs network I/O; the store is best-effort and never returns storage errors.
package notes

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"raha.health/internal/kv"
	"raha.health/internal/obs"
)

// Namespace is the device key holding every note, keyed by note id.
const Namespace = "raha_notes"

var ErrEmptyID = errors.New("notes: id is required")

// Store is the only owner of the notes namespace. Concurrent writers in other
// processes are resolved by last write wins; there is no merge.
type Store struct {
	kv  kv.Store
	now func() time.Time

	mu sync.Mutex
}

// Option configures Store.
type Option func(*Store)

// WithClock overrides the time source used for savedAt.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewStore creates a note store over the device substrate.
func NewStore(substrate kv.Store, opts ...Option) *Store {
	s := &Store{kv: substrate, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save upserts the note under id, replacing any previous content wholesale.
// A blank id is rejected; any other id is stored exactly as given.
// Storage failures are logged and swallowed.
func (s *Store) Save(id string, data map[string]any) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	fields := make(map[string]any, len(data))
	for k, v := range data {
		if k == fieldID || k == fieldSavedAt {
			continue
		}
		fields[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		s.fail("save", err)
		return nil
	}
	all[id] = Note{ID: id, SavedAt: s.now().UTC(), Fields: fields}
	if err := kv.SaveJSON(s.kv, Namespace, all); err != nil {
		s.fail("save", err)
	}
	return nil
}

// Get returns the note stored under id.
func (s *Store) Get(id string) (Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		s.fail("get", err)
		return Note{}, false
	}
	n, ok := all[id]
	return n, ok
}

// All returns every note, most recently saved first (ties broken by id).
func (s *Store) All() []Note {
	s.mu.Lock()
	all, err := s.load()
	s.mu.Unlock()
	if err != nil {
		s.fail("list", err)
		return nil
	}
	out := make([]Note, 0, len(all))
	for _, n := range all {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Recent returns at most limit notes from All.
func (s *Store) Recent(limit int) []Note {
	all := s.All()
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Count reports how many notes are on the device.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		s.fail("count", err)
		return 0
	}
	return len(all)
}

// Delete removes the note under id. Deleting an absent note is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		s.fail("delete", err)
		return
	}
	if _, ok := all[id]; !ok {
		return
	}
	delete(all, id)
	if err := kv.SaveJSON(s.kv, Namespace, all); err != nil {
		s.fail("delete", err)
	}
}

func (s *Store) load() (map[string]Note, error) {
	all := make(map[string]Note)
	if _, err := kv.LoadJSON(s.kv, Namespace, &all); err != nil {
		return nil, err
	}
	if all == nil {
		// A stored JSON null decodes to a nil map.
		all = make(map[string]Note)
	}
	for id, n := range all {
		if n.ID == "" {
			n.ID = id
			all[id] = n
		}
	}
	return all, nil
}

func (s *Store) fail(op string, err error) {
	obs.StorageFailures.WithLabelValues(Namespace, op).Inc()
	obs.Logger().Error("local note storage failed",
		zap.String("namespace", Namespace),
		zap.String("op", op),
		zap.Error(err),
	)
}
