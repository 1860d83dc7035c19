package analytics

import (
	"sync"

	"raha.health/internal/kv"
)

// SummaryNamespace holds the rolling counters. It is independent of the event log.
const SummaryNamespace = "nursescribe_analytics"

// DefaultAccuracy is reported until a real accuracy figure has been stored.
const DefaultAccuracy = 99.2

// Summary is the fast aggregate read by dashboards. TotalTimeSaved is in minutes.
type Summary struct {
	TotalNotes      int     `json:"totalNotes"`
	TotalTimeSaved  float64 `json:"totalTimeSaved"`
	AverageAccuracy float64 `json:"averageAccuracy"`
}

// Delta is added to the stored summary; it never replaces it.
type Delta struct {
	TotalNotes     int     `json:"totalNotes"`
	TotalTimeSaved float64 `json:"totalTimeSaved"`
}

// SummaryStore owns the rolling counters. Updates are read-modify-write; two device
// contexts updating at once may lose one update, which is accepted for a single-user client.
type SummaryStore struct {
	kv kv.Store

	mu sync.Mutex
}

func newSummaryStore(substrate kv.Store) *SummaryStore {
	return &SummaryStore{kv: substrate}
}

// Get returns the stored summary, or the default {0, 0, 99.2} when absent or unreadable.
func (s *SummaryStore) Get() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add accumulates delta into the stored counters.
func (s *SummaryStore) Add(delta Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.load()
	cur.TotalNotes += delta.TotalNotes
	cur.TotalTimeSaved += delta.TotalTimeSaved
	if err := kv.SaveJSON(s.kv, SummaryNamespace, cur); err != nil {
		fail(SummaryNamespace, "update", err)
	}
}

// Reset clears the counters back to the default summary.
func (s *SummaryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(SummaryNamespace); err != nil {
		fail(SummaryNamespace, "reset", &kv.StorageError{Namespace: SummaryNamespace, Op: "delete", Err: err})
	}
}

func (s *SummaryStore) load() Summary {
	var stored Summary
	ok, err := kv.LoadJSON(s.kv, SummaryNamespace, &stored)
	if err != nil {
		fail(SummaryNamespace, "read", err)
		return defaultSummary()
	}
	if !ok {
		return defaultSummary()
	}
	if stored.AverageAccuracy == 0 {
		stored.AverageAccuracy = DefaultAccuracy
	}
	return stored
}

func defaultSummary() Summary {
	return Summary{AverageAccuracy: DefaultAccuracy}
}
