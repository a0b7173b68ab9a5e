package webhook

import (
	"sync"
	"time"
)

// Stats aggregates delivery outcomes. Register Record with Engine.OnDelivery.
type Stats struct {
	mu       sync.RWMutex
	snapshot StatsSnapshot
}

type StatsSnapshot struct {
	Delivered   int              `json:"delivered"`
	Failed      int              `json:"failed"`
	ByEvent     map[string]int   `json:"by_event"`
	LastFailure *FailureSnapshot `json:"last_failure,omitempty"`
}

type FailureSnapshot struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	URL       string    `json:"url"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

func NewStats() *Stats {
	return &Stats{snapshot: StatsSnapshot{ByEvent: make(map[string]int)}}
}

func (s *Stats) Record(entry DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.ByEvent[string(entry.EventType)]++
	if entry.Status == DeliverySuccess {
		s.snapshot.Delivered++
		return
	}
	s.snapshot.Failed++
	s.snapshot.LastFailure = &FailureSnapshot{
		EventID:   entry.EventID,
		EventType: string(entry.EventType),
		URL:       entry.URL,
		Attempts:  entry.AttemptCount,
		Error:     entry.LastError,
		At:        time.Now().UTC(),
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snapshot
	out.ByEvent = make(map[string]int, len(s.snapshot.ByEvent))
	for k, v := range s.snapshot.ByEvent {
		out.ByEvent[k] = v
	}
	if s.snapshot.LastFailure != nil {
		failure := *s.snapshot.LastFailure
		out.LastFailure = &failure
	}
	return out
}
