// Package stats keeps running counters of abuse guard decisions for the admin
// surface. Recording is best effort and never feeds back into the guard.
package stats

import (
	"context"
	"sync"
	"time"
)

type Event struct {
	UserID  string
	Outcome string
	At      time.Time
}

// Totals maps an outcome name to the number of times it was recorded.
type Totals map[string]int64

type Store interface {
	Record(ctx context.Context, ev Event) error
	Totals(ctx context.Context) (Totals, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	totals Totals
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{totals: make(Totals)}
}

func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[ev.Outcome]++
	return nil
}

func (s *MemoryStore) Totals(_ context.Context) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(Totals, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out, nil
}
