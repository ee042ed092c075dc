package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
)

// EventStore is an in-memory append-only log of drained events.
type EventStore struct {
	units *UnitStore

	mu     sync.Mutex
	events []store.EventRecord
}

func NewEventStore(units *UnitStore) *EventStore {
	return &EventStore{units: units}
}

func (s *EventStore) AppendEvents(ctx context.Context, unitName string, entries []link.LogEntry, drainedAt time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := s.units.GetUnit(ctx, unitName); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.events = append(s.events, store.EventRecord{Unit: unitName, Entry: e, DrainedAt: drainedAt})
	}
	return nil
}

func (s *EventStore) ListEvents(_ context.Context, unitName string, limit int) ([]store.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.EventRecord
	for _, e := range s.events {
		if e.Unit == unitName {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
