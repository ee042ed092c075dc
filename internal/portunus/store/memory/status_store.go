package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
)

type statusRow struct {
	unit string
	rec  store.StatusRecord
}

// StatusStore appends outcomes and updates snapshots in the paired UnitStore.
type StatusStore struct {
	units *UnitStore

	mu   sync.Mutex
	rows []statusRow
}

func NewStatusStore(units *UnitStore) *StatusStore {
	return &StatusStore{units: units}
}

func (s *StatusStore) RecordStatus(_ context.Context, unitName string, rec store.StatusRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if err := s.units.apply(unitName, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, statusRow{unit: unitName, rec: rec})
	return nil
}

func (s *StatusStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, r := range s.rows {
		if !r.rec.RecordedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	deleted := int64(len(s.rows) - len(kept))
	s.rows = kept
	return deleted, nil
}

// Records returns the stored outcomes of one unit. Test-only helper.
func (s *StatusStore) Records(unitName string) []store.StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.StatusRecord
	for _, r := range s.rows {
		if r.unit == unitName {
			out = append(out, r.rec)
		}
	}
	return out
}
