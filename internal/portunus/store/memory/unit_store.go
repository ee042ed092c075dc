package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
)

// UnitStore keeps unit snapshots in a map. It is intended for tests and
// the --simulate CLI mode.
type UnitStore struct {
	mu    sync.RWMutex
	units map[string]*store.UnitRecord
}

func NewUnitStore() *UnitStore {
	return &UnitStore{units: make(map[string]*store.UnitRecord)}
}

func (s *UnitStore) RegisterUnit(_ context.Context, u link.RemoteUnit, _ time.Time) error {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.units[u.Name]; ok {
		r.Unit = u
		return nil
	}
	s.units[u.Name] = &store.UnitRecord{Unit: u}
	return nil
}

func (s *UnitStore) GetUnit(_ context.Context, name string) (store.UnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.units[name]
	if !ok {
		return store.UnitRecord{}, fmt.Errorf("%w: %q", store.ErrUnknownUnit, name)
	}
	return copyRecord(r), nil
}

func (s *UnitStore) ListUnits(_ context.Context) ([]store.UnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.UnitRecord, 0, len(s.units))
	for _, r := range s.units {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit.Name < out[j].Unit.Name })
	return out, nil
}

func (s *UnitStore) apply(name string, rec store.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.units[name]
	if !ok {
		return fmt.Errorf("%w: %q", store.ErrUnknownUnit, name)
	}
	r.Apply(rec)
	return nil
}

func copyRecord(r *store.UnitRecord) store.UnitRecord {
	out := *r
	if r.Memory != nil {
		m := *r.Memory
		out.Memory = &m
	}
	return out
}
