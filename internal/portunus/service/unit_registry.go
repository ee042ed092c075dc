package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
)

// AllUnits addresses every configured unit, in configuration order.
const AllUnits = "all"

// UnitRegistry is the set of configured units, mirrored into the UnitStore.
type UnitRegistry struct {
	store  store.UnitStore
	units  []link.RemoteUnit
	byName map[string]link.RemoteUnit
}

func NewUnitRegistry(st store.UnitStore, units []link.RemoteUnit) (*UnitRegistry, error) {
	r := &UnitRegistry{
		store:  st,
		units:  make([]link.RemoteUnit, 0, len(units)),
		byName: make(map[string]link.RemoteUnit, len(units)),
	}
	for _, u := range units {
		if err := u.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[u.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", link.ErrInvalidUnit, u.Name)
		}
		r.units = append(r.units, u)
		r.byName[u.Name] = u
	}
	return r, nil
}

// Sync registers every configured unit in the store.
func (r *UnitRegistry) Sync(ctx context.Context) error {
	now := time.Now().UTC()
	for _, u := range r.units {
		if err := r.store.RegisterUnit(ctx, u, now); err != nil {
			return err
		}
	}
	return nil
}

// Resolve maps a unit name, or AllUnits, to the units it addresses.
func (r *UnitRegistry) Resolve(name string) ([]link.RemoteUnit, error) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, AllUnits) {
		out := make([]link.RemoteUnit, len(r.units))
		copy(out, r.units)
		return out, nil
	}
	u, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownUnit, name)
	}
	return []link.RemoteUnit{u}, nil
}

func (r *UnitRegistry) Units() []link.RemoteUnit {
	out := make([]link.RemoteUnit, len(r.units))
	copy(out, r.units)
	return out
}

// Snapshots returns the stored last-known state of every configured unit.
func (r *UnitRegistry) Snapshots(ctx context.Context) ([]store.UnitRecord, error) {
	out := make([]store.UnitRecord, 0, len(r.units))
	for _, u := range r.units {
		rec, err := r.store.GetUnit(ctx, u.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
