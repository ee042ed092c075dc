package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
)

var ErrUnknownUnit = errors.New("unknown unit")

// UnitRecord is a registered unit and its last-known state.
type UnitRecord struct {
	Unit link.RemoteUnit

	// LastSeen is the last time the unit answered with a decodable reply.
	LastSeen      time.Time
	LastOpcode    string
	LastCondition string
	LastUnitOK    bool
	Mode          string

	Memory          *link.Memory
	MemoryCheckedAt time.Time
}

type UnitStore interface {
	// RegisterUnit inserts or refreshes the unit's configured id and channel.
	RegisterUnit(ctx context.Context, u link.RemoteUnit, t time.Time) error
	GetUnit(ctx context.Context, name string) (UnitRecord, error)
	ListUnits(ctx context.Context) ([]UnitRecord, error)
}

// Apply folds one operation outcome into the snapshot.
func (r *UnitRecord) Apply(rec StatusRecord) {
	res := rec.Result
	r.LastOpcode = res.Opcode.String()
	r.LastCondition = res.Condition.String()
	r.LastUnitOK = res.UnitOK
	if res.LinkOK && res.ReplyOK {
		r.LastSeen = rec.RecordedAt
	}
	if rec.AddedCards > 0 && r.Memory != nil {
		m := *r.Memory
		m.Used = min(m.Used+rec.AddedCards, m.Capacity)
		r.Memory = &m
	}
	if !res.UnitOK {
		return
	}

	switch {
	case res.Opcode.IsMode():
		r.Mode = res.Opcode.String()
	case rec.Memory != nil:
		m := *rec.Memory
		r.Memory = &m
		r.MemoryCheckedAt = rec.RecordedAt
	case res.Opcode == link.OpClearMemory && r.Memory != nil:
		r.Memory = &link.Memory{Capacity: r.Memory.Capacity}
		r.MemoryCheckedAt = rec.RecordedAt
	}
}
