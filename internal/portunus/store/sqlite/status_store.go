package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/linkserver/internal/db"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
)

type StatusStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewStatusStore(db *sql.DB, writer *dbpkg.Worker) *StatusStore {
	return &StatusStore{db: db, writer: writer}
}

func (s *StatusStore) RecordStatus(ctx context.Context, unitName string, rec store.StatusRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	recMs := rec.RecordedAt.UTC().UnixMilli()
	res := rec.Result

	var memCapacity, memUsed any
	if rec.Memory != nil {
		memCapacity, memUsed = rec.Memory.Capacity, rec.Memory.Used
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		snap, err := getUnit(ctx, tx, unitName)
		if err != nil {
			return fmt.Errorf("RecordStatus: %w", err)
		}

		// Append outcome (append-only history)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO unit_status(
  unit_name, recorded_at_ms, opcode, condition,
  link_ok, reply_ok, unit_ok, attempts, mem_capacity, mem_used
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, unitName, recMs, res.Opcode.String(), res.Condition.String(),
			boolInt(res.LinkOK), boolInt(res.ReplyOK), boolInt(res.UnitOK), res.Attempts,
			memCapacity, memUsed); err != nil {
			return fmt.Errorf("RecordStatus insert status: %w", err)
		}

		// Fold into the last-known snapshot
		snap.Apply(rec)
		var snapCapacity, snapUsed any
		if snap.Memory != nil {
			snapCapacity, snapUsed = snap.Memory.Capacity, snap.Memory.Used
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE units
SET last_seen_at_ms = ?,
    last_opcode = ?,
    last_condition = ?,
    last_unit_ok = ?,
    mode = ?,
    mem_capacity = ?,
    mem_used = ?,
    mem_checked_at_ms = ?,
    updated_at_ms = ?
WHERE name = ?;
`, toMs(snap.LastSeen), snap.LastOpcode, snap.LastCondition, boolInt(snap.LastUnitOK),
			nullString(snap.Mode), snapCapacity, snapUsed, toMs(snap.MemoryCheckedAt),
			recMs, unitName); err != nil {
			return fmt.Errorf("RecordStatus update snapshot: %w", err)
		}
		return nil
	})
}

// PruneOlderThan deletes status rows recorded before cutoff and returns the
// number deleted. Snapshots in units are kept.
func (s *StatusStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM unit_status
WHERE recorded_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
