package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/linkserver/internal/db"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
)

type UnitStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewUnitStore(db *sql.DB, writer *dbpkg.Worker) *UnitStore {
	return &UnitStore{db: db, writer: writer}
}

// RegisterUnit upserts the configured identity of a unit. The last-known
// snapshot columns are left untouched on conflict.
func (s *UnitStore) RegisterUnit(ctx context.Context, u link.RemoteUnit, t time.Time) error {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO units(name, unit_id, channel, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  unit_id = excluded.unit_id,
  channel = excluded.channel,
  updated_at_ms = excluded.updated_at_ms;
`, u.Name, u.ID, u.Channel, ms, ms); err != nil {
			return fmt.Errorf("RegisterUnit %s: %w", u.Name, err)
		}
		return nil
	})
}

func (s *UnitStore) GetUnit(ctx context.Context, name string) (store.UnitRecord, error) {
	return getUnit(ctx, s.db, name)
}

func (s *UnitStore) ListUnits(ctx context.Context) ([]store.UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+unitColumns+` FROM units ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("ListUnits query: %w", err)
	}
	defer rows.Close()

	var out []store.UnitRecord
	for rows.Next() {
		r, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("ListUnits scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── row mapping ─────────────────────────────────────────────────────────────

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const unitColumns = `name, unit_id, channel, last_seen_at_ms, last_opcode, last_condition,
  last_unit_ok, mode, mem_capacity, mem_used, mem_checked_at_ms`

func getUnit(ctx context.Context, q queryer, name string) (store.UnitRecord, error) {
	r, err := scanUnit(q.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE name = ?;`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return store.UnitRecord{}, fmt.Errorf("%w: %q", store.ErrUnknownUnit, name)
	}
	if err != nil {
		return store.UnitRecord{}, fmt.Errorf("GetUnit %s: %w", name, err)
	}
	return r, nil
}

func scanUnit(sc scanner) (store.UnitRecord, error) {
	var (
		r                       store.UnitRecord
		lastSeen, memCheckedAt  sql.NullInt64
		opcode, condition, mode sql.NullString
		unitOK                  sql.NullInt64
		memCapacity, memUsed    sql.NullInt64
	)
	if err := sc.Scan(&r.Unit.Name, &r.Unit.ID, &r.Unit.Channel, &lastSeen, &opcode, &condition,
		&unitOK, &mode, &memCapacity, &memUsed, &memCheckedAt); err != nil {
		return store.UnitRecord{}, err
	}
	r.LastSeen = fromMs(lastSeen)
	r.LastOpcode = opcode.String
	r.LastCondition = condition.String
	r.LastUnitOK = unitOK.Valid && unitOK.Int64 == 1
	r.Mode = mode.String
	if memCapacity.Valid && memUsed.Valid {
		r.Memory = &link.Memory{Capacity: int(memCapacity.Int64), Used: int(memUsed.Int64)}
	}
	r.MemoryCheckedAt = fromMs(memCheckedAt)
	return r, nil
}

func fromMs(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func toMs(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
