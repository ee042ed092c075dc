package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/linkserver/internal/db"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
)

type EventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(db *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{db: db, writer: writer}
}

// AppendEvents inserts one drain's entries in a single transaction.
func (s *EventStore) AppendEvents(ctx context.Context, unitName string, entries []link.LogEntry, drainedAt time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	if drainedAt.IsZero() {
		drainedAt = time.Now().UTC()
	}
	drainedMs := drainedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getUnit(ctx, tx, unitName); err != nil {
			return fmt.Errorf("AppendEvents: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO unit_events(
  unit_name, event_code, event_name, card_id, occurred_at_ms, elapsed_s, drained_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`)
		if err != nil {
			return fmt.Errorf("AppendEvents prepare: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx,
				unitName, int(e.Event), e.Event.String(), e.Card.String(),
				e.At.UTC().UnixMilli(), e.ElapsedSeconds, drainedMs,
			); err != nil {
				return fmt.Errorf("AppendEvents insert: %w", err)
			}
		}
		return nil
	})
}

func (s *EventStore) ListEvents(ctx context.Context, unitName string, limit int) ([]store.EventRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_code, card_id, occurred_at_ms, elapsed_s, drained_at_ms
FROM (
  SELECT id, event_code, card_id, occurred_at_ms, elapsed_s, drained_at_ms
  FROM unit_events
  WHERE unit_name = ?
  ORDER BY id DESC
  LIMIT ?
)
ORDER BY id ASC;
`, unitName, limit)
	if err != nil {
		return nil, fmt.Errorf("ListEvents query: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var (
			code            int
			card            string
			atMs, drainedMs int64
			elapsed         uint32
		)
		if err := rows.Scan(&code, &card, &atMs, &elapsed, &drainedMs); err != nil {
			return nil, fmt.Errorf("ListEvents scan: %w", err)
		}
		id, err := link.ParseCardID(card)
		if err != nil {
			return nil, fmt.Errorf("ListEvents card: %w", err)
		}
		out = append(out, store.EventRecord{
			Unit: unitName,
			Entry: link.LogEntry{
				Event:          link.EventCode(code),
				Card:           id,
				At:             time.UnixMilli(atMs).UTC(),
				ElapsedSeconds: elapsed,
			},
			DrainedAt: time.UnixMilli(drainedMs).UTC(),
		})
	}
	return out, rows.Err()
}
