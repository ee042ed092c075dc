package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
)

// EventRecord is one drained log entry as stored.
type EventRecord struct {
	Unit      string
	Entry     link.LogEntry
	DrainedAt time.Time
}

// EventStore persists drained unit logs as an append-only audit trail.
type EventStore interface {
	AppendEvents(ctx context.Context, unitName string, entries []link.LogEntry, drainedAt time.Time) error
	// ListEvents returns the newest limit events of a unit, oldest first.
	ListEvents(ctx context.Context, unitName string, limit int) ([]EventRecord, error)
}
