package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
)

// StatusRecord is the outcome of one operation against a unit.
type StatusRecord struct {
	RecordedAt time.Time
	Result     link.ExchangeResult
	Memory     *link.Memory // set by check-memory

	// AddedCards is the number of cards an update_table stored on the unit,
	// including those accepted before an aborted row.
	AddedCards int
}

// StatusStore keeps an append-only history of operation outcomes and folds
// each one into the unit's last-known snapshot.
type StatusStore interface {
	RecordStatus(ctx context.Context, unitName string, rec StatusRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
