package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
)

// StatusPruner periodically deletes status history older than a retention
// period. Unit snapshots are not affected. A retention of 0 disables it.
type StatusPruner struct {
	store     store.StatusStore
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// PrunerConfig holds the parameters for NewStatusPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of status history to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int

	Now func() time.Time
}

// NewStatusPruner creates a pruner but does not start it.
func NewStatusPruner(s store.StatusStore, cfg PrunerConfig, log zerolog.Logger) *StatusPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &StatusPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		log:       log.With().Str("component", "status_pruner").Logger(),
		now:       now,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the interval until ctx is
// cancelled or Stop is called.
func (p *StatusPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.log.Info().Msg("status pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.log.Info().
		Int("retention_days", int(p.retention.Hours()/24)).
		Dur("interval", p.interval).
		Msg("status pruner started")
}

// Stop signals the pruner to exit and waits for it. Safe to call twice.
func (p *StatusPruner) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	<-p.done
}

func (p *StatusPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *StatusPruner) prune(ctx context.Context) {
	cutoff := p.now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.log.Error().Err(err).Msg("status prune")
		return
	}
	if deleted > 0 {
		p.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("status prune")
	}
}
