package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogScheduler drains the logs of every unit on a fixed interval so access
// events do not pile up against unit memory. An interval of 0 disables it.
type LogScheduler struct {
	svc      *CommutatorService
	interval time.Duration
	log      zerolog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewLogScheduler(svc *CommutatorService, interval time.Duration, log zerolog.Logger) *LogScheduler {
	return &LogScheduler{
		svc:      svc,
		interval: interval,
		log:      log.With().Str("component", "log_scheduler").Logger(),
		done:     make(chan struct{}),
	}
}

func (l *LogScheduler) Start(ctx context.Context) {
	if l.interval <= 0 {
		l.log.Info().Msg("log scheduler disabled (interval=0)")
		close(l.done)
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	go l.loop(ctx)

	l.log.Info().Dur("interval", l.interval).Msg("log scheduler started")
}

// Stop signals the scheduler to exit and waits for an in-flight drain.
func (l *LogScheduler) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
	})
	<-l.done
}

func (l *LogScheduler) loop(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drain(ctx)
		}
	}
}

func (l *LogScheduler) drain(ctx context.Context) {
	results, err := l.svc.DumpLog(ctx, AllUnits)
	if err != nil {
		l.log.Error().Err(err).Msg("scheduled log drain")
	}
	total, incomplete := 0, 0
	for _, r := range results {
		total += len(r.Drain.Entries)
		if !r.Drain.Complete {
			incomplete++
		}
	}
	l.log.Info().Int("entries", total).Int("incomplete_units", incomplete).Msg("scheduled log drain")
}
