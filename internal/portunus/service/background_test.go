package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store/memory"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio/sim"
)

// ── StatusPruner ─────────────────────────────────────────────────────────────

func seedStatuses(t *testing.T, now time.Time) *memory.StatusStore {
	t.Helper()
	ctx := context.Background()
	units := memory.NewUnitStore()
	if err := units.RegisterUnit(ctx, planeur, now); err != nil {
		t.Fatalf("RegisterUnit: %v", err)
	}
	statuses := memory.NewStatusStore(units)
	for _, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		rec := store.StatusRecord{
			RecordedAt: now.Add(-age),
			Result:     link.ExchangeResult{Opcode: link.OpCheck, LinkOK: true, ReplyOK: true, UnitOK: true},
		}
		if err := statuses.RecordStatus(ctx, planeur.Name, rec); err != nil {
			t.Fatalf("RecordStatus: %v", err)
		}
	}
	return statuses
}

func TestStatusPruner_PrunesOnStart(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	statuses := seedStatuses(t, now)

	p := NewStatusPruner(statuses, PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
		Now:           func() time.Time { return now },
	}, zerolog.Nop())
	p.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(statuses.Records(planeur.Name)) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 record after prune, got %d", len(statuses.Records(planeur.Name)))
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()
	p.Stop()
}

func TestStatusPruner_DisabledKeepsEverything(t *testing.T) {
	now := time.Now().UTC()
	statuses := seedStatuses(t, now)

	p := NewStatusPruner(statuses, PrunerConfig{RetentionDays: 0}, zerolog.Nop())
	p.Start(context.Background())
	p.Stop()

	if n := len(statuses.Records(planeur.Name)); n != 3 {
		t.Errorf("disabled pruner deleted records: %d left", n)
	}
}

func TestStatusPruner_StopsWithContext(t *testing.T) {
	statuses := seedStatuses(t, time.Now().UTC())
	ctx, cancel := context.WithCancel(context.Background())

	p := NewStatusPruner(statuses, PrunerConfig{RetentionDays: 1}, zerolog.Nop())
	p.Start(ctx)
	cancel()

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not exit on context cancel")
	}
}

// ── LogScheduler ─────────────────────────────────────────────────────────────

func TestLogScheduler_DrainsOnInterval(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)
	f.tour.QueueEvent(link.EventUnauthorized, link.CardID{9, 9, 9, 9}, 5)

	l := NewLogScheduler(f.svc, 5*time.Millisecond, zerolog.Nop())
	l.Start(context.Background())
	defer l.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := f.events.ListEvents(context.Background(), tour.Name, 0)
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(got) == 1 {
			if got[0].Entry.Event != link.EventUnauthorized {
				t.Errorf("unexpected event %v", got[0].Entry.Event)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduled drain never persisted the queued event")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogScheduler_Disabled(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)
	f.planeur.QueueEvent(link.EventActivate, link.CardID{1, 2, 3, 4}, 0)

	l := NewLogScheduler(f.svc, 0, zerolog.Nop())
	l.Start(context.Background())
	l.Stop()

	if f.planeur.Transmits() != 0 {
		t.Error("disabled scheduler reached the radio")
	}
}
