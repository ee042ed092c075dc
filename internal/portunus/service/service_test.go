package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store/memory"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio/sim"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	planeur = link.RemoteUnit{ID: 10, Name: "Planeur", Channel: 80}
	tour    = link.RemoteUnit{ID: 8, Name: "Tour", Channel: 78}
)

type fixture struct {
	svc      *CommutatorService
	units    *memory.UnitStore
	statuses *memory.StatusStore
	events   *memory.EventStore
	metrics  *Metrics
	planeur  *sim.Unit
	tour     *sim.Unit
}

// newFixture wires a service over a simulated radio hosting Planeur and Tour.
func newFixture(t *testing.T, planeurFaults, tourFaults sim.Faults, capacity int) *fixture {
	t.Helper()

	f := &fixture{
		units:   memory.NewUnitStore(),
		planeur: sim.NewUnit(planeur.Channel, capacity, planeurFaults),
		tour:    sim.NewUnit(tour.Channel, capacity, tourFaults),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.statuses = memory.NewStatusStore(f.units)
	f.events = memory.NewEventStore(f.units)

	reg, err := NewUnitRegistry(f.units, []link.RemoteUnit{planeur, tour})
	if err != nil {
		t.Fatalf("NewUnitRegistry: %v", err)
	}
	if err := reg.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	f.svc, err = NewCommutatorService(sim.NewRadio(f.planeur, f.tour), reg, f.statuses, f.events, Config{
		MemoryWarnRatio: 0.9,
		Metrics:         f.metrics,
		Logger:          zerolog.Nop(),
		LinkOptions: []link.Option{
			link.WithSleeper(func(time.Duration) {}),
			link.WithReplyWait(10, 0),
			link.WithExchangeRetry(3, 0),
		},
	})
	if err != nil {
		t.Fatalf("NewCommutatorService: %v", err)
	}
	return f
}

func (f *fixture) metricsCounter(op, outcome string) prometheus.Counter {
	return f.metrics.operations.WithLabelValues(op, outcome)
}

func snapshot(t *testing.T, f *fixture, name string) store.UnitRecord {
	t.Helper()
	r, err := f.units.GetUnit(context.Background(), name)
	if err != nil {
		t.Fatalf("GetUnit %s: %v", name, err)
	}
	return r
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestUnitRegistry_Resolve(t *testing.T) {
	reg, err := NewUnitRegistry(memory.NewUnitStore(), []link.RemoteUnit{planeur, tour})
	if err != nil {
		t.Fatalf("NewUnitRegistry: %v", err)
	}

	all, err := reg.Resolve("all")
	if err != nil {
		t.Fatalf("Resolve all: %v", err)
	}
	if len(all) != 2 || all[0].Name != "Planeur" || all[1].Name != "Tour" {
		t.Errorf("expected configuration order, got %+v", all)
	}

	one, err := reg.Resolve(" Tour ")
	if err != nil || len(one) != 1 || one[0] != tour {
		t.Errorf("Resolve Tour: got %+v, %v", one, err)
	}

	if _, err := reg.Resolve("Scie"); !errors.Is(err, store.ErrUnknownUnit) {
		t.Errorf("expected ErrUnknownUnit, got %v", err)
	}

	_, err = NewUnitRegistry(memory.NewUnitStore(), []link.RemoteUnit{planeur, planeur})
	if !errors.Is(err, link.ErrInvalidUnit) {
		t.Errorf("expected ErrInvalidUnit for duplicate, got %v", err)
	}
}

// ── Command ──────────────────────────────────────────────────────────────────

func TestCommand_AllUnitsUpdatesSnapshots(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)

	results, err := f.svc.Command(context.Background(), AllUnits, link.OpEnable)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Result.UnitOK {
			t.Errorf("%s: expected UnitOK, got %+v", r.Unit.Name, r.Result)
		}
	}

	if f.planeur.Mode() != link.OpEnable || f.tour.Mode() != link.OpEnable {
		t.Errorf("expected both units enabled, got %v / %v", f.planeur.Mode(), f.tour.Mode())
	}
	if got := snapshot(t, f, "Planeur").Mode; got != "enable" {
		t.Errorf("expected snapshot mode enable, got %q", got)
	}
	if n := len(f.statuses.Records("Tour")); n != 1 {
		t.Errorf("expected 1 status record for Tour, got %d", n)
	}
	if got := testutil.ToFloat64(f.metricsCounter("enable", "ok")); got != 2 {
		t.Errorf("expected 2 ok enables, got %v", got)
	}
}

func TestCommand_OneUnitDownDoesNotAffectOther(t *testing.T) {
	f := newFixture(t, sim.Faults{LinkDown: true}, sim.Faults{}, 10)

	results, err := f.svc.Command(context.Background(), AllUnits, link.OpCheck)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}

	if results[0].Result.LinkOK || results[0].Result.Condition != link.CondLinkDown {
		t.Errorf("expected Planeur link down, got %+v", results[0].Result)
	}
	if results[0].Result.Attempts != 3 || f.planeur.Transmits() != 3 {
		t.Errorf("expected 3 attempts, got %d (%d transmits)", results[0].Result.Attempts, f.planeur.Transmits())
	}
	if !results[1].Result.UnitOK {
		t.Errorf("expected Tour ok, got %+v", results[1].Result)
	}

	if s := snapshot(t, f, "Planeur"); !s.LastSeen.IsZero() || s.LastCondition != "link_down" {
		t.Errorf("unexpected Planeur snapshot %+v", s)
	}
	if got := testutil.ToFloat64(f.metricsCounter("check", "link_down")); got != 1 {
		t.Errorf("expected 1 link_down check, got %v", got)
	}
}

func TestCommand_Rejected(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)
	ctx := context.Background()

	if _, err := f.svc.Command(ctx, "Planeur", link.OpDumpLog); !errors.Is(err, ErrUnsupportedOp) {
		t.Errorf("expected ErrUnsupportedOp, got %v", err)
	}
	if _, err := f.svc.Command(ctx, "Scie", link.OpCheck); !errors.Is(err, store.ErrUnknownUnit) {
		t.Errorf("expected ErrUnknownUnit, got %v", err)
	}
	if f.planeur.Transmits()+f.tour.Transmits() != 0 {
		t.Error("rejected commands must not reach the radio")
	}
}

// ── Memory ───────────────────────────────────────────────────────────────────

func TestCheckMemory_FlagsNearFull(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)
	for i := 0; i < 9; i++ {
		f.planeur.LoadCard(link.CardID{0, 0, 0, byte(i)}, true)
	}
	f.tour.LoadCard(link.CardID{1, 2, 3, 4}, true)

	results, err := f.svc.CheckMemory(context.Background(), AllUnits)
	if err != nil {
		t.Fatalf("CheckMemory: %v", err)
	}

	if !results[0].NearFull || results[0].Memory != (link.Memory{Capacity: 10, Used: 9}) {
		t.Errorf("expected Planeur near full at 9/10, got %+v", results[0])
	}
	if results[1].NearFull {
		t.Errorf("Tour at 1/10 must not be near full")
	}
	s := snapshot(t, f, "Planeur")
	if s.Memory == nil || s.Memory.Used != 9 {
		t.Errorf("expected memory snapshot 9 used, got %+v", s.Memory)
	}
}

func TestCheckMemory_FailureLeavesSnapshotEmpty(t *testing.T) {
	f := newFixture(t, sim.Faults{ShortReply: true}, sim.Faults{}, 10)

	results, err := f.svc.CheckMemory(context.Background(), "Planeur")
	if err != nil {
		t.Fatalf("CheckMemory: %v", err)
	}
	if results[0].Result.ReplyOK || results[0].NearFull {
		t.Errorf("expected failed memory check, got %+v", results[0])
	}
	if s := snapshot(t, f, "Planeur"); s.Memory != nil {
		t.Errorf("expected no memory snapshot, got %+v", s.Memory)
	}
}

// ── Log drain ────────────────────────────────────────────────────────────────

func TestDumpLog_PersistsEntries(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)
	f.planeur.QueueEvent(link.EventActivate, link.CardID{0x70, 0x40, 0x84, 0x0B}, 120)
	f.planeur.QueueEvent(link.EventDeactivate, link.CardID{0x70, 0x40, 0x84, 0x0B}, 60)
	ctx := context.Background()

	results, err := f.svc.DumpLog(ctx, "Planeur")
	if err != nil {
		t.Fatalf("DumpLog: %v", err)
	}
	if !results[0].Drain.Complete || len(results[0].Drain.Entries) != 2 {
		t.Fatalf("expected complete drain of 2, got %+v", results[0].Drain)
	}

	stored, err := f.events.ListEvents(ctx, "Planeur", 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(stored) != 2 || stored[0].Entry.Event != link.EventActivate {
		t.Errorf("expected 2 stored events in order, got %+v", stored)
	}
	if f.planeur.PendingEvents() != 0 {
		t.Errorf("expected unit log empty, got %d", f.planeur.PendingEvents())
	}
}

func TestDumpLog_AbortedDrainKeepsReadEntries(t *testing.T) {
	// page, erase, page, then the link drops before the second erase
	f := newFixture(t, sim.Faults{DropAfter: 3}, sim.Faults{}, 10)
	for i := 0; i < 3; i++ {
		f.planeur.QueueEvent(link.EventActivate, link.CardID{0, 0, 0, byte(i)}, 0)
	}
	ctx := context.Background()

	results, err := f.svc.DumpLog(ctx, "Planeur")
	if err != nil {
		t.Fatalf("DumpLog: %v", err)
	}
	if results[0].Drain.Complete {
		t.Fatal("expected incomplete drain")
	}

	stored, _ := f.events.ListEvents(ctx, "Planeur", 0)
	if len(stored) != 2 {
		t.Errorf("expected the 2 read entries persisted, got %d", len(stored))
	}
	if s := snapshot(t, f, "Planeur"); s.LastCondition != "link_down" {
		t.Errorf("expected link_down snapshot, got %q", s.LastCondition)
	}
}

func TestEvents_ReadsTrailWithoutRadio(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{LinkDown: true}, 10)
	for i := uint32(1); i <= 4; i++ {
		f.planeur.QueueEvent(link.EventActivate, link.CardID{0, 0, 0, byte(i)}, i)
	}
	ctx := context.Background()
	if _, err := f.svc.DumpLog(ctx, "Planeur"); err != nil {
		t.Fatalf("DumpLog: %v", err)
	}
	sent := f.planeur.Transmits() + f.tour.Transmits()

	results, err := f.svc.Events(ctx, AllUnits, 3)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(results) != 2 || results[0].Unit != planeur || results[1].Unit != tour {
		t.Fatalf("expected both units in order, got %+v", results)
	}
	got := results[0].Events
	if len(got) != 3 || got[0].Entry.ElapsedSeconds != 2 || got[2].Entry.ElapsedSeconds != 4 {
		t.Errorf("expected the 3 newest events oldest first, got %+v", got)
	}
	if len(results[1].Events) != 0 {
		t.Errorf("expected no events for Tour, got %+v", results[1].Events)
	}
	if n := f.planeur.Transmits() + f.tour.Transmits(); n != sent {
		t.Errorf("Events must not transmit, %d frames sent", n-sent)
	}

	if _, err := f.svc.Events(ctx, "Scie", 10); !errors.Is(err, store.ErrUnknownUnit) {
		t.Errorf("expected ErrUnknownUnit, got %v", err)
	}
}

// ── Table update ─────────────────────────────────────────────────────────────

type tables map[string][]link.AccessTableEntry

func (t tables) For(unit string) ([]link.AccessTableEntry, error) {
	e, ok := t[unit]
	if !ok {
		return nil, errors.New("missing column")
	}
	return e, nil
}

func TestUpdateTable_PerUnitTables(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)
	c1, c2 := link.CardID{1, 1, 1, 1}, link.CardID{2, 2, 2, 2}
	src := tables{
		"Planeur": {{Card: c1, Authorized: true}, {Card: c2, Authorized: false}},
		"Tour":    {{Card: c1, Authorized: false}, {Card: c2, Authorized: true}},
	}

	results, err := f.svc.UpdateTable(context.Background(), AllUnits, src)
	if err != nil {
		t.Fatalf("UpdateTable: %v", err)
	}
	for _, r := range results {
		if !r.Update.Complete || r.Update.NewCards != 2 {
			t.Errorf("%s: expected 2 new cards, got %+v", r.Unit.Name, r.Update)
		}
	}
	if auth, _ := f.planeur.Lookup(c1); !auth {
		t.Error("expected c1 authorized on Planeur")
	}
	if auth, _ := f.tour.Lookup(c1); auth {
		t.Error("expected c1 refused on Tour")
	}
}

func TestUpdateTable_ValidatesBeforeSending(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)
	ctx := context.Background()

	_, err := f.svc.UpdateTable(ctx, AllUnits, tables{"Planeur": nil})
	if !errors.Is(err, ErrNoTable) {
		t.Errorf("expected ErrNoTable, got %v", err)
	}

	big := make(StaticTable, link.MaxTableLen+1)
	if _, err := f.svc.UpdateTable(ctx, "Tour", big); !errors.Is(err, link.ErrTableTooLarge) {
		t.Errorf("expected ErrTableTooLarge, got %v", err)
	}
	if f.planeur.Transmits()+f.tour.Transmits() != 0 {
		t.Error("nothing may be sent when validation fails")
	}
}

func TestUpdateTable_MemoryFull(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 2)
	table := StaticTable{
		{Card: link.CardID{1}}, {Card: link.CardID{2}}, {Card: link.CardID{3}},
	}

	results, err := f.svc.UpdateTable(context.Background(), "Planeur", table)
	if err != nil {
		t.Fatalf("UpdateTable: %v", err)
	}
	up := results[0].Update
	if !up.MemoryFull || up.NewCards != 2 || up.FailedRow != 2 {
		t.Errorf("expected memory full at row 2, got %+v", up)
	}
	if got := testutil.ToFloat64(f.metricsCounter("update_table", "memory_full")); got != 1 {
		t.Errorf("expected memory_full outcome, got %v", got)
	}
}

func TestUpdateTable_RefreshesMemorySnapshot(t *testing.T) {
	f := newFixture(t, sim.Faults{}, sim.Faults{}, 10)
	f.planeur.LoadCard(link.CardID{9, 9, 9, 9}, true)
	ctx := context.Background()
	if _, err := f.svc.CheckMemory(ctx, "Planeur"); err != nil {
		t.Fatalf("CheckMemory: %v", err)
	}

	table := StaticTable{
		{Card: link.CardID{9, 9, 9, 9}, Authorized: false},
		{Card: link.CardID{1}}, {Card: link.CardID{2}}, {Card: link.CardID{3}},
	}
	results, err := f.svc.UpdateTable(ctx, "Planeur", table)
	if err != nil {
		t.Fatalf("UpdateTable: %v", err)
	}
	if up := results[0].Update; !up.Complete || up.NewCards != 3 || up.ModifiedAuth != 1 {
		t.Fatalf("unexpected update %+v", up)
	}

	s := snapshot(t, f, "Planeur")
	if s.Memory == nil || s.Memory.Used != f.planeur.Used() || s.Memory.Used != 4 {
		t.Errorf("expected snapshot to track the unit's 4 cards, got %+v", s.Memory)
	}
}
