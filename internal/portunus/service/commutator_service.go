package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio"
)

var (
	ErrUnsupportedOp = errors.New("operation is not a single command")
	ErrNoTable       = errors.New("no access table for unit")
)

var singleCommands = map[link.Opcode]func(*link.Session, context.Context) link.ExchangeResult{
	link.OpCheck:            (*link.Session).Check,
	link.OpAuto:             (*link.Session).Auto,
	link.OpEnable:           (*link.Session).Enable,
	link.OpDisable:          (*link.Session).Disable,
	link.OpSingleActivation: (*link.Session).SingleActivation,
	link.OpDoubleActivation: (*link.Session).DoubleActivation,
	link.OpClearMemory:      (*link.Session).ClearMemory,
}

// IsSingleCommand reports whether op can be sent through Command.
func IsSingleCommand(op link.Opcode) bool {
	_, ok := singleCommands[op]
	return ok
}

// TableSource supplies the access table to push to a unit.
type TableSource interface {
	For(unit string) ([]link.AccessTableEntry, error)
}

// StaticTable pushes the same entries to every addressed unit.
type StaticTable []link.AccessTableEntry

func (t StaticTable) For(string) ([]link.AccessTableEntry, error) { return t, nil }

// UnitResult is the outcome of a single command on one unit.
type UnitResult struct {
	Unit   link.RemoteUnit
	Result link.ExchangeResult
}

// MemoryResult carries the unit's occupancy. Memory is zero unless
// Result.UnitOK is set.
type MemoryResult struct {
	Unit   link.RemoteUnit
	Memory link.Memory
	Result link.ExchangeResult
	// NearFull is set when usage reached the configured warning ratio.
	NearFull bool
}

// DrainResult holds the entries drained from one unit.
type DrainResult struct {
	Unit  link.RemoteUnit
	Drain link.LogDrain
}

// UpdateResult is the outcome of pushing one unit's table.
type UpdateResult struct {
	Unit   link.RemoteUnit
	Update link.TableUpdate
}

// EventsResult holds the stored events of one unit, oldest first.
type EventsResult struct {
	Unit   link.RemoteUnit
	Events []store.EventRecord
}

type Config struct {
	// MemoryWarnRatio flags units whose used/capacity reaches it. 0 disables.
	MemoryWarnRatio float64
	LinkOptions     []link.Option
	LinkMetrics     *link.Metrics
	Metrics         *Metrics
	Logger          zerolog.Logger
	Now             func() time.Time
}

// CommutatorService runs link operations against configured units and
// persists their outcomes. The radio is half-duplex and shared by every
// unit, so all operations are serialized on one mutex.
type CommutatorService struct {
	mu       sync.Mutex
	sessions map[string]*link.Session

	registry *UnitRegistry
	statuses store.StatusStore
	events   store.EventStore

	warnRatio float64
	metrics   *Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewCommutatorService(
	tr radio.Transceiver,
	reg *UnitRegistry,
	statuses store.StatusStore,
	events store.EventStore,
	cfg Config,
) (*CommutatorService, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger.With().Str("component", "commutator_service").Logger()

	opts := append([]link.Option{
		link.WithLogger(cfg.Logger),
		link.WithMetrics(cfg.LinkMetrics),
		link.WithClock(cfg.Now),
	}, cfg.LinkOptions...)

	sessions := make(map[string]*link.Session)
	for _, u := range reg.Units() {
		s, err := link.NewSession(tr, u, opts...)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", u.Name, err)
		}
		sessions[u.Name] = s
	}

	return &CommutatorService{
		sessions:  sessions,
		registry:  reg,
		statuses:  statuses,
		events:    events,
		warnRatio: cfg.MemoryWarnRatio,
		metrics:   cfg.Metrics,
		log:       log,
		now:       cfg.Now,
	}, nil
}

func (s *CommutatorService) Registry() *UnitRegistry { return s.registry }

// Command sends one single-command opcode to the named unit or to all.
func (s *CommutatorService) Command(ctx context.Context, name string, op link.Opcode) ([]UnitResult, error) {
	run, ok := singleCommands[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, op)
	}
	units, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UnitResult, 0, len(units))
	for _, u := range units {
		res := run(s.sessions[u.Name], ctx)
		s.record(ctx, u, op.String(), store.StatusRecord{Result: res})
		out = append(out, UnitResult{Unit: u, Result: res})
	}
	return out, nil
}

// CheckMemory reads table occupancy and flags units near capacity.
func (s *CommutatorService) CheckMemory(ctx context.Context, name string) ([]MemoryResult, error) {
	units, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MemoryResult, 0, len(units))
	for _, u := range units {
		mem, res := s.sessions[u.Name].CheckMemory(ctx)
		rec := store.StatusRecord{Result: res}
		mr := MemoryResult{Unit: u, Memory: mem, Result: res}
		if res.ReplyOK && res.UnitOK {
			rec.Memory = &mem
			mr.NearFull = s.checkUsage(u, mem)
		}
		s.record(ctx, u, link.OpCheckMemory.String(), rec)
		out = append(out, mr)
	}
	return out, nil
}

// DumpLog drains the event log of the named unit or of all units and
// persists every entry read, including those of an aborted or cancelled
// drain. A persistence failure is returned alongside the results since the
// unit has already erased those entries.
func (s *CommutatorService) DumpLog(ctx context.Context, name string) ([]DrainResult, error) {
	units, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	out := make([]DrainResult, 0, len(units))
	for _, u := range units {
		drain := s.sessions[u.Name].DumpLogging(ctx)
		drainedAt := s.now().UTC()

		if len(drain.Entries) > 0 {
			if err := s.events.AppendEvents(persistContext(ctx), u.Name, drain.Entries, drainedAt); err != nil {
				s.log.Error().Err(err).Str("unit", u.Name).Int("entries", len(drain.Entries)).Msg("persist drained events")
				errs = append(errs, fmt.Errorf("unit %s: %w", u.Name, err))
			}
		}

		outcome := outcomeOf(drain.Last)
		if drain.Complete {
			outcome = "ok"
		}
		s.metrics.observe(link.OpDumpLog.String(), outcome)
		s.saveStatus(ctx, u, store.StatusRecord{RecordedAt: drainedAt, Result: drain.Last})

		out = append(out, DrainResult{Unit: u, Drain: drain})
	}
	return out, errors.Join(errs...)
}

// UpdateTable pushes each addressed unit's table from src. Every table is
// resolved and size-checked before the first frame is sent.
func (s *CommutatorService) UpdateTable(ctx context.Context, name string, src TableSource) ([]UpdateResult, error) {
	units, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	tables := make([][]link.AccessTableEntry, len(units))
	for i, u := range units {
		t, err := src.For(u.Name)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrNoTable, u.Name, err)
		}
		if len(t) > link.MaxTableLen {
			return nil, fmt.Errorf("unit %s: %w", u.Name, link.ErrTableTooLarge)
		}
		tables[i] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UpdateResult, 0, len(units))
	for i, u := range units {
		up, err := s.sessions[u.Name].UpdateTable(ctx, tables[i])
		if err != nil {
			return out, err
		}

		outcome := outcomeOf(up.Last)
		switch {
		case up.Complete:
			outcome = "ok"
		case up.MemoryFull:
			outcome = "memory_full"
			s.log.Warn().
				Str("unit", u.Name).
				Int("sent", up.EntriesSent).
				Int("table_len", len(tables[i])).
				Msg("unit memory full, table truncated")
		}
		s.metrics.observe("update_table", outcome)
		if len(tables[i]) > 0 {
			s.saveStatus(ctx, u, store.StatusRecord{Result: up.Last, AddedCards: up.NewCards})
		}

		out = append(out, UpdateResult{Unit: u, Update: up})
	}
	return out, nil
}

// Events returns up to limit of the newest stored events of the named unit
// or of all units. It reads the store only and never waits on the radio.
func (s *CommutatorService) Events(ctx context.Context, name string, limit int) ([]EventsResult, error) {
	units, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	out := make([]EventsResult, 0, len(units))
	for _, u := range units {
		events, err := s.events.ListEvents(ctx, u.Name, limit)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}
		out = append(out, EventsResult{Unit: u, Events: events})
	}
	return out, nil
}

func (s *CommutatorService) checkUsage(u link.RemoteUnit, mem link.Memory) bool {
	ratio := mem.UsedRatio()
	s.metrics.observeMemory(u.Name, ratio)
	if s.warnRatio <= 0 || ratio < s.warnRatio {
		return false
	}
	s.log.Warn().
		Str("unit", u.Name).
		Int("capacity", mem.Capacity).
		Int("used", mem.Used).
		Float64("ratio", ratio).
		Msg("unit memory nearly full")
	return true
}

func (s *CommutatorService) record(ctx context.Context, u link.RemoteUnit, op string, rec store.StatusRecord) {
	s.metrics.observe(op, outcomeOf(rec.Result))
	s.saveStatus(ctx, u, rec)
}

// saveStatus persists an outcome. A failed write is logged and swallowed:
// the radio operation has already happened and its result must still reach
// the caller.
func (s *CommutatorService) saveStatus(ctx context.Context, u link.RemoteUnit, rec store.StatusRecord) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now().UTC()
	}
	if err := s.statuses.RecordStatus(persistContext(ctx), u.Name, rec); err != nil {
		s.log.Error().Err(err).Str("unit", u.Name).Str("opcode", rec.Result.Opcode.String()).Msg("record status")
	}
}

// persistContext detaches store writes from the caller's cancellation. Once
// a unit has erased a drained entry it exists nowhere else.
func persistContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func outcomeOf(r link.ExchangeResult) string {
	switch {
	case r.UnitOK:
		return "ok"
	case r.ReplyOK:
		return "fault"
	default:
		return r.Condition.String()
	}
}
