package httpapi

import (
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/service"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/types"
)

// ── Units ────────────────────────────────────────────────────────────────────

func unitViewFromRecord(r store.UnitRecord) types.UnitView {
	v := types.UnitView{
		Name:          r.Unit.Name,
		ID:            r.Unit.ID,
		Channel:       r.Unit.Channel,
		LastSeen:      formatTime(r.LastSeen),
		LastOpcode:    r.LastOpcode,
		LastCondition: r.LastCondition,
		LastUnitOK:    r.LastUnitOK,
		Mode:          r.Mode,
	}
	if r.Memory != nil {
		v.Memory = &types.MemoryView{
			Capacity:  r.Memory.Capacity,
			Used:      r.Memory.Used,
			Ratio:     r.Memory.UsedRatio(),
			CheckedAt: formatTime(r.MemoryCheckedAt),
		}
	}
	return v
}

// ── Exchanges ────────────────────────────────────────────────────────────────

func exchangeView(u link.RemoteUnit, r link.ExchangeResult) types.ExchangeView {
	return types.ExchangeView{
		Unit:      u.Name,
		Opcode:    r.Opcode.String(),
		LinkOK:    r.LinkOK,
		ReplyOK:   r.ReplyOK,
		UnitOK:    r.UnitOK,
		Condition: r.Condition.String(),
		Attempts:  r.Attempts,
	}
}

func commandViews(results []service.UnitResult) []types.ExchangeView {
	out := make([]types.ExchangeView, 0, len(results))
	for _, r := range results {
		out = append(out, exchangeView(r.Unit, r.Result))
	}
	return out
}

func memoryViews(results []service.MemoryResult) []types.MemoryResult {
	out := make([]types.MemoryResult, 0, len(results))
	for _, r := range results {
		out = append(out, types.MemoryResult{
			ExchangeView: exchangeView(r.Unit, r.Result),
			Capacity:     r.Memory.Capacity,
			Used:         r.Memory.Used,
			NearFull:     r.NearFull,
		})
	}
	return out
}

// ── Log drain ────────────────────────────────────────────────────────────────

func drainViews(results []service.DrainResult) []types.DrainView {
	out := make([]types.DrainView, 0, len(results))
	for _, r := range results {
		entries := make([]types.LogEntryView, 0, len(r.Drain.Entries))
		for _, e := range r.Drain.Entries {
			entries = append(entries, logEntryView(e))
		}
		out = append(out, types.DrainView{
			Unit:     r.Unit.Name,
			Complete: r.Drain.Complete,
			Entries:  entries,
			Last:     exchangeView(r.Unit, r.Drain.Last),
		})
	}
	return out
}

func logEntryView(e link.LogEntry) types.LogEntryView {
	return types.LogEntryView{
		Event:          e.Event.String(),
		Code:           uint8(e.Event),
		Card:           e.Card.String(),
		At:             formatTime(e.At),
		ElapsedSeconds: e.ElapsedSeconds,
	}
}

func eventsViews(results []service.EventsResult) []types.UnitEventsView {
	out := make([]types.UnitEventsView, 0, len(results))
	for _, r := range results {
		events := make([]types.StoredEventView, 0, len(r.Events))
		for _, e := range r.Events {
			events = append(events, types.StoredEventView{
				LogEntryView: logEntryView(e.Entry),
				DrainedAt:    formatTime(e.DrainedAt),
			})
		}
		out = append(out, types.UnitEventsView{Unit: r.Unit.Name, Events: events})
	}
	return out
}

// ── Table update ─────────────────────────────────────────────────────────────

func tableFromRequest(req types.UpdateTableRequest) (service.StaticTable, error) {
	table := make(service.StaticTable, 0, len(req.Entries))
	for _, e := range req.Entries {
		id, err := link.ParseCardID(e.Card)
		if err != nil {
			return nil, err
		}
		table = append(table, link.AccessTableEntry{Card: id, Authorized: e.Authorized})
	}
	return table, nil
}

func updateViews(results []service.UpdateResult) []types.UpdateView {
	out := make([]types.UpdateView, 0, len(results))
	for _, r := range results {
		up := r.Update
		v := types.UpdateView{
			Unit:         r.Unit.Name,
			Complete:     up.Complete,
			MemoryFull:   up.MemoryFull,
			EntriesSent:  up.EntriesSent,
			NewCards:     up.NewCards,
			ModifiedAuth: up.ModifiedAuth,
			NoUpdate:     up.NoUpdate,
			Last:         exchangeView(r.Unit, up.Last),
		}
		if up.FailedRow >= 0 {
			row := up.FailedRow
			v.FailedRow = &row
		}
		out = append(out, v)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
