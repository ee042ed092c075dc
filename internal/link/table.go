package link

import (
	"context"
	"fmt"
)

// TableUpdate is the outcome of UpdateTable.
type TableUpdate struct {
	EntriesSent  int
	NewCards     int
	ModifiedAuth int
	NoUpdate     int

	// Complete is set when every row was accepted.
	Complete bool
	// MemoryFull is set when the unit stopped accepting new cards.
	MemoryFull bool

	// FailedRow is the index of the row that stopped the update, or -1.
	FailedRow int
	Last      ExchangeResult
}

// UpdateTable pushes table in index order, one row per exchange, with a
// remaining-count header running from len(table) down to 1. A failed row
// aborts the whole update; a retry restarts from row 0. Memory-full is an
// expected stop and is reported through MemoryFull with partial counts.
func (s *Session) UpdateTable(ctx context.Context, table []AccessTableEntry) (TableUpdate, error) {
	if len(table) > MaxTableLen {
		return TableUpdate{}, fmt.Errorf("%w: %d entries for %s", ErrTableTooLarge, len(table), s.unit.Name)
	}

	out := TableUpdate{FailedRow: -1}

	for i, entry := range table {
		if ctx.Err() != nil {
			out.FailedRow = i
			out.Last = ExchangeResult{Opcode: OpPushEntry, Condition: CondCancelled, State: StateFailed}
			return out, nil
		}

		remaining := len(table) - i
		res := s.exchange(OpPushEntry, EncodePushEntry(remaining, entry))
		out.Last = res
		if !res.ReplyOK || !res.UnitOK {
			out.FailedRow = i
			s.log.Warn().
				Int("row", i).
				Int("remaining", remaining).
				Str("card", entry.Card.String()).
				Bool("link_ok", res.LinkOK).
				Str("condition", res.Condition.String()).
				Msg("table update aborted")
			return out, nil
		}

		d, err := DecodePushReply(res.Reply)
		if err != nil {
			out.FailedRow = i
			out.Last.ReplyOK = false
			out.Last.UnitOK = false
			out.Last.Condition = CondProtocolMismatch
			out.Last.State = StateFailed
			s.log.Error().Err(err).Int("row", i).Hex("reply", res.Reply).Msg("push reply decode")
			return out, nil
		}
		switch d {
		case DispositionNoUpdate:
			out.NoUpdate++
		case DispositionAuthChanged:
			out.ModifiedAuth++
		case DispositionNewCard:
			out.NewCards++
		case DispositionMemoryFull:
			out.MemoryFull = true
			out.FailedRow = i
			s.log.Warn().
				Int("row", i).
				Int("sent", out.EntriesSent).
				Int("new_cards", out.NewCards).
				Msg("unit memory full")
			return out, nil
		default:
			out.FailedRow = i
			out.Last.ReplyOK = false
			out.Last.Condition = CondUnrecognizedDisposition
			out.Last.State = StateFailed
			s.log.Warn().
				Int("row", i).
				Uint8("disposition", res.Reply[2]).
				Msg("unrecognized disposition")
			return out, nil
		}
		out.EntriesSent++
	}

	out.Complete = true
	s.log.Info().
		Int("sent", out.EntriesSent).
		Int("new_cards", out.NewCards).
		Int("modified_auth", out.ModifiedAuth).
		Msg("access table updated")
	return out, nil
}
