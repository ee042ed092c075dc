package link

import (
	"context"
	"time"
)

// LogDrain is the outcome of DumpLogging.
type LogDrain struct {
	Entries []LogEntry
	// Complete is set when the unit reported an empty log.
	Complete bool
	// Last is the final exchange, the failing one when Complete is false.
	Last ExchangeResult
}

// DumpLogging reads the unit's event log one page at a time, erasing each
// entry only after it has been decoded. The unit drives termination by
// reporting zero remaining entries. Pages are not retried: any failed page
// or erase aborts the drain and returns the entries read so far, which the
// unit will report again on the next drain if their erase did not land.
func (s *Session) DumpLogging(ctx context.Context) LogDrain {
	var out LogDrain

	for page := 0; page < s.cfg.MaxLogPages; page++ {
		if ctx.Err() != nil {
			out.Last = ExchangeResult{Opcode: OpDumpLog, Condition: CondCancelled, State: StateFailed}
			return out
		}

		res := s.exchange(OpDumpLog, EncodeCommand(OpDumpLog))
		out.Last = res
		if !res.ReplyOK || !res.UnitOK {
			s.log.Warn().
				Int("page", page).
				Int("entries", len(out.Entries)).
				Bool("link_ok", res.LinkOK).
				Str("condition", res.Condition.String()).
				Msg("log drain aborted")
			return out
		}

		p, err := DecodeLogPage(res.Reply)
		if err != nil {
			s.log.Error().Err(err).Msg("log page decode")
			return out
		}
		if p.Remaining == 0 {
			out.Complete = true
			s.log.Info().Int("entries", len(out.Entries)).Msg("log drained")
			return out
		}

		out.Entries = append(out.Entries, LogEntry{
			Event:          p.Event,
			Card:           p.Card,
			At:             s.cfg.Now().Add(-time.Duration(p.ElapsedSeconds) * time.Second),
			ElapsedSeconds: p.ElapsedSeconds,
		})
		if !p.Event.Known() {
			s.log.Warn().Str("event", p.Event.String()).Str("card", p.Card.String()).Msg("unknown event code")
		}

		erase := s.exchange(OpEraseLogEntry, EncodeCommand(OpEraseLogEntry))
		out.Last = erase
		if !erase.ReplyOK || !erase.UnitOK {
			s.log.Warn().
				Int("page", page).
				Int("remaining", p.Remaining).
				Str("condition", erase.Condition.String()).
				Msg("log entry erase failed")
			return out
		}
	}

	s.log.Warn().Int("pages", s.cfg.MaxLogPages).Int("entries", len(out.Entries)).Msg("log drain page limit reached")
	return out
}
