// Package link implements the command/reply protocol spoken with remote
// commutators over a lossy packet radio: the command catalog, the retry
// policy and the multi-packet log drain and table update sequences.
//
// Protocol conditions (link down, no reply, malformed reply, device fault)
// never surface as errors. Every operation returns a result value whose
// flags the caller inspects; errors are reserved for invalid configuration.
package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio"
)

var ErrNilTransceiver = errors.New("transceiver is required")

// State is a step of one exchange.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateTransmitting
	StateAwaitingReply
	StateDecoding
	StateDone
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateTransmitting:
		return "transmitting"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateDecoding:
		return "decoding"
	case StateDone:
		return "done"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state_%d", int(s))
	}
}

// Condition classifies how an exchange ended.
type Condition int

const (
	CondNone Condition = iota
	CondLinkDown
	CondNoReply
	CondShortReply
	CondProtocolMismatch
	CondUnexpectedStatus
	CondDeviceFault
	CondUnrecognizedDisposition
	CondCancelled
)

func (c Condition) String() string {
	switch c {
	case CondNone:
		return "ok"
	case CondLinkDown:
		return "link_down"
	case CondNoReply:
		return "no_reply"
	case CondShortReply:
		return "short_reply"
	case CondProtocolMismatch:
		return "protocol_mismatch"
	case CondUnexpectedStatus:
		return "unexpected_status"
	case CondDeviceFault:
		return "device_fault"
	case CondUnrecognizedDisposition:
		return "unrecognized_disposition"
	case CondCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("condition_%d", int(c))
	}
}

// Malformed reports whether the unit answered with something unusable.
func (c Condition) Malformed() bool {
	switch c {
	case CondShortReply, CondProtocolMismatch, CondUnexpectedStatus, CondUnrecognizedDisposition:
		return true
	}
	return false
}

// ExchangeResult is the outcome of one command/reply round trip, or of the
// last attempt of a retried one.
type ExchangeResult struct {
	Opcode Opcode

	// LinkOK: the transmit got a link-layer ack.
	LinkOK bool
	// UnitOK: the unit reported a nominal status byte.
	UnitOK bool
	// ReplyOK: the reply was structurally valid.
	ReplyOK bool

	Reply     []byte
	Condition Condition
	State     State
	Attempts  int
}

// Session drives exchanges with one unit on a shared transceiver.
type Session struct {
	unit  RemoteUnit
	radio radio.Transceiver
	cfg   Config
	log   zerolog.Logger
}

// NewSession binds unit to tr. An invalid unit is a programmer error.
func NewSession(tr radio.Transceiver, unit RemoteUnit, opts ...Option) (*Session, error) {
	if tr == nil {
		return nil, ErrNilTransceiver
	}
	if err := unit.Validate(); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		unit:  unit,
		radio: tr,
		cfg:   cfg,
		log: cfg.Logger.With().
			Str("unit", unit.Name).
			Int("unit_id", unit.ID).
			Int("channel", unit.Channel).
			Logger(),
	}, nil
}

func (s *Session) Unit() RemoteUnit { return s.unit }

// Check asks the unit to acknowledge without changing its state. Each of the
// single commands below runs under the exchange retry and reports the last
// attempt.
func (s *Session) Check(ctx context.Context) ExchangeResult {
	return s.command(ctx, OpCheck)
}

// Auto hands control back to the card reader.
func (s *Session) Auto(ctx context.Context) ExchangeResult {
	return s.command(ctx, OpAuto)
}

// Enable forces the machine on regardless of cards.
func (s *Session) Enable(ctx context.Context) ExchangeResult {
	return s.command(ctx, OpEnable)
}

// Disable forces the machine off.
func (s *Session) Disable(ctx context.Context) ExchangeResult {
	return s.command(ctx, OpDisable)
}

// SingleActivation lets one authorized card activate the machine.
func (s *Session) SingleActivation(ctx context.Context) ExchangeResult {
	return s.command(ctx, OpSingleActivation)
}

// DoubleActivation requires two authorized cards to activate the machine.
func (s *Session) DoubleActivation(ctx context.Context) ExchangeResult {
	return s.command(ctx, OpDoubleActivation)
}

// ClearMemory erases the unit's card table. The event log is untouched.
func (s *Session) ClearMemory(ctx context.Context) ExchangeResult {
	return s.command(ctx, OpClearMemory)
}

// CheckMemory queries table occupancy. The Memory value is meaningful only
// when the result has ReplyOK and UnitOK set.
func (s *Session) CheckMemory(ctx context.Context) (Memory, ExchangeResult) {
	res := s.retried(ctx, OpCheckMemory, EncodeCommand(OpCheckMemory))
	if !res.ReplyOK || !res.UnitOK {
		return Memory{}, res
	}
	mem, err := DecodeMemory(res.Reply)
	if err != nil {
		// retried only accepts full-length replies
		s.log.Error().Err(err).Msg("memory reply decode")
		return Memory{}, res
	}
	s.log.Info().Int("capacity", mem.Capacity).Int("used", mem.Used).Msg("memory state")
	return mem, res
}

func (s *Session) command(ctx context.Context, op Opcode) ExchangeResult {
	return s.retried(ctx, op, EncodeCommand(op))
}

// retried runs the exchange under the outer retry policy. A reply that is
// structurally valid ends the loop even when it carries a fault status.
func (s *Session) retried(ctx context.Context, op Opcode, frame []byte) ExchangeResult {
	var res ExchangeResult
	attempts := s.cfg.ExchangeRetry.Do(s.cfg.Sleep, func(attempt int) bool {
		if err := ctx.Err(); err != nil {
			res = ExchangeResult{Opcode: op, Condition: CondCancelled, State: StateFailed}
			return true
		}
		res = s.exchange(op, frame)
		if res.ReplyOK {
			return true
		}
		if attempt < s.cfg.ExchangeRetry.Attempts {
			s.log.Debug().
				Str("opcode", op.String()).
				Int("attempt", attempt).
				Str("condition", res.Condition.String()).
				Str("state", StateRetrying.String()).
				Msg("exchange retry")
		}
		return false
	})
	res.Attempts = attempts
	s.cfg.Metrics.observeAttempts(s.unit.Name, op, attempts)

	if !res.ReplyOK {
		s.log.Warn().
			Str("opcode", op.String()).
			Int("attempts", attempts).
			Bool("link_ok", res.LinkOK).
			Str("condition", res.Condition.String()).
			Msg("command failed")
	} else if !res.UnitOK {
		s.log.Warn().
			Str("opcode", op.String()).
			Int("attempts", attempts).
			Msg("unit reported fault status")
	}
	return res
}

// exchange is one pass of configure, transmit, wait and decode.
func (s *Session) exchange(op Opcode, frame []byte) ExchangeResult {
	res := ExchangeResult{Opcode: op, State: StateConfiguring, Attempts: 1}

	if err := s.configure(); err != nil {
		s.log.Error().Err(err).Str("opcode", op.String()).Msg("configure radio")
		return s.fail(res, CondLinkDown)
	}

	res.State = StateTransmitting
	if !s.radio.Transmit(frame) {
		s.log.Debug().Str("opcode", op.String()).Int("frame_len", len(frame)).Msg("transmit not acknowledged")
		return s.fail(res, CondLinkDown)
	}
	res.LinkOK = true

	res.State = StateAwaitingReply
	s.radio.StartListening()
	defer s.radio.StopListening()

	var available bool
	polls := s.cfg.ReplyWait.Do(s.cfg.Sleep, func(int) bool {
		available = s.radio.DataAvailable(radio.ReplyPipe)
		return available
	})
	if !available {
		s.log.Debug().Str("opcode", op.String()).Int("polls", polls).Msg("no reply")
		return s.fail(res, CondNoReply)
	}

	res.State = StateDecoding
	want := op.ReplyLen()
	reply := s.radio.Read(want)
	res.Reply = reply

	if len(reply) < want {
		s.log.Warn().
			Str("opcode", op.String()).
			Int("expected_bytes", want).
			Int("got_bytes", len(reply)).
			Hex("reply", reply).
			Msg("short reply")
		return s.fail(res, CondShortReply)
	}

	switch DecodeStatus(reply[0]) {
	case StatusKindFault:
		res.ReplyOK = true
		res.Condition = CondDeviceFault
		res.State = StateDone
	case StatusKindNominal:
		if op.Echoed() && reply[1] != byte(op) {
			s.log.Warn().
				Str("opcode", op.String()).
				Uint8("echo", reply[1]).
				Hex("reply", reply).
				Msg("echoed opcode mismatch")
			return s.fail(res, CondProtocolMismatch)
		}
		res.ReplyOK = true
		res.UnitOK = true
		res.State = StateDone
	default:
		s.log.Warn().
			Str("opcode", op.String()).
			Uint8("status", reply[0]).
			Hex("reply", reply).
			Msg("unexpected status byte")
		return s.fail(res, CondUnexpectedStatus)
	}

	s.cfg.Metrics.observeExchange(s.unit.Name, op, res.Condition)
	return res
}

func (s *Session) fail(res ExchangeResult, c Condition) ExchangeResult {
	res.Condition = c
	res.State = StateFailed
	s.cfg.Metrics.observeExchange(s.unit.Name, res.Opcode, c)
	return res
}

// configure tunes the radio to the unit's channel. The radio is power cycled
// around the channel change to avoid cross-talk from the previous unit.
func (s *Session) configure() error {
	s.radio.PowerDown()
	if err := s.radio.SetChannel(s.unit.Channel); err != nil {
		return fmt.Errorf("set channel %d: %w", s.unit.Channel, err)
	}
	s.radio.PowerUp()
	s.radio.StopListening()
	s.radio.FlushRx()
	s.radio.FlushTx()
	return nil
}
