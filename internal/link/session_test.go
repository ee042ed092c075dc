package link_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio/sim"
)

const testChannel = 0x4C

var testUnit = link.RemoteUnit{ID: 1, Name: "degauchisseuse", Channel: testChannel}

// sleepRecorder counts requested sleeps without blocking.
type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) { s.calls = append(s.calls, d) }

func newSession(t *testing.T, tr radio.Transceiver, opts ...link.Option) (*link.Session, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	base := []link.Option{
		link.WithSleeper(rec.sleep),
		link.WithReplyWait(50, time.Microsecond),
		link.WithReplyDeadline(0),
		link.WithExchangeRetry(10, 20*time.Millisecond),
	}
	s, err := link.NewSession(tr, testUnit, append(base, opts...)...)
	require.NoError(t, err)
	return s, rec
}

func TestNewSession_RejectsInvalidUnit(t *testing.T) {
	r := sim.NewRadio()

	_, err := link.NewSession(r, link.RemoteUnit{Name: "lathe", Channel: 126})
	require.ErrorIs(t, err, link.ErrInvalidUnit)

	_, err = link.NewSession(r, link.RemoteUnit{Channel: 3})
	require.ErrorIs(t, err, link.ErrInvalidUnit)

	_, err = link.NewSession(nil, testUnit)
	require.ErrorIs(t, err, link.ErrNilTransceiver)
}

func TestCheck_Nominal(t *testing.T) {
	u := sim.NewUnit(testChannel, 10, sim.Faults{})
	s, _ := newSession(t, sim.NewRadio(u))

	res := s.Check(context.Background())

	assert.True(t, res.LinkOK)
	assert.True(t, res.ReplyOK)
	assert.True(t, res.UnitOK)
	assert.Equal(t, link.CondNone, res.Condition)
	assert.Equal(t, link.StateDone, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []byte{link.StatusNominal}, res.Reply)
}

// statusRadio answers every transmit with a fixed single status byte.
type statusRadio struct {
	status    byte
	rx        []byte
	listening bool
	transmits int
}

func (r *statusRadio) SetChannel(int) error { return nil }
func (r *statusRadio) Transmit([]byte) bool {
	r.transmits++
	r.rx = []byte{r.status}
	return true
}
func (r *statusRadio) StartListening()        { r.listening = true }
func (r *statusRadio) StopListening()         { r.listening = false }
func (r *statusRadio) DataAvailable(int) bool { return r.listening && len(r.rx) > 0 }
func (r *statusRadio) FlushRx()               { r.rx = nil }
func (r *statusRadio) FlushTx()               {}
func (r *statusRadio) PowerUp()               {}
func (r *statusRadio) PowerDown()             {}
func (r *statusRadio) Read(n int) []byte {
	if n > len(r.rx) {
		n = len(r.rx)
	}
	out := r.rx[:n]
	r.rx = r.rx[n:]
	return out
}

func TestCheck_UnitOKMatchesStatusForEveryByte(t *testing.T) {
	for b := 0; b <= 0xFF; b++ {
		r := &statusRadio{status: byte(b)}
		s, _ := newSession(t, r)

		res := s.Check(context.Background())

		require.True(t, res.LinkOK, "status 0x%02X", b)
		require.Equal(t, byte(b) == link.StatusNominal, res.UnitOK, "status 0x%02X", b)

		switch byte(b) {
		case link.StatusNominal:
			require.Equal(t, 1, r.transmits)
		case link.StatusFault:
			require.True(t, res.ReplyOK)
			require.Equal(t, link.CondDeviceFault, res.Condition)
			require.Equal(t, 1, r.transmits, "fault status must not be retried")
		default:
			require.False(t, res.ReplyOK)
			require.Equal(t, link.CondUnexpectedStatus, res.Condition)
			require.Equal(t, 10, r.transmits)
		}
	}
}

func TestSingleCommands_LinkDownRetriesExactly(t *testing.T) {
	ops := map[string]func(*link.Session, context.Context) link.ExchangeResult{
		"check":             (*link.Session).Check,
		"auto":              (*link.Session).Auto,
		"enable":            (*link.Session).Enable,
		"disable":           (*link.Session).Disable,
		"single_activation": (*link.Session).SingleActivation,
		"double_activation": (*link.Session).DoubleActivation,
		"clear_memory":      (*link.Session).ClearMemory,
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			u := sim.NewUnit(testChannel, 10, sim.Faults{LinkDown: true})
			s, rec := newSession(t, sim.NewRadio(u))

			res := op(s, context.Background())

			assert.False(t, res.LinkOK)
			assert.False(t, res.ReplyOK)
			assert.Equal(t, link.CondLinkDown, res.Condition)
			assert.Equal(t, 10, res.Attempts)
			assert.Equal(t, 10, u.Transmits())
			// nine inter-attempt delays, none after the last attempt
			assert.Len(t, rec.calls, 9)
		})
	}
}

func TestCheck_NoReplyIsBounded(t *testing.T) {
	u := sim.NewUnit(testChannel, 10, sim.Faults{NoReply: true})
	r := sim.NewRadio(u)
	s, _ := newSession(t, r, link.WithExchangeRetry(3, time.Millisecond))

	res := s.Check(context.Background())

	assert.True(t, res.LinkOK)
	assert.False(t, res.ReplyOK)
	assert.Equal(t, link.CondNoReply, res.Condition)
	assert.Equal(t, 3, u.Transmits())
	assert.Equal(t, 3*50, r.Polls())
}

func TestCheck_ReplyWaitHonorsWallClockDeadline(t *testing.T) {
	u := sim.NewUnit(testChannel, 10, sim.Faults{NoReply: true})
	r := sim.NewRadio(u)
	s, _ := newSession(t, r,
		link.WithSleeper(time.Sleep),
		link.WithReplyWait(1_000_000, time.Millisecond),
		link.WithReplyDeadline(5*time.Millisecond),
		link.WithExchangeRetry(1, 0),
	)

	start := time.Now()
	res := s.Check(context.Background())

	assert.Equal(t, link.CondNoReply, res.Condition)
	assert.Less(t, time.Since(start), time.Second)
	assert.Less(t, r.Polls(), 1_000_000)
}

func TestCheck_RecoversFromTransientLoss(t *testing.T) {
	u := sim.NewUnit(testChannel, 10, sim.Faults{FailFirst: 3})
	s, _ := newSession(t, sim.NewRadio(u))

	res := s.Check(context.Background())

	assert.True(t, res.UnitOK)
	assert.Equal(t, 4, res.Attempts)
}

func TestDisable_FaultStatusDistinctFromNoReply(t *testing.T) {
	u := sim.NewUnit(testChannel, 10, sim.Faults{DeviceFault: true})
	s, _ := newSession(t, sim.NewRadio(u))

	res := s.Disable(context.Background())

	assert.True(t, res.LinkOK)
	assert.True(t, res.ReplyOK)
	assert.False(t, res.UnitOK)
	assert.Equal(t, link.CondDeviceFault, res.Condition)
	assert.Equal(t, 1, u.Transmits())
	assert.Equal(t, link.OpAuto, u.Mode(), "faulted unit must not change mode")
}

func TestModeCommands_ReachUnit(t *testing.T) {
	u := sim.NewUnit(testChannel, 10, sim.Faults{})
	s, _ := newSession(t, sim.NewRadio(u))
	ctx := context.Background()

	require.True(t, s.Enable(ctx).UnitOK)
	assert.Equal(t, link.OpEnable, u.Mode())
	require.True(t, s.DoubleActivation(ctx).UnitOK)
	assert.Equal(t, link.OpDoubleActivation, u.Mode())
	require.True(t, s.Auto(ctx).UnitOK)
	assert.Equal(t, link.OpAuto, u.Mode())
}

func TestCheck_CancelledContext(t *testing.T) {
	u := sim.NewUnit(testChannel, 10, sim.Faults{})
	s, _ := newSession(t, sim.NewRadio(u))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.Check(ctx)

	assert.Equal(t, link.CondCancelled, res.Condition)
	assert.Equal(t, 0, u.Transmits())
}

func TestCheckMemory_DecodesBigEndianCounters(t *testing.T) {
	u := sim.NewUnit(testChannel, 6, sim.Faults{})
	for i := 0; i < 4; i++ {
		u.LoadCard(link.CardID{0, 0, 0, byte(i)}, true)
	}
	s, _ := newSession(t, sim.NewRadio(u))

	mem, res := s.CheckMemory(context.Background())

	require.True(t, res.UnitOK)
	assert.Equal(t, []byte{link.StatusNominal, byte(link.OpCheckMemory), 0x00, 0x06, 0x00, 0x04}, res.Reply)
	assert.Equal(t, link.Memory{Capacity: 6, Used: 4}, mem)
}

func TestCheckMemory_MalformedReplies(t *testing.T) {
	cases := map[string]struct {
		faults sim.Faults
		cond   link.Condition
	}{
		"short":      {sim.Faults{ShortReply: true}, link.CondShortReply},
		"wrong echo": {sim.Faults{WrongEcho: true}, link.CondProtocolMismatch},
		"bad status": {sim.Faults{BadStatus: true}, link.CondUnexpectedStatus},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			u := sim.NewUnit(testChannel, 6, tc.faults)
			s, _ := newSession(t, sim.NewRadio(u), link.WithExchangeRetry(2, 0))

			mem, res := s.CheckMemory(context.Background())

			assert.True(t, res.LinkOK)
			assert.False(t, res.ReplyOK)
			assert.Equal(t, tc.cond, res.Condition)
			assert.Equal(t, link.Memory{}, mem)
			assert.Equal(t, 2, u.Transmits())
		})
	}
}

func TestSession_WrongChannelIsLinkDown(t *testing.T) {
	u := sim.NewUnit(testChannel+1, 6, sim.Faults{})
	s, _ := newSession(t, sim.NewRadio(u), link.WithExchangeRetry(2, 0))

	res := s.Check(context.Background())

	assert.False(t, res.LinkOK)
	assert.Equal(t, 0, u.Transmits())
}
