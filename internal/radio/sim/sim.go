// Package sim is a deterministic in-process radio hosting simulated
// commutators, one per RF channel. Faults are fixed per unit at
// construction so concurrent test cases never share mutable fixtures.
package sim

import (
	"encoding/binary"
	"sync"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio"
)

// Faults injects link and device misbehavior for one unit.
type Faults struct {
	// LinkDown makes every transmit go unacknowledged.
	LinkDown bool
	// FailFirst makes the first N transmits go unacknowledged.
	FailFirst int
	// DropAfter acknowledges N transmits, then the link goes down. 0 disables.
	DropAfter int
	// NoReply acknowledges transmits but never buffers a reply.
	NoReply bool
	// DeviceFault answers with the fault status and performs nothing.
	DeviceFault bool
	// ShortReply drops the last byte of every reply.
	ShortReply bool
	// WrongEcho corrupts the echoed opcode of multi-byte replies.
	WrongEcho bool
	// BadStatus replaces the status byte with an undefined value.
	BadStatus bool
}

// Event is one queued log entry.
type Event struct {
	Code           link.EventCode
	Card           link.CardID
	ElapsedSeconds uint32
}

type card struct {
	id         link.CardID
	authorized bool
}

// Unit is a simulated commutator with a linear card table of fixed capacity.
type Unit struct {
	mu sync.Mutex

	channel  int
	capacity int
	faults   Faults

	table      []card
	events     []Event
	mode       link.Opcode
	transmits  int
	commands   []link.Opcode
	remainings []int
}

// NewUnit creates a unit listening on channel with room for capacity cards.
func NewUnit(channel, capacity int, faults Faults) *Unit {
	return &Unit{
		channel:  channel,
		capacity: capacity,
		faults:   faults,
		mode:     link.OpAuto,
	}
}

func (u *Unit) Channel() int { return u.channel }

// QueueEvent appends an entry to the unit's event log.
func (u *Unit) QueueEvent(code link.EventCode, id link.CardID, elapsedSeconds uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, Event{Code: code, Card: id, ElapsedSeconds: elapsedSeconds})
}

// LoadCard stores a card directly, bypassing the radio.
func (u *Unit) LoadCard(id link.CardID, authorized bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.push(id, authorized)
}

// Lookup returns the stored authorization for a card.
func (u *Unit) Lookup(id link.CardID) (authorized, found bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range u.table {
		if c.id == id {
			return c.authorized, true
		}
	}
	return false, false
}

func (u *Unit) PendingEvents() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.events)
}

func (u *Unit) Used() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.table)
}

// Mode is the last mode command applied.
func (u *Unit) Mode() link.Opcode {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode
}

// Transmits counts every frame addressed to this unit, acknowledged or not.
func (u *Unit) Transmits() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.transmits
}

// Commands lists the opcodes of acknowledged frames in arrival order.
func (u *Unit) Commands() []link.Opcode {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]link.Opcode, len(u.commands))
	copy(out, u.commands)
	return out
}

// Remainings lists the remaining-count headers of received push frames.
func (u *Unit) Remainings() []int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]int, len(u.remainings))
	copy(out, u.remainings)
	return out
}

// receive handles one frame. acked is false when the link drops the frame.
func (u *Unit) receive(frame []byte) (reply []byte, acked bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.transmits++
	switch {
	case u.faults.LinkDown:
		return nil, false
	case u.transmits <= u.faults.FailFirst:
		return nil, false
	case u.faults.DropAfter > 0 && u.transmits > u.faults.DropAfter:
		return nil, false
	}
	if len(frame) == 0 {
		return nil, true
	}

	op := link.Opcode(frame[0])
	u.commands = append(u.commands, op)
	if u.faults.NoReply {
		return nil, true
	}

	reply = u.handle(op, frame)

	if u.faults.BadStatus {
		reply[0] = 0x55
	}
	if u.faults.WrongEcho && len(reply) > 1 {
		reply[1] = ^reply[1]
	}
	if u.faults.ShortReply {
		reply = reply[:len(reply)-1]
	}
	return reply, true
}

func (u *Unit) handle(op link.Opcode, frame []byte) []byte {
	reply := make([]byte, op.ReplyLen())
	if op.Echoed() {
		reply[1] = byte(op)
	}
	if u.faults.DeviceFault {
		reply[0] = link.StatusFault
		return reply
	}
	reply[0] = link.StatusNominal

	if op.IsMode() {
		u.mode = op
		return reply
	}

	switch op {
	case link.OpClearMemory:
		u.table = nil
	case link.OpDumpLog:
		if len(u.events) == 0 {
			return reply
		}
		remaining := len(u.events)
		if remaining > 255 {
			remaining = 255
		}
		ev := u.events[0]
		reply[2] = byte(remaining)
		reply[3] = byte(ev.Code)
		copy(reply[4:8], ev.Card[:])
		binary.LittleEndian.PutUint32(reply[8:12], ev.ElapsedSeconds)
	case link.OpEraseLogEntry:
		if len(u.events) > 0 {
			u.events = u.events[1:]
		}
	case link.OpPushEntry:
		if len(frame) != 7 {
			reply[2] = 0xEE
			return reply
		}
		u.remainings = append(u.remainings, int(frame[1]))
		var id link.CardID
		copy(id[:], frame[3:7])
		reply[2] = byte(u.push(id, frame[2] != 0))
	case link.OpCheckMemory:
		binary.BigEndian.PutUint16(reply[2:4], uint16(u.capacity))
		binary.BigEndian.PutUint16(reply[4:6], uint16(len(u.table)))
	}
	return reply
}

// push applies first-fit dedup by card id. A full table rejects new cards
// but keeps updating the authorization of stored ones.
func (u *Unit) push(id link.CardID, authorized bool) link.Disposition {
	for i := range u.table {
		if u.table[i].id != id {
			continue
		}
		if u.table[i].authorized == authorized {
			return link.DispositionNoUpdate
		}
		u.table[i].authorized = authorized
		return link.DispositionAuthChanged
	}
	if len(u.table) >= u.capacity {
		return link.DispositionMemoryFull
	}
	u.table = append(u.table, card{id: id, authorized: authorized})
	return link.DispositionNewCard
}

// Radio implements radio.Transceiver over a set of simulated units.
type Radio struct {
	mu        sync.Mutex
	units     map[int]*Unit
	channel   int
	listening bool
	powered   bool
	rx        []byte
	polls     int
}

var _ radio.Transceiver = (*Radio)(nil)

func NewRadio(units ...*Unit) *Radio {
	r := &Radio{units: make(map[int]*Unit, len(units)), channel: -1}
	for _, u := range units {
		r.units[u.channel] = u
	}
	return r
}

func (r *Radio) SetChannel(channel int) error {
	if !radio.ValidChannel(channel) {
		return radio.ErrInvalidChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = channel
	return nil
}

func (r *Radio) Transmit(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listening = false
	u, ok := r.units[r.channel]
	if !ok || !r.powered {
		return false
	}
	reply, acked := u.receive(frame)
	if acked && len(reply) > 0 {
		r.rx = append(r.rx[:0], reply...)
	}
	return acked
}

func (r *Radio) StartListening() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = true
}

func (r *Radio) StopListening() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = false
}

func (r *Radio) DataAvailable(pipe int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	return pipe == radio.ReplyPipe && r.listening && len(r.rx) > 0
}

func (r *Radio) Read(maxLen int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := maxLen
	if n > len(r.rx) {
		n = len(r.rx)
	}
	out := make([]byte, n)
	copy(out, r.rx[:n])
	r.rx = r.rx[n:]
	return out
}

func (r *Radio) FlushRx() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rx = nil
}

func (r *Radio) FlushTx() {}

func (r *Radio) PowerUp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.powered = true
}

func (r *Radio) PowerDown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.powered = false
	r.listening = false
}

// Polls counts DataAvailable calls.
func (r *Radio) Polls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls
}
