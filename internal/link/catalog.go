package link

import (
	"encoding/binary"
	"fmt"
)

// Opcode is the first byte of every command frame.
type Opcode byte

// Command opcodes understood by the commutator firmware.
const (
	OpCheck            Opcode = 0xA0
	OpEnable           Opcode = 0xA1
	OpDisable          Opcode = 0xA2
	OpDumpLog          Opcode = 0xA3
	OpPushEntry        Opcode = 0xA4
	OpAuto             Opcode = 0xA5
	OpCheckMemory      Opcode = 0xA6
	OpClearMemory      Opcode = 0xA7
	OpEraseLogEntry    Opcode = 0xA8
	OpSingleActivation Opcode = 0xA9
	OpDoubleActivation Opcode = 0xAA
)

// Leading status byte of every reply.
const (
	StatusFault   byte = 0xA0
	StatusNominal byte = 0xAF
)

// Reply lengths, status byte included. The protocol has no length prefix so
// the reader must ask for exactly this many bytes.
const (
	StatusReplyLen = 1
	LogPageLen     = 12
	PushReplyLen   = 3
	MemoryReplyLen = 6

	pushEntryLen = 7
)

var opcodeNames = map[Opcode]string{
	OpCheck:            "check",
	OpEnable:           "enable",
	OpDisable:          "disable",
	OpDumpLog:          "dump_log",
	OpPushEntry:        "push_entry",
	OpAuto:             "auto",
	OpCheckMemory:      "check_memory",
	OpClearMemory:      "clear_memory",
	OpEraseLogEntry:    "erase_log_entry",
	OpSingleActivation: "single_activation",
	OpDoubleActivation: "double_activation",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("opcode_0x%02X", byte(o))
}

// ParseOpcode looks an opcode up by its String name.
func ParseOpcode(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// IsMode reports whether the opcode selects the unit's operating mode.
func (o Opcode) IsMode() bool {
	switch o {
	case OpAuto, OpEnable, OpDisable, OpSingleActivation, OpDoubleActivation:
		return true
	}
	return false
}

// ReplyLen returns the fixed reply length for an opcode.
func (o Opcode) ReplyLen() int {
	switch o {
	case OpDumpLog:
		return LogPageLen
	case OpPushEntry:
		return PushReplyLen
	case OpCheckMemory:
		return MemoryReplyLen
	default:
		return StatusReplyLen
	}
}

// Echoed reports whether the reply repeats the opcode in byte 1.
func (o Opcode) Echoed() bool {
	return o.ReplyLen() > StatusReplyLen
}

// Disposition is the per-row outcome of a table push.
type Disposition byte

const (
	DispositionNoUpdate     Disposition = 0x00
	DispositionAuthChanged  Disposition = 0x01
	DispositionNewCard      Disposition = 0x02
	DispositionMemoryFull   Disposition = 0x03
	DispositionUnrecognized Disposition = 0xFF
)

func (d Disposition) String() string {
	switch d {
	case DispositionNoUpdate:
		return "no_update"
	case DispositionAuthChanged:
		return "auth_changed"
	case DispositionNewCard:
		return "new_card"
	case DispositionMemoryFull:
		return "memory_full"
	default:
		return "unrecognized"
	}
}

// EventCode classifies one logged access event.
type EventCode byte

const (
	EventDoubleFirstUser EventCode = 0x30
	EventActivate        EventCode = 0x31
	EventDeactivate      EventCode = 0x32
	EventDoubleConfirmed EventCode = 0x33
	EventUnauthorized    EventCode = 0x34
	EventUnknownCard     EventCode = 0x35
	EventError           EventCode = 0x36
)

func (e EventCode) String() string {
	switch e {
	case EventDoubleFirstUser:
		return "double_first_user"
	case EventActivate:
		return "activate"
	case EventDeactivate:
		return "deactivate"
	case EventDoubleConfirmed:
		return "double_confirmed"
	case EventUnauthorized:
		return "unauthorized"
	case EventUnknownCard:
		return "unknown_card"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event_0x%02X", byte(e))
	}
}

// Known reports whether the code is one the firmware documents.
func (e EventCode) Known() bool {
	return e >= EventDoubleFirstUser && e <= EventError
}

// StatusKind classifies the leading reply byte.
type StatusKind int

const (
	StatusKindUnexpected StatusKind = iota
	StatusKindNominal
	StatusKindFault
)

// DecodeStatus classifies a reply status byte. Any value other than the
// nominal and fault codes is StatusKindUnexpected.
func DecodeStatus(b byte) StatusKind {
	switch b {
	case StatusNominal:
		return StatusKindNominal
	case StatusFault:
		return StatusKindFault
	default:
		return StatusKindUnexpected
	}
}

// EncodeCommand builds a payload-less command frame.
func EncodeCommand(op Opcode) []byte {
	return []byte{byte(op)}
}

// EncodePushEntry builds a push-entry frame:
//
//	[OPCODE][REMAINING][AUTH][CARD(4)]
func EncodePushEntry(remaining int, e AccessTableEntry) []byte {
	frame := make([]byte, 0, pushEntryLen)
	frame = append(frame, byte(OpPushEntry), byte(remaining))
	if e.Authorized {
		frame = append(frame, 1)
	} else {
		frame = append(frame, 0)
	}
	return append(frame, e.Card[:]...)
}

// LogPage is one decoded dump-log reply.
type LogPage struct {
	Remaining      int
	Event          EventCode
	Card           CardID
	ElapsedSeconds uint32
}

// DecodeLogPage decodes a full dump-log reply:
//
//	[STATUS][ECHO][REMAINING][EVENT][CARD(4)][ELAPSED(4, little-endian)]
func DecodeLogPage(reply []byte) (LogPage, error) {
	if len(reply) != LogPageLen {
		return LogPage{}, fmt.Errorf("log page: got %d bytes, expected %d", len(reply), LogPageLen)
	}
	var p LogPage
	p.Remaining = int(reply[2])
	p.Event = EventCode(reply[3])
	copy(p.Card[:], reply[4:8])
	p.ElapsedSeconds = binary.LittleEndian.Uint32(reply[8:12])
	return p, nil
}

// DecodePushReply decodes the disposition byte of a push-entry reply.
func DecodePushReply(reply []byte) (Disposition, error) {
	if len(reply) != PushReplyLen {
		return DispositionUnrecognized, fmt.Errorf("push reply: got %d bytes, expected %d", len(reply), PushReplyLen)
	}
	switch d := Disposition(reply[2]); d {
	case DispositionNoUpdate, DispositionAuthChanged, DispositionNewCard, DispositionMemoryFull:
		return d, nil
	default:
		return DispositionUnrecognized, nil
	}
}

// Memory is the unit's card-table occupancy.
type Memory struct {
	Capacity int
	Used     int
}

// UsedRatio returns Used/Capacity, or 0 for an empty table size.
func (m Memory) UsedRatio() float64 {
	if m.Capacity <= 0 {
		return 0
	}
	return float64(m.Used) / float64(m.Capacity)
}

// DecodeMemory decodes a check-memory reply:
//
//	[STATUS][ECHO][CAPACITY(2, big-endian)][USED(2, big-endian)]
func DecodeMemory(reply []byte) (Memory, error) {
	if len(reply) != MemoryReplyLen {
		return Memory{}, fmt.Errorf("memory reply: got %d bytes, expected %d", len(reply), MemoryReplyLen)
	}
	return Memory{
		Capacity: int(binary.BigEndian.Uint16(reply[2:4])),
		Used:     int(binary.BigEndian.Uint16(reply[4:6])),
	}, nil
}
