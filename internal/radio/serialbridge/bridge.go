// Package serialbridge drives an nRF24 transceiver attached to a bridge
// microcontroller over a serial port.
//
// Every host request is framed as [0x7E][cmd][len][payload] and answered
// with [0x7E][cmd|0x80][len][payload]. Bridge I/O failures are logged and
// reported to the caller as "no ack" or "no data".
package serialbridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio"
)

const (
	marker    = 0x7E
	replyFlag = 0x80
	maxFrame  = 32
)

const (
	cmdSetChannel     byte = 0x01
	cmdTransmit       byte = 0x02
	cmdStartListening byte = 0x03
	cmdStopListening  byte = 0x04
	cmdDataAvailable  byte = 0x05
	cmdRead           byte = 0x06
	cmdFlushRx        byte = 0x07
	cmdFlushTx        byte = 0x08
	cmdPowerUp        byte = 0x09
	cmdPowerDown      byte = 0x0A
	cmdConfigure      byte = 0x0B
)

var (
	ErrTimeout  = errors.New("serialbridge: read timeout")
	ErrBadFrame = errors.New("serialbridge: malformed reply frame")
)

// Port is the subset of serial.Port the bridge uses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Settings are pushed to the bridge once at Open.
type Settings struct {
	WritePipe [5]byte
	ReadPipe  [5]byte
	// DataRate: 0 = 250kbps, 1 = 1Mbps, 2 = 2Mbps.
	DataRate byte
	// PALevel: 0 (min) .. 3 (max).
	PALevel byte
	// AutoRetryDelay in 250µs steps, AutoRetryCount 0..15.
	AutoRetryDelay byte
	AutoRetryCount byte
}

// DefaultSettings matches the commutator firmware's pipe addresses.
func DefaultSettings() Settings {
	return Settings{
		WritePipe:      [5]byte{0xF0, 0xF0, 0xF0, 0xF0, 0xE1},
		ReadPipe:       [5]byte{0xF0, 0xF0, 0xF0, 0xF0, 0xD2},
		DataRate:       1,
		PALevel:        3,
		AutoRetryDelay: 15,
		AutoRetryCount: 15,
	}
}

func (s Settings) payload() []byte {
	out := make([]byte, 0, 14)
	out = append(out, s.WritePipe[:]...)
	out = append(out, s.ReadPipe[:]...)
	return append(out, s.DataRate, s.PALevel, s.AutoRetryDelay, s.AutoRetryCount)
}

// Bridge implements radio.Transceiver. Calls are serialized on the port.
type Bridge struct {
	mu   sync.Mutex
	port Port
	log  zerolog.Logger
}

var _ radio.Transceiver = (*Bridge)(nil)

// Open opens the serial port, bounds reads by timeout and configures the radio.
func Open(name string, baud int, timeout time.Duration, settings Settings, log zerolog.Logger) (*Bridge, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	b, err := New(p, settings, log.With().Str("port", name).Logger())
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return b, nil
}

// New wraps an already opened port. The port's reads must return (0, nil)
// or an error once its timeout elapses.
func New(p Port, settings Settings, log zerolog.Logger) (*Bridge, error) {
	b := &Bridge{port: p, log: log.With().Str("component", "serialbridge").Logger()}
	if err := p.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("reset input: %w", err)
	}
	if _, err := b.call(cmdConfigure, settings.payload()); err != nil {
		return nil, fmt.Errorf("configure radio: %w", err)
	}
	return b, nil
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.Close()
}

func (b *Bridge) SetChannel(channel int) error {
	if !radio.ValidChannel(channel) {
		return radio.ErrInvalidChannel
	}
	_, err := b.call(cmdSetChannel, []byte{byte(channel)})
	return err
}

func (b *Bridge) Transmit(frame []byte) bool {
	reply, err := b.call(cmdTransmit, frame)
	if err != nil {
		b.log.Debug().Err(err).Msg("transmit")
		return false
	}
	return len(reply) == 1 && reply[0] == 1
}

func (b *Bridge) StartListening() { b.fire(cmdStartListening, nil) }
func (b *Bridge) StopListening()  { b.fire(cmdStopListening, nil) }
func (b *Bridge) FlushRx()        { b.fire(cmdFlushRx, nil) }
func (b *Bridge) FlushTx()        { b.fire(cmdFlushTx, nil) }
func (b *Bridge) PowerUp()        { b.fire(cmdPowerUp, nil) }
func (b *Bridge) PowerDown()      { b.fire(cmdPowerDown, nil) }

func (b *Bridge) DataAvailable(pipe int) bool {
	reply, err := b.call(cmdDataAvailable, []byte{byte(pipe)})
	if err != nil {
		b.log.Debug().Err(err).Msg("data available")
		return false
	}
	return len(reply) == 1 && reply[0] != 0
}

func (b *Bridge) Read(maxLen int) []byte {
	if maxLen > maxFrame {
		maxLen = maxFrame
	}
	reply, err := b.call(cmdRead, []byte{byte(maxLen)})
	if err != nil {
		b.log.Debug().Err(err).Msg("read")
		return nil
	}
	if len(reply) > maxLen {
		reply = reply[:maxLen]
	}
	return reply
}

func (b *Bridge) fire(cmd byte, payload []byte) {
	if _, err := b.call(cmd, payload); err != nil {
		b.log.Warn().Err(err).Uint8("cmd", cmd).Msg("bridge command failed")
	}
}

func (b *Bridge) call(cmd byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFF {
		return nil, fmt.Errorf("payload too long: %d", len(payload))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	req := make([]byte, 0, 3+len(payload))
	req = append(req, marker, cmd, byte(len(payload)))
	req = append(req, payload...)
	if _, err := b.port.Write(req); err != nil {
		return nil, fmt.Errorf("write cmd 0x%02X: %w", cmd, err)
	}

	hdr := make([]byte, 3)
	if err := b.readFull(hdr); err != nil {
		return nil, fmt.Errorf("read header cmd 0x%02X: %w", cmd, err)
	}
	if hdr[0] != marker || hdr[1] != cmd|replyFlag {
		// Resynchronize on the next request.
		_ = b.port.ResetInputBuffer()
		return nil, fmt.Errorf("%w: header % X for cmd 0x%02X", ErrBadFrame, hdr, cmd)
	}

	body := make([]byte, hdr[2])
	if err := b.readFull(body); err != nil {
		return nil, fmt.Errorf("read body cmd 0x%02X: %w", cmd, err)
	}
	return body, nil
}

// readFull is io.ReadFull with a serial read timeout: a zero-byte read
// without an error means the timeout elapsed.
func (b *Bridge) readFull(buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := b.port.Read(buf[n:])
		if err != nil {
			return err
		}
		if m == 0 {
			return ErrTimeout
		}
		n += m
	}
	return nil
}
