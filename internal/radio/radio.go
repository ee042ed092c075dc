// Package radio defines the half-duplex packet radio consumed by the link
// layer. Acknowledgment of commands is implemented above this package; a
// Transceiver may silently drop frames.
package radio

import "errors"

const (
	MinChannel = 0
	MaxChannel = 125

	// ReplyPipe is the reading pipe used for commutator replies.
	ReplyPipe = 1
)

var ErrInvalidChannel = errors.New("invalid channel (valid range: 0-125)")

// Transceiver is one physical radio. Implementations are not safe for
// concurrent exchanges; callers serialize access.
type Transceiver interface {
	SetChannel(channel int) error

	// Transmit sends one frame and reports whether a link-layer ack came back.
	Transmit(frame []byte) bool

	StartListening()
	StopListening()

	DataAvailable(pipe int) bool

	// Read returns up to maxLen buffered bytes, fewer if less is available.
	Read(maxLen int) []byte

	FlushRx()
	FlushTx()

	PowerUp()
	PowerDown()
}

// ValidChannel reports whether channel is in [MinChannel, MaxChannel].
func ValidChannel(channel int) bool {
	return channel >= MinChannel && channel <= MaxChannel
}
