package link

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio"
)

var (
	ErrInvalidUnit   = errors.New("invalid remote unit")
	ErrInvalidCardID = errors.New("card id must be 8 hex digits")
	ErrTableTooLarge = errors.New("access table exceeds 255 entries")
)

// MaxTableLen is the largest table whose remaining-count fits the 1-byte header.
const MaxTableLen = 255

// CardID is the raw 4-byte identifier read from a card.
type CardID [4]byte

// ParseCardID decodes an 8-hex-digit card code, two digits per byte.
func ParseCardID(s string) (CardID, error) {
	var c CardID
	s = strings.TrimSpace(s)
	if len(s) != 2*len(c) {
		return c, fmt.Errorf("%w: %q", ErrInvalidCardID, s)
	}
	if _, err := hex.Decode(c[:], []byte(s)); err != nil {
		return c, fmt.Errorf("%w: %q", ErrInvalidCardID, s)
	}
	return c, nil
}

func (c CardID) String() string {
	return strings.ToUpper(hex.EncodeToString(c[:]))
}

// AccessTableEntry is one authorization record pushed to a unit.
type AccessTableEntry struct {
	Card       CardID
	Authorized bool
}

// LogEntry is one access event drained from a unit.
type LogEntry struct {
	Event EventCode
	Card  CardID
	// At is the controller clock at read time minus the elapsed seconds the
	// unit reported.
	At             time.Time
	ElapsedSeconds uint32
}

// RemoteUnit is one commutator addressed over a single RF channel.
type RemoteUnit struct {
	ID      int
	Name    string
	Channel int
}

func (u RemoteUnit) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidUnit)
	}
	if !radio.ValidChannel(u.Channel) {
		return fmt.Errorf("%w: %s channel %d: %v", ErrInvalidUnit, u.Name, u.Channel, radio.ErrInvalidChannel)
	}
	return nil
}
