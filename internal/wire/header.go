// Package wire is the binary frame format used to replicate registry
// mutations between processes.
//
// A frame is a fixed little-endian header followed by the payload:
//
//	off  size  field
//	0    4     magic "RGI1"
//	4    1     message type
//	5    1     schema version of the message type
//	6    2     flags
//	8    4     payload length
//	12   8     sequence
//	20   8     timestamp, unix ns
//	28   8     xxhash64 of the payload
//
// The encoded length of a frame is always HeaderSize plus the payload length.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	Magic      uint32 = 0x52474931
	HeaderSize        = 36

	// MaxStringLen is the longest string a single-byte prefix can carry.
	MaxStringLen = 255
)

var (
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported schema version")
	ErrLengthMismatch     = errors.New("length mismatch")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrUnknownType        = errors.New("unknown message type")
	ErrTruncated          = errors.New("truncated frame")
	ErrFieldTooLong       = errors.New("field too long")
	ErrMalformed          = errors.New("malformed payload")
	// ErrNoFrame is returned for events that are not replicated.
	ErrNoFrame = errors.New("event has no wire frame")
)

type MessageType uint8

const (
	TypeInstrument MessageType = iota + 1
	TypePool
	TypeVenue
	TypeLink
	TypePoolLiquidity
	TypeVenueStatus
	TypeVenueMetrics

	// DynamicTypeBase is the first type ID available to runtime schemas.
	DynamicTypeBase MessageType = 0x80
)

func (t MessageType) String() string {
	switch t {
	case TypeInstrument:
		return "instrument"
	case TypePool:
		return "pool"
	case TypeVenue:
		return "venue"
	case TypeLink:
		return "link"
	case TypePoolLiquidity:
		return "pool_liquidity"
	case TypeVenueStatus:
		return "venue_status"
	case TypeVenueMetrics:
		return "venue_metrics"
	}
	if t >= DynamicTypeBase {
		return fmt.Sprintf("dynamic_%d", uint8(t))
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// IsDynamic reports whether t is in the runtime schema range.
func (t MessageType) IsDynamic() bool { return t >= DynamicTypeBase }

// staticVersions is the current schema version of every built-in type.
var staticVersions = map[MessageType]uint8{
	TypeInstrument:    1,
	TypePool:          1,
	TypeVenue:         1,
	TypeLink:          1,
	TypePoolLiquidity: 1,
	TypeVenueStatus:   1,
	TypeVenueMetrics:  1,
}

type Flags uint16

const (
	// FlagReplay marks a frame re-read from the frame log.
	FlagReplay Flags = 1 << iota
	// FlagID128 marks frames from a registry deriving 128-bit IDs.
	FlagID128
)

func (f Flags) Has(o Flags) bool { return f&o == o }

type Header struct {
	Type      MessageType
	Version   uint8
	Flags     Flags
	Length    uint32
	Sequence  uint64
	Timestamp int64
	Checksum  uint64
}

func putHeader(dst []byte, h Header) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], Magic)
	dst[4] = byte(h.Type)
	dst[5] = h.Version
	le.PutUint16(dst[6:], uint16(h.Flags))
	le.PutUint32(dst[8:], h.Length)
	le.PutUint64(dst[12:], h.Sequence)
	le.PutUint64(dst[20:], uint64(h.Timestamp))
	le.PutUint64(dst[28:], h.Checksum)
}

// PeekHeader parses the header without checking the payload.
func PeekHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(buf), HeaderSize)
	}
	le := binary.LittleEndian
	if m := le.Uint32(buf[0:]); m != Magic {
		return Header{}, fmt.Errorf("%w: %#08x", ErrBadMagic, m)
	}
	return Header{
		Type:      MessageType(buf[4]),
		Version:   buf[5],
		Flags:     Flags(le.Uint16(buf[6:])),
		Length:    le.Uint32(buf[8:]),
		Sequence:  le.Uint64(buf[12:]),
		Timestamp: int64(le.Uint64(buf[20:])),
		Checksum:  le.Uint64(buf[28:]),
	}, nil
}

// verify checks framing and returns the payload. The type and version are
// checked by the caller.
func verify(buf []byte, h Header) ([]byte, error) {
	if uint64(len(buf)) != HeaderSize+uint64(h.Length) {
		return nil, fmt.Errorf("%w: header says %d payload bytes, frame has %d",
			ErrLengthMismatch, h.Length, len(buf)-HeaderSize)
	}
	payload := buf[HeaderSize:]
	if sum := xxhash.Sum64(payload); sum != h.Checksum {
		return nil, fmt.Errorf("%w: %016x != %016x", ErrChecksumMismatch, sum, h.Checksum)
	}
	return payload, nil
}

// seal prepends the header to payload.
func seal(h Header, payload []byte) []byte {
	h.Length = uint32(len(payload))
	h.Checksum = xxhash.Sum64(payload)
	out := make([]byte, HeaderSize+len(payload))
	putHeader(out, h)
	copy(out[HeaderSize:], payload)
	return out
}

// MarkReplay sets FlagReplay in place. The checksum covers only the payload
// so the frame stays valid.
func MarkReplay(buf []byte) {
	if len(buf) < HeaderSize {
		return
	}
	f := binary.LittleEndian.Uint16(buf[6:]) | uint16(FlagReplay)
	binary.LittleEndian.PutUint16(buf[6:], f)
}

// reason is the metrics label for a codec error.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrFieldTooLong):
		return "field_too_long"
	default:
		return "malformed"
	}
}
