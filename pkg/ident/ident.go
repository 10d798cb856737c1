// Package ident derives the content-addressed identifiers used by the registry.
//
// An identifier is a fixed-width prefix of a cryptographic digest computed over
// a canonical byte encoding of an entity's identifying fields. The same fields
// always produce the same identifier, across calls and across process restarts,
// so no counter or external state is involved.
//
// Width is a deployment choice. 64-bit identifiers are safe up to
// Width64.SafeCapacity() entries (65,536) at a birthday-bound collision
// probability below one in 2^33; beyond that, deployments should migrate to
// Width128. Changing width changes every identifier and is a breaking schema
// change for anything that persisted or transmitted identifiers.
package ident

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/blake2b"
)

// Width selects how many digest bits an identifier keeps.
type Width uint8

const (
	Width64  Width = 64
	Width128 Width = 128
)

// Valid reports whether w is a supported width.
func (w Width) Valid() bool {
	return w == Width64 || w == Width128
}

// SafeCapacity is the documented population ceiling for the width.
func (w Width) SafeCapacity() uint64 {
	if w == Width128 {
		return 1 << 32
	}
	return 1 << 16
}

// ParseWidth converts a configured bit count into a Width.
func ParseWidth(bits int) (Width, error) {
	w := Width(bits)
	if bits < 0 || bits > math.MaxUint8 || !w.Valid() {
		return 0, fmt.Errorf("unsupported id width %d (want 64 or 128)", bits)
	}
	return w, nil
}

// CollisionProbability approximates the chance that any two of n identifiers
// collide: 1 - exp(-n(n-1) / 2^(bits+1)).
func CollisionProbability(n uint64, w Width) float64 {
	if n < 2 {
		return 0
	}
	pairs := float64(n) * float64(n-1)
	return -math.Expm1(-pairs / math.Pow(2, float64(w)+1))
}

// Namespace separates the identifier spaces so an instrument and a venue with
// the same textual fields never share an ID.
type Namespace byte

const (
	NamespaceInstrument Namespace = 'I'
	NamespacePool       Namespace = 'P'
	NamespaceVenue      Namespace = 'V'
)

// ID is a 128-bit identifier. 64-bit deployments leave Lo zero.
type ID struct {
	Hi uint64
	Lo uint64
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id.Hi == 0 && id.Lo == 0 }

// Less orders IDs by their big-endian byte representation.
func (id ID) Less(other ID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

// Bytes returns the 16-byte big-endian form.
func (id ID) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:], id.Lo)
	return b
}

// FromBytes is the inverse of Bytes.
func FromBytes(b [16]byte) ID {
	return ID{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}
}

// String renders 16 hex characters for 64-bit IDs and 32 for 128-bit IDs.
func (id ID) String() string {
	b := id.Bytes()
	if id.Lo == 0 {
		return hex.EncodeToString(b[:8])
	}
	return hex.EncodeToString(b[:])
}

var ErrInvalidID = errors.New("invalid id")

// ParseID parses the output of String.
func ParseID(s string) (ID, error) {
	if len(s) != 16 && len(s) != 32 {
		return ID{}, fmt.Errorf("%w: %q has length %d", ErrInvalidID, s, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	var b [16]byte
	copy(b[:], raw)
	return FromBytes(b), nil
}

// HashFunc is the digest used for derivation. It must be a cryptographic hash.
type HashFunc func([]byte) [32]byte

// Blake2b256 is the default HashFunc.
func Blake2b256(b []byte) [32]byte { return blake2b.Sum256(b) }

// Deriver derives identifiers with a fixed width and hash.
type Deriver struct {
	Width Width
	Hash  HashFunc
}

// NewDeriver returns a Deriver using BLAKE2b-256.
func NewDeriver(w Width) Deriver {
	return Deriver{Width: w, Hash: Blake2b256}
}

// Derive hashes the namespace and fields. Each field is prefixed with its
// uvarint length so adjacent fields cannot bleed into each other.
func (d Deriver) Derive(ns Namespace, fields ...[]byte) ID {
	hash := d.Hash
	if hash == nil {
		hash = Blake2b256
	}
	size := 1
	for _, f := range fields {
		size += binary.MaxVarintLen64 + len(f)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, byte(ns))
	for _, f := range fields {
		buf = binary.AppendUvarint(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	sum := hash(buf)
	id := ID{Hi: binary.BigEndian.Uint64(sum[:8])}
	if d.Width == Width128 {
		id.Lo = binary.BigEndian.Uint64(sum[8:16])
	}
	return id
}

// DeriveStrings is Derive for string fields.
func (d Deriver) DeriveStrings(ns Namespace, fields ...string) ID {
	raw := make([][]byte, len(fields))
	for i, f := range fields {
		raw[i] = []byte(f)
	}
	return d.Derive(ns, raw...)
}
