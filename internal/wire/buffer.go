package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/venue-registry/pkg/ident"
)

// writer appends little-endian fields. The first error sticks and later
// writes are dropped.
type writer struct {
	buf []byte
	err error
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) str(field, s string) {
	if w.err != nil {
		return
	}
	if len(s) > MaxStringLen {
		w.err = fmt.Errorf("%w: %s is %d bytes", ErrFieldTooLong, field, len(s))
		return
	}
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) strs(field string, ss []string) {
	if len(ss) > math.MaxUint8 {
		w.err = fmt.Errorf("%w: %s has %d entries", ErrFieldTooLong, field, len(ss))
		return
	}
	w.u8(uint8(len(ss)))
	for _, s := range ss {
		w.str(field, s)
	}
}

// bytes uses a u16 prefix.
func (w *writer) bytes(field string, b []byte) {
	if len(b) > math.MaxUint16 {
		w.err = fmt.Errorf("%w: %s is %d bytes", ErrFieldTooLong, field, len(b))
		return
	}
	w.u16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) id(id ident.ID) {
	b := id.Bytes()
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) dec(field string, d decimal.Decimal) { w.str(field, d.String()) }

func (w *writer) nullDec(field string, d decimal.NullDecimal) {
	w.boolean(d.Valid)
	if d.Valid {
		w.dec(field, d.Decimal)
	}
}

// ts writes the zero time as 0.
func (w *writer) ts(t time.Time) {
	if t.IsZero() {
		w.i64(0)
		return
	}
	w.i64(t.UnixNano())
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *reader) boolean() bool { return r.u8() != 0 }

func (r *reader) str() string {
	n := r.u8()
	return string(r.take(int(n)))
}

func (r *reader) strs() []string {
	n := int(r.u8())
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.str())
	}
	return out
}

func (r *reader) bytes() []byte {
	n := r.u16()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *reader) id() ident.ID {
	b := r.take(16)
	if b == nil {
		return ident.ID{}
	}
	var raw [16]byte
	copy(raw[:], b)
	return ident.FromBytes(raw)
}

// dec decodes "0" to the zero Decimal.
func (r *reader) dec() decimal.Decimal {
	s := r.str()
	if r.err != nil || s == "0" {
		return decimal.Decimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		r.err = fmt.Errorf("%w: decimal %q: %v", ErrMalformed, s, err)
	}
	return d
}

func (r *reader) nullDec() decimal.NullDecimal {
	if !r.boolean() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(r.dec())
}

func (r *reader) ts() time.Time {
	ns := r.i64()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// done fails if bytes are left over.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf)-r.off)
	}
	return nil
}
