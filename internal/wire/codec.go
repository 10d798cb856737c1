package wire

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Frame is a decoded message. Exactly the fields for Header.Type are set.
type Frame struct {
	Header Header

	Instrument *model.Instrument
	Pool       *model.Pool
	Venue      *model.Venue
	Link       *model.VenueLink
	PoolID     model.PoolID
	Liquidity  *model.LiquiditySnapshot
	VenueID    model.VenueID
	Status     model.VenueStatus
	Metrics    *model.PerformanceMetrics
}

// Encoder stamps frames with a process-wide monotonic sequence.
type Encoder struct {
	seq   atomic.Uint64
	flags Flags
	now   func() time.Time
}

// NewEncoder returns an encoder for a registry deriving IDs of width w.
func NewEncoder(w ident.Width) *Encoder {
	e := &Encoder{now: time.Now}
	if w == ident.Width128 {
		e.flags |= FlagID128
	}
	return e
}

// Sequence is the last sequence number handed out.
func (e *Encoder) Sequence() uint64 { return e.seq.Load() }

func (e *Encoder) encode(t MessageType, fill func(*writer)) ([]byte, error) {
	return e.encodeVersion(t, staticVersions[t], fill)
}

func (e *Encoder) encodeVersion(t MessageType, version uint8, fill func(*writer)) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 128)}
	fill(w)
	if w.err != nil {
		metrics.IncCodecError("encode")
		return nil, fmt.Errorf("encode %s: %w", t, w.err)
	}
	if uint64(len(w.buf)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("encode %s: %w: payload is %d bytes", t, ErrFieldTooLong, len(w.buf))
	}
	return seal(Header{
		Type:      t,
		Version:   version,
		Flags:     e.flags,
		Sequence:  e.seq.Add(1),
		Timestamp: e.now().UnixNano(),
	}, w.buf), nil
}

func (e *Encoder) EncodeInstrument(inst model.Instrument) ([]byte, error) {
	return e.encode(TypeInstrument, func(w *writer) { putInstrument(w, inst) })
}

func (e *Encoder) EncodePool(p model.Pool) ([]byte, error) {
	return e.encode(TypePool, func(w *writer) { putPool(w, p) })
}

func (e *Encoder) EncodeVenue(v model.Venue) ([]byte, error) {
	return e.encode(TypeVenue, func(w *writer) { putVenue(w, v) })
}

func (e *Encoder) EncodeLink(l model.VenueLink) ([]byte, error) {
	return e.encode(TypeLink, func(w *writer) {
		w.id(ident.ID(l.VenueID))
		w.id(ident.ID(l.InstrumentID))
	})
}

func (e *Encoder) EncodePoolLiquidity(id model.PoolID, s model.LiquiditySnapshot) ([]byte, error) {
	return e.encode(TypePoolLiquidity, func(w *writer) {
		w.id(ident.ID(id))
		putLiquidity(w, s)
	})
}

func (e *Encoder) EncodeVenueStatus(id model.VenueID, s model.VenueStatus) ([]byte, error) {
	return e.encode(TypeVenueStatus, func(w *writer) {
		w.id(ident.ID(id))
		w.u8(uint8(s))
	})
}

func (e *Encoder) EncodeVenueMetrics(id model.VenueID, m model.PerformanceMetrics) ([]byte, error) {
	return e.encode(TypeVenueMetrics, func(w *writer) {
		w.id(ident.ID(id))
		putMetrics(w, m)
	})
}

// EncodeEvent maps a registry event to its frame. Events that are local
// only, such as collision reports, return ErrNoFrame.
func (e *Encoder) EncodeEvent(ev model.RegistryEvent) ([]byte, MessageType, error) {
	var (
		t   MessageType
		buf []byte
		err error
	)
	switch {
	case ev.Kind == model.InstrumentRegistered && ev.Instrument != nil:
		t = TypeInstrument
		buf, err = e.EncodeInstrument(*ev.Instrument)
	case ev.Kind == model.PoolRegistered && ev.Pool != nil:
		t = TypePool
		buf, err = e.EncodePool(*ev.Pool)
	case ev.Kind == model.VenueRegistered && ev.Venue != nil:
		t = TypeVenue
		buf, err = e.EncodeVenue(*ev.Venue)
	case ev.Kind == model.InstrumentLinked && ev.Link != nil:
		t = TypeLink
		buf, err = e.EncodeLink(*ev.Link)
	case ev.Kind == model.PoolLiquidityUpdated && ev.Liquidity != nil:
		t = TypePoolLiquidity
		buf, err = e.EncodePoolLiquidity(ev.PoolID, *ev.Liquidity)
	case ev.Kind == model.VenueStatusChanged:
		t = TypeVenueStatus
		buf, err = e.EncodeVenueStatus(ev.VenueID, ev.Status)
	case ev.Kind == model.VenueMetricsUpdated && ev.Metrics != nil:
		t = TypeVenueMetrics
		buf, err = e.EncodeVenueMetrics(ev.VenueID, *ev.Metrics)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrNoFrame, ev.Kind)
	}
	return buf, t, err
}

// Decode validates and parses a static frame. Dynamic types are decoded by
// a SchemaRegistry.
func Decode(buf []byte) (Frame, error) {
	f, err := decode(buf)
	if err != nil {
		metricsCodecError(err)
	}
	return f, err
}

func metricsCodecError(err error) {
	metrics.IncCodecError(reason(err))
}

func decode(buf []byte) (Frame, error) {
	h, err := PeekHeader(buf)
	if err != nil {
		return Frame{}, err
	}
	want, ok := staticVersions[h.Type]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %s", ErrUnknownType, h.Type)
	}
	if h.Version != want {
		return Frame{}, fmt.Errorf("%w: %s v%d, supported v%d", ErrUnsupportedVersion, h.Type, h.Version, want)
	}
	payload, err := verify(buf, h)
	if err != nil {
		return Frame{}, err
	}

	r := &reader{buf: payload}
	f := Frame{Header: h}
	switch h.Type {
	case TypeInstrument:
		inst := readInstrument(r)
		f.Instrument = &inst
	case TypePool:
		p := readPool(r)
		f.Pool = &p
	case TypeVenue:
		v := readVenue(r)
		f.Venue = &v
	case TypeLink:
		f.Link = &model.VenueLink{
			VenueID:      model.VenueID(r.id()),
			InstrumentID: model.InstrumentID(r.id()),
		}
	case TypePoolLiquidity:
		f.PoolID = model.PoolID(r.id())
		s := readLiquidity(r)
		f.Liquidity = &s
	case TypeVenueStatus:
		f.VenueID = model.VenueID(r.id())
		f.Status = model.VenueStatus(r.u8())
	case TypeVenueMetrics:
		f.VenueID = model.VenueID(r.id())
		m := readMetrics(r)
		f.Metrics = &m
	}
	if err := r.done(); err != nil {
		return Frame{}, fmt.Errorf("decode %s: %w", h.Type, err)
	}
	return f, nil
}

// Event converts the frame back to the registry event it was encoded from.
func (f Frame) Event() model.RegistryEvent {
	ev := model.RegistryEvent{At: time.Unix(0, f.Header.Timestamp).UTC()}
	switch f.Header.Type {
	case TypeInstrument:
		ev.Kind, ev.Instrument = model.InstrumentRegistered, f.Instrument
	case TypePool:
		ev.Kind, ev.Pool = model.PoolRegistered, f.Pool
	case TypeVenue:
		ev.Kind, ev.Venue = model.VenueRegistered, f.Venue
	case TypeLink:
		ev.Kind, ev.Link = model.InstrumentLinked, f.Link
	case TypePoolLiquidity:
		ev.Kind, ev.PoolID, ev.Liquidity = model.PoolLiquidityUpdated, f.PoolID, f.Liquidity
	case TypeVenueStatus:
		ev.Kind, ev.VenueID, ev.Status = model.VenueStatusChanged, f.VenueID, f.Status
	case TypeVenueMetrics:
		ev.Kind, ev.VenueID, ev.Metrics = model.VenueMetricsUpdated, f.VenueID, f.Metrics
	}
	return ev
}
