package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/internal/registry"
	"github.com/Checker-Finance/venue-registry/internal/wire"
	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

var (
	ErrIDMismatch    = errors.New("derived id mismatch")
	ErrWidthMismatch = errors.New("id width mismatch")
	ErrPendingFull   = errors.New("pending frame queue full")
)

// IDMismatchError reports a frame whose carried ID differs from the one the
// local deriver computes for the same content.
type IDMismatchError struct {
	Type    wire.MessageType
	Carried string
	Derived string
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("%s frame carries id %s, local derivation gives %s", e.Type, e.Carried, e.Derived)
}

func (e *IDMismatchError) Unwrap() error { return ErrIDMismatch }

// Target is the registry surface replication writes to.
type Target interface {
	Deriver() ident.Deriver
	RegisterInstrument(inst model.Instrument) (model.InstrumentID, error)
	RegisterPool(p model.Pool) (model.PoolID, error)
	RegisterVenue(v model.Venue) (model.VenueID, error)
	LinkInstrumentToVenue(instID model.InstrumentID, venueID model.VenueID) error
	UpdatePoolLiquidity(id model.PoolID, snap model.LiquiditySnapshot) error
	SetVenueStatus(id model.VenueID, status model.VenueStatus) error
	UpdateVenueMetrics(id model.VenueID, m model.PerformanceMetrics) error
}

// Record is one stored frame as read back from a frame log.
type Record struct {
	ID     string
	Origin string
	Frame  []byte
}

// FrameSource replays stored frames in append order.
type FrameSource interface {
	Range(ctx context.Context, fn func(Record) error) error
}

// ReplayResult summarises one catch-up pass.
type ReplayResult struct {
	Applied int
	Failed  int
	Pending int
}

// Replicator applies frames from peers to the local registry. Frames whose
// prerequisites have not arrived yet are parked and retried after every
// successful apply.
type Replicator struct {
	origin string
	target Target
	limit  int
	guard  *echoGuard
	logger *zap.Logger

	schemas  *wire.SchemaRegistry
	onRecord func(wire.Record)

	mu      sync.Mutex
	pending []wire.Frame
}

// NewReplicator returns a replicator for the node named origin. limit bounds
// the pending queue.
func NewReplicator(origin string, target Target, limit int, logger *zap.Logger) *Replicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 1024
	}
	return &Replicator{
		origin: origin,
		target: target,
		limit:  limit,
		guard:  newEchoGuard(),
		logger: logger,
	}
}

// AcceptRecords routes frames of dynamic types known to schemas to fn
// instead of rejecting them as unknown.
func (r *Replicator) AcceptRecords(schemas *wire.SchemaRegistry, fn func(wire.Record)) {
	r.schemas, r.onRecord = schemas, fn
}

// Pending is the number of parked frames.
func (r *Replicator) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Apply decodes buf and applies it. Frames stamped with this node's own
// origin are ignored. A frame that is parked returns nil.
func (r *Replicator) Apply(ctx context.Context, origin string, buf []byte) error {
	if origin != "" && origin == r.origin {
		metrics.IncFrame("apply", "own_origin", "skipped")
		return nil
	}
	return r.apply(ctx, buf)
}

// Replay applies every frame in src, including this node's own, so a
// restarted node can rebuild its state. Per-frame failures are counted and
// logged; only context and source errors stop the pass.
func (r *Replicator) Replay(ctx context.Context, src FrameSource) (ReplayResult, error) {
	var res ReplayResult
	err := src.Range(ctx, func(rec Record) error {
		if err := r.apply(ctx, rec.Frame); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			res.Failed++
			r.logger.Warn("replication.replay_frame_failed",
				zap.String("entry", rec.ID),
				zap.String("origin", rec.Origin),
				zap.Error(err))
			return nil
		}
		res.Applied++
		return nil
	})
	res.Pending = r.Pending()
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}
	r.logger.Info("replication.replay_complete",
		zap.Int("applied", res.Applied),
		zap.Int("failed", res.Failed),
		zap.Int("pending", res.Pending))
	return res, nil
}

func (r *Replicator) apply(ctx context.Context, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	if h, err := wire.PeekHeader(buf); err == nil && h.Type.IsDynamic() && r.schemas != nil {
		return r.applyRecord(buf)
	}

	f, err := wire.Decode(buf)
	if err != nil {
		metrics.IncFrame("apply", "invalid", "rejected")
		r.logger.Warn("wire.decode_failed", zap.Int("bytes", len(buf)), zap.Error(err))
		return err
	}
	typ := f.Header.Type.String()
	defer metrics.ObserveDuration(metrics.FrameApplyLatency, start, typ)

	if wide := r.target.Deriver().Width == ident.Width128; wide != f.Header.Flags.Has(wire.FlagID128) {
		metrics.IncFrame("apply", typ, "rejected")
		return fmt.Errorf("%w: %s frame seq %d", ErrWidthMismatch, typ, f.Header.Sequence)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.applyFrame(f)
	switch {
	case missingPrerequisite(err):
		return r.park(f, err)
	case err != nil:
		metrics.IncFrame("apply", typ, "failed")
		r.logger.Warn("replication.apply_failed",
			zap.String("type", typ),
			zap.Uint64("sequence", f.Header.Sequence),
			zap.Error(err))
		return err
	}
	metrics.IncFrame("apply", typ, "ok")
	r.drain()
	return nil
}

func (r *Replicator) applyRecord(buf []byte) error {
	rec, err := r.schemas.DecodeRecord(buf)
	if err != nil {
		metrics.IncFrame("apply", "dynamic", "rejected")
		r.logger.Warn("wire.decode_failed", zap.Int("bytes", len(buf)), zap.Error(err))
		return err
	}
	metrics.IncFrame("apply", rec.Schema, "ok")
	if r.onRecord != nil {
		r.onRecord(rec)
	}
	return nil
}

// park queues f until its prerequisites exist. Caller holds r.mu.
func (r *Replicator) park(f wire.Frame, cause error) error {
	if len(r.pending) >= r.limit {
		metrics.IncFrame("apply", f.Header.Type.String(), "dropped")
		return fmt.Errorf("%w (%d frames): %w", ErrPendingFull, r.limit, cause)
	}
	r.pending = append(r.pending, f)
	metrics.IncFrame("apply", f.Header.Type.String(), "parked")
	metrics.SetPending(len(r.pending))
	r.logger.Debug("replication.frame_parked",
		zap.Stringer("type", f.Header.Type),
		zap.Uint64("sequence", f.Header.Sequence),
		zap.Error(cause))
	return nil
}

// drain retries parked frames until a full pass makes no progress. Caller
// holds r.mu.
func (r *Replicator) drain() {
	for progress := true; progress && len(r.pending) > 0; {
		progress = false
		kept := make([]wire.Frame, 0, len(r.pending))
		for _, f := range r.pending {
			err := r.applyFrame(f)
			switch {
			case missingPrerequisite(err):
				kept = append(kept, f)
				continue
			case err != nil:
				metrics.IncFrame("apply", f.Header.Type.String(), "failed")
				r.logger.Warn("replication.parked_frame_dropped",
					zap.Stringer("type", f.Header.Type),
					zap.Uint64("sequence", f.Header.Sequence),
					zap.Error(err))
			default:
				metrics.IncFrame("apply", f.Header.Type.String(), "ok")
			}
			progress = true
		}
		r.pending = kept
	}
	metrics.SetPending(len(r.pending))
}

func missingPrerequisite(err error) bool {
	return errors.Is(err, registry.ErrUnknownInstrument) ||
		errors.Is(err, registry.ErrUnknownVenue) ||
		errors.Is(err, registry.ErrUnknownPool)
}

// applyFrame writes one decoded frame to the target. The frame's event key
// is held in the echo guard for the duration of the call so the broadcaster
// does not send the resulting event back out.
func (r *Replicator) applyFrame(f wire.Frame) error {
	key := eventKey(f.Event())
	r.guard.hold(key)
	defer r.guard.release(key)

	d := r.target.Deriver()
	switch f.Header.Type {
	case wire.TypeInstrument:
		inst := *f.Instrument
		if derived := inst.DeriveID(d); derived != inst.ID {
			return &IDMismatchError{Type: f.Header.Type, Carried: inst.ID.String(), Derived: derived.String()}
		}
		_, err := r.target.RegisterInstrument(inst)
		return err
	case wire.TypePool:
		p := *f.Pool
		if derived := p.DeriveID(d); derived != p.ID {
			return &IDMismatchError{Type: f.Header.Type, Carried: p.ID.String(), Derived: derived.String()}
		}
		_, err := r.target.RegisterPool(p)
		return err
	case wire.TypeVenue:
		v := *f.Venue
		if derived := v.DeriveID(d); derived != v.ID {
			return &IDMismatchError{Type: f.Header.Type, Carried: v.ID.String(), Derived: derived.String()}
		}
		_, err := r.target.RegisterVenue(v)
		return err
	case wire.TypeLink:
		return r.target.LinkInstrumentToVenue(f.Link.InstrumentID, f.Link.VenueID)
	case wire.TypePoolLiquidity:
		return r.target.UpdatePoolLiquidity(f.PoolID, *f.Liquidity)
	case wire.TypeVenueStatus:
		return r.target.SetVenueStatus(f.VenueID, f.Status)
	case wire.TypeVenueMetrics:
		return r.target.UpdateVenueMetrics(f.VenueID, *f.Metrics)
	}
	return fmt.Errorf("%w: %s", wire.ErrUnknownType, f.Header.Type)
}

// echoGuard holds the keys of events the replicator is about to cause.
type echoGuard struct {
	mu   sync.Mutex
	keys map[string]int
}

func newEchoGuard() *echoGuard {
	return &echoGuard{keys: make(map[string]int)}
}

func (g *echoGuard) hold(key string) {
	g.mu.Lock()
	g.keys[key]++
	g.mu.Unlock()
}

func (g *echoGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[key] <= 1 {
		delete(g.keys, key)
		return
	}
	g.keys[key]--
}

// consume reports whether key is held and, if so, releases one hold.
func (g *echoGuard) consume(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.keys[key]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(g.keys, key)
	} else {
		g.keys[key] = n - 1
	}
	return true
}

// eventKey identifies the state change an event describes. Registrations
// are keyed by entity ID; updates include the new value.
func eventKey(ev model.RegistryEvent) string {
	k := ev.Kind.String()
	switch ev.Kind {
	case model.InstrumentRegistered:
		if ev.Instrument != nil {
			return k + "|" + ev.Instrument.ID.String()
		}
	case model.PoolRegistered:
		if ev.Pool != nil {
			return k + "|" + ev.Pool.ID.String()
		}
	case model.VenueRegistered:
		if ev.Venue != nil {
			return k + "|" + ev.Venue.ID.String()
		}
	case model.InstrumentLinked:
		if ev.Link != nil {
			return k + "|" + ev.Link.VenueID.String() + "|" + ev.Link.InstrumentID.String()
		}
	case model.PoolLiquidityUpdated:
		if s := ev.Liquidity; s != nil {
			return fmt.Sprintf("%s|%s|%s|%s|%s|%d", k, ev.PoolID, s.Reserve0, s.Reserve1, s.TVLUSD, s.Block)
		}
	case model.VenueStatusChanged:
		return k + "|" + ev.VenueID.String() + "|" + ev.Status.String()
	case model.VenueMetricsUpdated:
		if ev.Metrics != nil {
			return fmt.Sprintf("%s|%s|%+v", k, ev.VenueID, *ev.Metrics)
		}
	}
	return k
}
