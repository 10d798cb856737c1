// Package registry owns the instrument, pool and venue tables and the links
// between them.
//
// Every registration stages its secondary index entries first and publishes
// the primary entry last. Lookups through a secondary index resolve through
// the primary table, so a reader either sees the whole registration or none
// of it. Entries are never removed.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/index"
	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/internal/rate"
	"github.com/Checker-Finance/venue-registry/pkg/eventbus"
	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

const (
	entityInstrument = "instrument"
	entityPool       = "pool"
	entityVenue      = "venue"
	entityLink       = "link"
)

// listingRef is an ISIN listing held by ID; resolved on read.
type listingRef struct {
	exchange string
	id       model.InstrumentID
}

// Registry is the explicit registry context. The zero value is not usable;
// construct with New.
type Registry struct {
	cfg     Config
	logger  *zap.Logger
	deriver ident.Deriver
	now     func() time.Time
	bus     *eventbus.EventBus[model.RegistryEvent]

	// instruments
	instruments *index.Map[model.InstrumentID, model.Instrument]
	byScope     *index.Map[string, model.InstrumentID]
	bySymbol    *index.Multi[string, model.InstrumentID]
	bySourceSym *index.Multi[string, model.InstrumentID]
	byChainAddr *index.Map[string, model.InstrumentID]
	byAddress   *index.Multi[string, model.InstrumentID]
	byISIN      *index.Map[string, model.InstrumentID]
	listings    *index.Multi[string, listingRef]
	byCUSIP     *index.Multi[string, model.InstrumentID]
	byKind      *index.Multi[model.InstrumentKind, model.InstrumentID]
	bySource    *index.Multi[string, model.InstrumentID]

	// pools
	pools         *index.Map[model.PoolID, model.Pool]
	poolsByPair   *index.Multi[string, model.PoolID]
	poolsByDEX    *index.Multi[string, model.PoolID]
	poolsByChain  *index.Multi[string, model.PoolID]
	poolByAddress *index.Map[string, model.PoolID]

	// venues and links
	venues           *index.Map[model.VenueID, model.Venue]
	venueByName      *index.Map[string, model.VenueID]
	venueSeq         atomic.Uint64
	links            *index.Map[model.VenueLink, time.Time]
	instrumentVenues *index.Multi[model.InstrumentID, model.VenueID]
	venueInstruments *index.Multi[model.VenueID, model.InstrumentID]
	isinVenues       *index.Multi[string, model.VenueLink]

	lookups    atomic.Uint64
	hits       atomic.Uint64
	collisions atomic.Uint64
	alerting   atomic.Bool

	collisionMu    sync.Mutex
	collisionLog   []model.CollisionRecord
	collisionMeter *rate.Manager
}

// Stats is a point-in-time snapshot of the registry counters.
type Stats struct {
	Instruments int    `json:"instruments"`
	Pools       int    `json:"pools"`
	Venues      int    `json:"venues"`
	Links       int    `json:"links"`
	Lookups     uint64 `json:"lookups"`
	Hits        uint64 `json:"hits"`
	Collisions  uint64 `json:"collisions"`
	IDWidth     int    `json:"id_width"`
	// ExhaustionAlert is latched once collisions exceed the alert rate.
	ExhaustionAlert bool `json:"exhaustion_alert"`
}

func instrumentHash(id model.InstrumentID) uint64 { return id.Hi ^ id.Lo }
func poolHash(id model.PoolID) uint64             { return id.Hi ^ id.Lo }
func venueHash(id model.VenueID) uint64           { return id.Hi ^ id.Lo }
func kindHash(k model.InstrumentKind) uint64      { return uint64(k) }
func linkHash(l model.VenueLink) uint64           { return l.VenueID.Hi ^ l.InstrumentID.Hi }

// New builds an empty registry.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Registry {
	if !cfg.IDWidth.Valid() {
		cfg.IDWidth = ident.Width64
	}
	if cfg.Stripes <= 0 {
		cfg.Stripes = index.DefaultStripes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := cfg.Stripes
	r := &Registry{
		cfg:     cfg,
		logger:  logger,
		deriver: ident.NewDeriver(cfg.IDWidth),
		now:     time.Now,

		instruments: index.NewMap[model.InstrumentID, model.Instrument](n, instrumentHash),
		byScope:     index.NewMap[string, model.InstrumentID](n, index.StringHash),
		bySymbol:    index.NewMulti[string, model.InstrumentID](n, index.StringHash),
		bySourceSym: index.NewMulti[string, model.InstrumentID](n, index.StringHash),
		byChainAddr: index.NewMap[string, model.InstrumentID](n, index.StringHash),
		byAddress:   index.NewMulti[string, model.InstrumentID](n, index.StringHash),
		byISIN:      index.NewMap[string, model.InstrumentID](n, index.StringHash),
		listings:    index.NewMulti[string, listingRef](n, index.StringHash),
		byCUSIP:     index.NewMulti[string, model.InstrumentID](n, index.StringHash),
		byKind:      index.NewMulti[model.InstrumentKind, model.InstrumentID](n, kindHash),
		bySource:    index.NewMulti[string, model.InstrumentID](n, index.StringHash),

		pools:         index.NewMap[model.PoolID, model.Pool](n, poolHash),
		poolsByPair:   index.NewMulti[string, model.PoolID](n, index.StringHash),
		poolsByDEX:    index.NewMulti[string, model.PoolID](n, index.StringHash),
		poolsByChain:  index.NewMulti[string, model.PoolID](n, index.StringHash),
		poolByAddress: index.NewMap[string, model.PoolID](n, index.StringHash),

		venues:           index.NewMap[model.VenueID, model.Venue](n, venueHash),
		venueByName:      index.NewMap[string, model.VenueID](n, index.StringHash),
		links:            index.NewMap[model.VenueLink, time.Time](n, linkHash),
		instrumentVenues: index.NewMulti[model.InstrumentID, model.VenueID](n, instrumentHash),
		venueInstruments: index.NewMulti[model.VenueID, model.InstrumentID](n, venueHash),
		isinVenues:       index.NewMulti[string, model.VenueLink](n, index.StringHash),

		collisionMeter: rate.NewManager(rate.Config{
			Window:    cfg.CollisionAlertWindow,
			Threshold: cfg.CollisionAlertThreshold,
		}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = eventbus.New[model.RegistryEvent]()
	}
	return r
}

// Bus is the bus every successful mutation is published on.
func (r *Registry) Bus() *eventbus.EventBus[model.RegistryEvent] { return r.bus }

// Deriver returns the deriver IDs are computed with.
func (r *Registry) Deriver() ident.Deriver { return r.deriver }

func (r *Registry) Width() ident.Width { return r.deriver.Width }

func (r *Registry) Stats() Stats {
	return Stats{
		Instruments:     r.instruments.Len(),
		Pools:           r.pools.Len(),
		Venues:          r.venues.Len(),
		Links:           r.links.Len(),
		Lookups:         r.lookups.Load(),
		Hits:            r.hits.Load(),
		Collisions:      r.collisions.Load(),
		IDWidth:         int(r.deriver.Width),
		ExhaustionAlert: r.alerting.Load(),
	}
}

// Collisions returns a copy of the collision audit table, oldest first.
func (r *Registry) Collisions() []model.CollisionRecord {
	r.collisionMu.Lock()
	defer r.collisionMu.Unlock()
	out := make([]model.CollisionRecord, len(r.collisionLog))
	copy(out, r.collisionLog)
	return out
}

// recordCollision must be called without holding any index stripe.
func (r *Registry) recordCollision(rec model.CollisionRecord) {
	r.collisionMu.Lock()
	r.collisionLog = append(r.collisionLog, rec)
	r.collisionMu.Unlock()

	total := r.collisions.Add(1)
	metrics.IncCollision(rec.Entity)
	metrics.IncRegistration(rec.Entity, "collision")

	r.logger.Error("registry.hash_collision",
		zap.String("entity", rec.Entity),
		zap.String("id", rec.ID),
		zap.String("existing", rec.Existing),
		zap.String("rejected", rec.Rejected),
		zap.Int("width", int(r.deriver.Width)),
		zap.Uint64("total", total))

	if n, exceeded := r.collisionMeter.Mark(rec.Entity); exceeded {
		first := !r.alerting.Swap(true)
		metrics.SetIDSpaceAlert(true)
		if first {
			r.logger.Error("registry.id_space_exhaustion",
				zap.String("entity", rec.Entity),
				zap.Int("collisions_in_window", n),
				zap.Duration("window", r.cfg.CollisionAlertWindow),
				zap.Int("width", int(r.deriver.Width)),
				zap.Float64("probability_at_capacity",
					ident.CollisionProbability(r.deriver.Width.SafeCapacity(), r.deriver.Width)))
		}
	}

	r.publish(model.RegistryEvent{Kind: model.HashCollisionDetected, Collision: &rec})
}

func (r *Registry) publish(ev model.RegistryEvent) {
	if ev.At.IsZero() {
		ev.At = r.now().UTC()
	}
	r.bus.PublishSync(ev)
}

func (r *Registry) lookup(index string, hit bool) {
	r.lookups.Add(1)
	if hit {
		r.hits.Add(1)
	}
	metrics.IncLookup(index, hit)
}

// sortVenues orders venues by registration sequence.
func sortVenues(vs []model.Venue) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].RegisteredSeq < vs[j].RegisteredSeq })
}
