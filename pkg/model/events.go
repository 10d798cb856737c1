package model

import "time"

type EventKind uint8

const (
	InstrumentRegistered EventKind = iota + 1
	PoolRegistered
	VenueRegistered
	InstrumentLinked
	PoolLiquidityUpdated
	VenueStatusChanged
	VenueMetricsUpdated
	HashCollisionDetected
)

func (k EventKind) String() string {
	switch k {
	case InstrumentRegistered:
		return "instrument.registered"
	case PoolRegistered:
		return "pool.registered"
	case VenueRegistered:
		return "venue.registered"
	case InstrumentLinked:
		return "instrument.linked"
	case PoolLiquidityUpdated:
		return "pool.liquidity_updated"
	case VenueStatusChanged:
		return "venue.status_changed"
	case VenueMetricsUpdated:
		return "venue.metrics_updated"
	case HashCollisionDetected:
		return "registry.hash_collision"
	default:
		return "unknown"
	}
}

// RegistryEvent is published after every successful mutation. Exactly the
// field matching Kind is populated.
type RegistryEvent struct {
	Kind       EventKind           `json:"kind"`
	At         time.Time           `json:"at"`
	Instrument *Instrument         `json:"instrument,omitempty"`
	Pool       *Pool               `json:"pool,omitempty"`
	Venue      *Venue              `json:"venue,omitempty"`
	Link       *VenueLink          `json:"link,omitempty"`
	PoolID     PoolID              `json:"pool_id,omitempty"`
	Liquidity  *LiquiditySnapshot  `json:"liquidity,omitempty"`
	VenueID    VenueID             `json:"venue_id,omitempty"`
	Status     VenueStatus         `json:"status,omitempty"`
	Metrics    *PerformanceMetrics `json:"metrics,omitempty"`
	Collision  *CollisionRecord    `json:"collision,omitempty"`
}

// CollisionRecord is one row of the collision audit table. Existing and
// Rejected name the two entities (symbol, pool address or venue name).
type CollisionRecord struct {
	Entity     string    `json:"entity"` // instrument | pool | venue
	ID         string    `json:"id"`
	Existing   string    `json:"existing"`
	Rejected   string    `json:"rejected"`
	DetectedAt time.Time `json:"detected_at"`
}
