package registry

import (
	"time"

	"github.com/Checker-Finance/venue-registry/internal/index"
	"github.com/Checker-Finance/venue-registry/pkg/eventbus"
	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Config sizes the registry and its collision monitor.
type Config struct {
	IDWidth ident.Width
	Stripes int

	// CollisionAlertThreshold collisions inside CollisionAlertWindow raise the
	// id space exhaustion alert. Zero disables the alert.
	CollisionAlertThreshold int
	CollisionAlertWindow    time.Duration
}

func DefaultConfig() Config {
	return Config{
		IDWidth:                 ident.Width64,
		Stripes:                 index.DefaultStripes,
		CollisionAlertThreshold: 3,
		CollisionAlertWindow:    time.Hour,
	}
}

type Option func(*Registry)

// WithDeriver replaces the ID deriver, e.g. to inject a degenerate hash.
func WithDeriver(d ident.Deriver) Option {
	return func(r *Registry) { r.deriver = d }
}

// WithBus shares an event bus with other components.
func WithBus(bus *eventbus.EventBus[model.RegistryEvent]) Option {
	return func(r *Registry) { r.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}
