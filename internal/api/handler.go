package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/internal/registry"
	"github.com/Checker-Finance/venue-registry/internal/resolver"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Catalog is the read side of the registry the HTTP API serves.
type Catalog interface {
	GetByID(id model.InstrumentID) (model.Instrument, bool)
	FindBySymbol(symbol string) []model.Instrument
	Listings(isin string) []model.Listing
	FindByCUSIP(cusip string) []model.Instrument
	Stats() registry.Stats
	Collisions() []model.CollisionRecord
}

// VenueResolver answers the cross-venue questions.
type VenueResolver interface {
	FindAllVenuesForISIN(isin string) []model.Listing
	FindBestVenueForISIN(isin string, c resolver.Criteria) (model.Venue, error)
	FindArbitrageVenuesForISIN(isin string) []resolver.ArbitragePair
}

// RegistryHandler serves read-only registry queries.
type RegistryHandler struct {
	logger   *zap.Logger
	catalog  Catalog
	resolver VenueResolver
}

func NewRegistryHandler(logger *zap.Logger, catalog Catalog, r VenueResolver) *RegistryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryHandler{logger: logger, catalog: catalog, resolver: r}
}

func reply(c *fiber.Ctx, route string, code int, body any) error {
	metrics.IncHTTPRequest(route, code)
	return c.Status(code).JSON(body)
}

// GetInstrument handles GET /api/v1/instruments/:id.
func (h *RegistryHandler) GetInstrument(c *fiber.Ctx) error {
	const route = "instrument"
	var id model.InstrumentID
	if err := id.UnmarshalText([]byte(c.Params("id"))); err != nil {
		return reply(c, route, fiber.StatusBadRequest, fiber.Map{"error": err.Error()})
	}
	inst, ok := h.catalog.GetByID(id)
	if !ok {
		return reply(c, route, fiber.StatusNotFound, fiber.Map{"error": "instrument not found"})
	}
	return reply(c, route, fiber.StatusOK, inst)
}

// FindInstruments handles GET /api/v1/instruments?symbol=|isin=|cusip=.
func (h *RegistryHandler) FindInstruments(c *fiber.Ctx) error {
	const route = "instruments"
	var out []model.Instrument
	switch {
	case c.Query("symbol") != "":
		out = h.catalog.FindBySymbol(c.Query("symbol"))
	case c.Query("isin") != "":
		for _, l := range h.catalog.Listings(c.Query("isin")) {
			out = append(out, l.Instrument)
		}
	case c.Query("cusip") != "":
		out = h.catalog.FindByCUSIP(c.Query("cusip"))
	default:
		return reply(c, route, fiber.StatusBadRequest, fiber.Map{"error": "one of symbol, isin or cusip is required"})
	}
	if out == nil {
		out = []model.Instrument{}
	}
	return reply(c, route, fiber.StatusOK, fiber.Map{"instruments": out, "count": len(out)})
}

// ISINVenues handles GET /api/v1/isin/:isin/venues.
func (h *RegistryHandler) ISINVenues(c *fiber.Ctx) error {
	listings := h.resolver.FindAllVenuesForISIN(c.Params("isin"))
	if listings == nil {
		listings = []model.Listing{}
	}
	return reply(c, "isin_venues", fiber.StatusOK, fiber.Map{"isin": c.Params("isin"), "listings": listings})
}

// BestVenue handles GET /api/v1/isin/:isin/best?criteria=.
func (h *RegistryHandler) BestVenue(c *fiber.Ctx) error {
	const route = "isin_best"
	crit, err := resolver.ParseCriteria(c.Query("criteria"))
	if err != nil {
		return reply(c, route, fiber.StatusBadRequest, fiber.Map{"error": err.Error()})
	}
	v, err := h.resolver.FindBestVenueForISIN(c.Params("isin"), crit)
	switch {
	case errors.Is(err, resolver.ErrNoVenue):
		return reply(c, route, fiber.StatusNotFound, fiber.Map{"error": err.Error()})
	case err != nil:
		h.logger.Error("api.best_venue_failed", zap.String("isin", c.Params("isin")), zap.Error(err))
		return reply(c, route, fiber.StatusInternalServerError, fiber.Map{"error": err.Error()})
	}
	return reply(c, route, fiber.StatusOK, fiber.Map{"criteria": crit.String(), "venue": v})
}

// Arbitrage handles GET /api/v1/isin/:isin/arbitrage.
func (h *RegistryHandler) Arbitrage(c *fiber.Ctx) error {
	pairs := h.resolver.FindArbitrageVenuesForISIN(c.Params("isin"))
	if pairs == nil {
		pairs = []resolver.ArbitragePair{}
	}
	return reply(c, "isin_arbitrage", fiber.StatusOK, fiber.Map{"isin": c.Params("isin"), "pairs": pairs})
}

// Stats handles GET /api/v1/stats.
func (h *RegistryHandler) Stats(c *fiber.Ctx) error {
	return reply(c, "stats", fiber.StatusOK, h.catalog.Stats())
}

// Collisions handles GET /api/v1/collisions.
func (h *RegistryHandler) Collisions(c *fiber.Ctx) error {
	recs := h.catalog.Collisions()
	if recs == nil {
		recs = []model.CollisionRecord{}
	}
	return reply(c, "collisions", fiber.StatusOK, fiber.Map{"collisions": recs})
}
