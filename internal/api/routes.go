package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Conn reports broker connectivity; *nats.Conn satisfies it.
type Conn interface {
	IsConnected() bool
}

// HealthChecker is satisfied by the store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes mounts the metrics, health and read API routes. nc and st
// may be nil when the node runs without a broker or store.
func RegisterRoutes(app *fiber.App, nc Conn, st HealthChecker, h *RegistryHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{}
		status := "ok"
		code := fiber.StatusOK

		if nc != nil {
			checks["nats"] = "ok"
			if !nc.IsConnected() {
				checks["nats"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		if st != nil {
			checks["store"] = "ok"
			healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.HealthCheck(healthCtx); err != nil {
				checks["store"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// API routes
	v1 := app.Group("/api/v1")
	v1.Get("/instruments", h.FindInstruments)
	v1.Get("/instruments/:id", h.GetInstrument)
	v1.Get("/isin/:isin/venues", h.ISINVenues)
	v1.Get("/isin/:isin/best", h.BestVenue)
	v1.Get("/isin/:isin/arbitrage", h.Arbitrage)
	v1.Get("/stats", h.Stats)
	v1.Get("/collisions", h.Collisions)
}
