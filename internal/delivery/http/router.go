package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartcity/ecoflow/internal/service"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, trafficSvc *service.TrafficService, dashboardSvc *service.DashboardService) {
	handler := NewHandler(trafficSvc, dashboardSvc)

	// Health check and scrape endpoint
	app.Get("/health", handler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 routes
	api := app.Group("/api/v1")
	{
		api.Get("/snapshot", handler.GetSnapshot)
		api.Get("/frame", handler.GetFrame)

		// Zones
		api.Get("/zones", handler.GetZones)
		api.Get("/zones.geojson", handler.GetZonesGeoJSON)
		api.Get("/zones/:id", handler.GetZone)

		// Roads and signals
		api.Get("/roads", handler.GetRoads)
		api.Get("/roads/:id", handler.GetRoad)
		api.Get("/signals/plans", handler.GetSignalPlans)

		// Re-run congestion prediction
		api.Post("/refresh", handler.Refresh)
	}
}
