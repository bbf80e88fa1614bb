package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/service"
	"github.com/smartcity/ecoflow/internal/signal"
)

// Handler contains all HTTP handlers
type Handler struct {
	trafficSvc   *service.TrafficService
	dashboardSvc *service.DashboardService
}

// NewHandler creates a new handler
func NewHandler(trafficSvc *service.TrafficService, dashboardSvc *service.DashboardService) *Handler {
	return &Handler{
		trafficSvc:   trafficSvc,
		dashboardSvc: dashboardSvc,
	}
}

type refreshRequest struct {
	Timestamp string `json:"timestamp"`
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	health := h.dashboardSvc.Health(c.UserContext())
	status := fiber.StatusOK
	if health.Status != "healthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"service": "ecoflow",
		"version": "1.0.0",
		"health":  health,
	})
}

// GetSnapshot describes the snapshot being served and the last refresh outcome
func (h *Handler) GetSnapshot(c *fiber.Ctx) error {
	snap := h.trafficSvc.Current()
	if snap == nil {
		return toHTTPError(domain.ErrNoSnapshot)
	}

	resp := fiber.Map{
		"success": true,
		"data":    snap.Info(),
		"tick":    h.trafficSvc.Tick(),
	}
	if last, ok := h.trafficSvc.LastStatus(); ok {
		resp["last_refresh"] = last
	}
	return c.JSON(resp)
}

// GetFrame returns the light state of every road at the current tick
func (h *Handler) GetFrame(c *fiber.Ctx) error {
	frame, err := h.trafficSvc.Frame()
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    frame,
	})
}

// GetZones returns all zones, or the one named by ?zone= with the camera on it
func (h *Handler) GetZones(c *fiber.Ctx) error {
	sel, err := h.dashboardSvc.Zones(c.Query("zone"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    sel,
		"count":   len(sel.Zones),
	})
}

// GetZone returns a single zone
func (h *Handler) GetZone(c *fiber.Ctx) error {
	zone, err := h.dashboardSvc.Zone(c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    zone,
	})
}

// GetZonesGeoJSON returns the zone polygons as a FeatureCollection
func (h *Handler) GetZonesGeoJSON(c *fiber.Ctx) error {
	fc, err := h.dashboardSvc.ZonesGeoJSON()
	if err != nil {
		return toHTTPError(err)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/geo+json")
	return c.Send(data)
}

// GetRoads returns road views, optionally filtered by ?zone= and paged by ?offset=&limit=
func (h *Handler) GetRoads(c *fiber.Ctx) error {
	roads, err := h.dashboardSvc.Roads(c.Query("zone"))
	if err != nil {
		return toHTTPError(err)
	}

	total := len(roads)
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 0)
	if offset < 0 || limit < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "offset and limit must not be negative")
	}
	if limit == 0 {
		limit = total
	}
	roads = lo.Subset(roads, offset, uint(limit))

	return c.JSON(fiber.Map{
		"success": true,
		"data":    roads,
		"count":   len(roads),
		"total":   total,
		"tick":    h.trafficSvc.Tick(),
	})
}

// GetRoad returns a single road at the current tick, plus the light saved with
// the last persisted snapshot when the store keeps one
func (h *Handler) GetRoad(c *fiber.Ctx) error {
	road, err := h.dashboardSvc.Road(c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	resp := fiber.Map{
		"success": true,
		"data":    road,
	}
	stored, ok, err := h.dashboardSvc.PersistedLight(c.UserContext(), road.RoadID)
	if err != nil {
		log.Warnf("Failed to read stored light for road %s: %v", road.RoadID, err)
	} else if ok {
		resp["persisted_light"] = stored
	}
	return c.JSON(resp)
}

// GetSignalPlans returns the light timing per congestion band
func (h *Handler) GetSignalPlans(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success":      true,
		"data":         signal.Plans(),
		"cycle_length": signal.CycleLength,
		"tick":         h.trafficSvc.Tick(),
	})
}

// Refresh re-runs congestion prediction for {"timestamp": "HH:MM:SS"} (default: now)
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if req.Timestamp == "" {
		req.Timestamp = h.trafficSvc.Now()
	}

	res, err := h.trafficSvc.Refresh(c.UserContext(), req.Timestamp)
	if errors.Is(err, domain.ErrPredictionFailed) {
		// the previous snapshot keeps being served
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
			"data":    res,
		})
	}
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    res,
	})
}
