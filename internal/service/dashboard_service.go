package service

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/signal"
	"github.com/smartcity/ecoflow/pkg/utils"
)

const (
	overviewZoom  = 12
	selectionZoom = 14
)

// ZoneSelection is the zone layer plus the camera for the renderer
type ZoneSelection struct {
	Selected string            `json:"selected,omitempty"`
	Zones    []domain.ZoneView `json:"zones"`
	View     domain.ViewState  `json:"view"`
}

// Health is the connectivity report of the service dependencies
type Health struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Predictor string    `json:"predictor"`
	Snapshot  uint64    `json:"snapshot_version"`
	Tick      uint64    `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// lightStore is implemented by stores that keep the light state of the last save
type lightStore interface {
	LightStates(ctx context.Context) (map[string]domain.LightState, error)
}

// DashboardService builds renderer views from the current snapshot
type DashboardService struct {
	traffic   *TrafficService
	store     Store
	predictor CongestionPredictor
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(traffic *TrafficService, store Store, predictor CongestionPredictor) *DashboardService {
	return &DashboardService{
		traffic:   traffic,
		store:     store,
		predictor: predictor,
	}
}

// CongestionColor maps congestion to the red/green ramp [255c, 255(1-c), 0]
func CongestionColor(c float64) [3]uint8 {
	c = utils.Clamp(c, 0, 1)
	return [3]uint8{uint8(utils.Lerp(0, 255, c)), uint8(utils.Lerp(255, 0, c)), 0}
}

// ZoneViews converts zones to renderer points located at the zone centre
func ZoneViews(zones []domain.Zone) []domain.ZoneView {
	return lo.Map(zones, func(z domain.Zone, _ int) domain.ZoneView {
		return zoneView(z)
	})
}

func zoneView(z domain.Zone) domain.ZoneView {
	c := z.Center()
	return domain.ZoneView{
		ZoneID:     z.ID,
		Longitude:  c.Lon(),
		Latitude:   c.Lat(),
		Congestion: z.Congestion,
		Color:      CongestionColor(z.Congestion),
	}
}

// RoadViews converts roads to renderer paths coloured by their light state at tick
func RoadViews(roads []domain.RoadSegment, tick uint64) []domain.RoadView {
	return lo.Map(roads, func(r domain.RoadSegment, _ int) domain.RoadView {
		return roadView(r, tick)
	})
}

func roadView(r domain.RoadSegment, tick uint64) domain.RoadView {
	state := signal.RoadPhase(r, tick)
	return domain.RoadView{
		RoadID: r.ID,
		Path: lo.Map(r.Path, func(p orb.Point, _ int) [2]float64 {
			return [2]float64(p)
		}),
		ZoneID:     r.ZoneID,
		Congestion: r.Congestion,
		Band:       string(signal.BandOf(r.Congestion)),
		Light:      state,
		Color:      signal.Color(state),
	}
}

func (s *DashboardService) snapshot() (*Snapshot, error) {
	snap := s.traffic.Current()
	if snap == nil {
		return nil, domain.ErrNoSnapshot
	}
	return snap, nil
}

// Zones returns every zone with an overview camera, or only the selected zone
// with the camera centred on it
func (s *DashboardService) Zones(selected string) (ZoneSelection, error) {
	snap, err := s.snapshot()
	if err != nil {
		return ZoneSelection{}, err
	}

	if selected != "" {
		z, ok := lo.Find(snap.Zones, func(z domain.Zone) bool { return z.ID == selected })
		if !ok {
			return ZoneSelection{}, domain.ErrZoneNotFound
		}
		v := zoneView(z)
		return ZoneSelection{
			Selected: selected,
			Zones:    []domain.ZoneView{v},
			View:     domain.ViewState{Longitude: v.Longitude, Latitude: v.Latitude, Zoom: selectionZoom},
		}, nil
	}

	views := ZoneViews(snap.Zones)
	return ZoneSelection{
		Zones: views,
		View: domain.ViewState{
			Longitude: lo.Mean(lo.Map(views, func(v domain.ZoneView, _ int) float64 { return v.Longitude })),
			Latitude:  lo.Mean(lo.Map(views, func(v domain.ZoneView, _ int) float64 { return v.Latitude })),
			Zoom:      overviewZoom,
		},
	}, nil
}

// Zone returns one zone view
func (s *DashboardService) Zone(id string) (domain.ZoneView, error) {
	sel, err := s.Zones(id)
	if err != nil {
		return domain.ZoneView{}, err
	}
	return sel.Zones[0], nil
}

// Roads returns road views at the current tick, optionally limited to one zone
func (s *DashboardService) Roads(zoneID string) ([]domain.RoadView, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	roads := snap.Roads
	if zoneID != "" {
		if !lo.ContainsBy(snap.Zones, func(z domain.Zone) bool { return z.ID == zoneID }) {
			return nil, domain.ErrZoneNotFound
		}
		roads = lo.Filter(roads, func(r domain.RoadSegment, _ int) bool { return r.ZoneID == zoneID })
	}
	return RoadViews(roads, s.traffic.Tick()), nil
}

// Road returns one road view at the current tick
func (s *DashboardService) Road(id string) (domain.RoadView, error) {
	snap, err := s.snapshot()
	if err != nil {
		return domain.RoadView{}, err
	}
	r, ok := lo.Find(snap.Roads, func(r domain.RoadSegment) bool { return r.ID == id })
	if !ok {
		return domain.RoadView{}, domain.ErrRoadNotFound
	}
	return roadView(r, s.traffic.Tick()), nil
}

// PersistedLight returns the light state stored with the last saved snapshot.
// ok is false when the store does not keep lights or has none for the road.
func (s *DashboardService) PersistedLight(ctx context.Context, roadID string) (domain.LightState, bool, error) {
	ls, ok := s.store.(lightStore)
	if !ok {
		return "", false, nil
	}
	states, err := ls.LightStates(ctx)
	if err != nil {
		return "", false, err
	}
	state, ok := states[roadID]
	return state, ok && state != "", nil
}

// ZonesGeoJSON returns the zone polygons as a FeatureCollection
func (s *DashboardService) ZonesGeoJSON() (*geojson.FeatureCollection, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, z := range snap.Zones {
		f := geojson.NewFeature(orb.Polygon{z.Polygon})
		f.ID = z.ID
		f.Properties["zone_id"] = z.ID
		f.Properties["congestion"] = z.Congestion
		f.Properties["color"] = CongestionColor(z.Congestion)
		fc.Append(f)
	}
	return fc, nil
}

// Health checks the store and predictor concurrently
func (s *DashboardService) Health(ctx context.Context) Health {
	var (
		wg        sync.WaitGroup
		storeErr  error
		predictor = "not_checked"
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if s.store != nil {
			storeErr = s.store.Health(ctx)
		}
	}()

	if hc, ok := s.predictor.(healthChecker); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hc.Health(ctx); err != nil {
				log.Printf("Predictor health check error: %v", err)
				predictor = "unreachable"
				return
			}
			predictor = "ok"
		}()
	}

	wg.Wait()

	h := Health{
		Status:    "healthy",
		Store:     "ok",
		Predictor: predictor,
		Tick:      s.traffic.Tick(),
		Timestamp: time.Now(),
	}
	if s.store == nil {
		h.Store = "disabled"
	}
	if storeErr != nil {
		log.Printf("Store health check error: %v", storeErr)
		h.Store = "unreachable"
		h.Status = "degraded"
	}
	if snap := s.traffic.Current(); snap != nil {
		h.Snapshot = snap.Version
	} else {
		h.Status = "degraded"
	}
	return h
}
