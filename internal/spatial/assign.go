package spatial

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	log "github.com/sirupsen/logrus"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/pkg/utils"
)

// SkippedRoad records a road dropped from an assignment pass
type SkippedRoad struct {
	RoadID string `json:"road_id"`
	Reason string `json:"reason"`
}

// Report summarises one assignment pass
type Report struct {
	Assigned   int           `json:"assigned"`
	Unassigned int           `json:"unassigned"`
	Skipped    []SkippedRoad `json:"skipped,omitempty"`
}

// Option configures an Assigner
type Option func(*Assigner)

// WithIndex enables the rtree candidate filter. Results are identical to the naive scan.
func WithIndex() Option {
	return func(a *Assigner) {
		a.useIndex = true
	}
}

// Assigner tags roads with the zone containing their projected centroid
type Assigner struct {
	projection Projection
	useIndex   bool
}

// NewAssigner creates an assigner working in the given planar projection
func NewAssigner(projection Projection, opts ...Option) *Assigner {
	if projection == nil {
		projection = Planar{}
	}
	a := &Assigner{projection: projection}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ZoneSet is a zone collection projected once for repeated lookups
type ZoneSet struct {
	ids   []string
	rings []orb.Ring
	index *zoneIndex
}

// Prepare projects the zone rings in the order given.
// A zone that cannot be projected makes the whole set unusable.
func (a *Assigner) Prepare(zones []domain.Zone) (*ZoneSet, error) {
	zs := &ZoneSet{
		ids:   make([]string, len(zones)),
		rings: make([]orb.Ring, len(zones)),
	}
	for i, z := range zones {
		ring, err := projectRing(z.Polygon, a.projection)
		if err != nil {
			return nil, fmt.Errorf("spatial: failed to project zone %s: %v: %w", z.ID, err, domain.ErrInvalidConfig)
		}
		zs.ids[i] = z.ID
		zs.rings[i] = ring
	}
	if a.useIndex && len(zones) > 0 {
		zs.index = newZoneIndex(zs.rings)
	}
	return zs, nil
}

// Locate returns the id of the first zone, in generation order, containing p.
// Containment is boundary-inclusive, so a point on a shared edge goes to the
// earlier zone. It returns "" when no zone contains p.
func (zs *ZoneSet) Locate(p orb.Point) string {
	if zs.index != nil {
		for _, pos := range zs.index.candidates(p) {
			if planar.RingContains(zs.rings[pos], p) {
				return zs.ids[pos]
			}
		}
		return ""
	}

	for pos, ring := range zs.rings {
		if planar.RingContains(ring, p) {
			return zs.ids[pos]
		}
	}
	return ""
}

// Centroid returns the length-weighted centroid of the road path in the planar frame
func (a *Assigner) Centroid(road domain.RoadSegment) (orb.Point, error) {
	if len(road.Path) < 2 {
		return orb.Point{}, fmt.Errorf("spatial: road %s has %d coordinates: %w", road.ID, len(road.Path), domain.ErrInvalidGeometry)
	}
	projected, err := projectLine(road.Path, a.projection)
	if err != nil {
		return orb.Point{}, fmt.Errorf("spatial: road %s: %v: %w", road.ID, err, domain.ErrInvalidGeometry)
	}
	c, _ := planar.CentroidArea(projected)
	if !utils.IsFinite(c[0]) || !utils.IsFinite(c[1]) {
		return orb.Point{}, fmt.Errorf("spatial: road %s centroid is not finite: %w", road.ID, domain.ErrInvalidGeometry)
	}
	return c, nil
}

// Assign returns copies of roads with ZoneID set. Roads with bad geometry are
// skipped and reported; the input slice is not modified.
func (a *Assigner) Assign(roads []domain.RoadSegment, zones []domain.Zone) ([]domain.RoadSegment, Report, error) {
	zs, err := a.Prepare(zones)
	if err != nil {
		return nil, Report{}, err
	}

	var report Report
	out := make([]domain.RoadSegment, 0, len(roads))
	for _, road := range roads {
		c, err := a.Centroid(road)
		if err != nil {
			log.WithFields(log.Fields{"road_id": road.ID}).Warnf("Skipping road: %v", err)
			report.Skipped = append(report.Skipped, SkippedRoad{RoadID: road.ID, Reason: err.Error()})
			continue
		}

		road.ZoneID = zs.Locate(c)
		if road.Assigned() {
			report.Assigned++
		} else {
			report.Unassigned++
		}
		out = append(out, road)
	}
	return out, report, nil
}
