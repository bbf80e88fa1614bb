package spatial

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/pkg/utils"
)

// Grid tiles an expanded bounding box into NX columns and NY rows
type Grid struct {
	BBox   orb.Bound
	Buffer float64
	NX     int
	NY     int
}

// NewGrid validates the parameters and returns the grid
func NewGrid(bbox orb.Bound, buffer float64, nx, ny int) (Grid, error) {
	g := Grid{BBox: bbox, Buffer: buffer, NX: nx, NY: ny}
	if err := g.Validate(); err != nil {
		return Grid{}, err
	}
	return g, nil
}

// Expanded returns the bounding box grown by Buffer on every side
func (g Grid) Expanded() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.BBox.Min[0] - g.Buffer, g.BBox.Min[1] - g.Buffer},
		Max: orb.Point{g.BBox.Max[0] + g.Buffer, g.BBox.Max[1] + g.Buffer},
	}
}

// Validate rejects degenerate boxes and non-positive resolutions
func (g Grid) Validate() error {
	if g.NX < 1 || g.NY < 1 {
		return fmt.Errorf("spatial: grid resolution %dx%d must be positive: %w", g.NX, g.NY, domain.ErrInvalidConfig)
	}

	b := g.Expanded()
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if !utils.IsFinite(v) {
			return fmt.Errorf("spatial: bounding box has non-finite coordinates: %w", domain.ErrInvalidConfig)
		}
	}
	if b.Max[0]-b.Min[0] <= 0 || b.Max[1]-b.Min[1] <= 0 {
		return fmt.Errorf("spatial: expanded bounding box %v has no area: %w", b, domain.ErrInvalidConfig)
	}
	return nil
}

// Zones returns the NX*NY zones in row-major (i, j) order
func (g Grid) Zones() ([]domain.Zone, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	b := g.Expanded()
	xs := linspace(b.Min[0], b.Max[0], g.NX)
	ys := linspace(b.Min[1], b.Max[1], g.NY)

	zones := make([]domain.Zone, 0, g.NX*g.NY)
	for i := 0; i < g.NX; i++ {
		for j := 0; j < g.NY; j++ {
			zones = append(zones, domain.Zone{
				ID:  ZoneID(i, j),
				Seq: len(zones),
				Polygon: orb.Ring{
					{xs[i], ys[j]},
					{xs[i+1], ys[j]},
					{xs[i+1], ys[j+1]},
					{xs[i], ys[j+1]},
					{xs[i], ys[j]},
				},
			})
		}
	}
	return zones, nil
}

// Partition tiles bbox expanded by buffer into an nx × ny grid of zones
func Partition(bbox orb.Bound, buffer float64, nx, ny int) ([]domain.Zone, error) {
	g, err := NewGrid(bbox, buffer, nx, ny)
	if err != nil {
		return nil, err
	}
	return g.Zones()
}

// ZoneID formats the deterministic id of cell (i, j)
func ZoneID(i, j int) string {
	return fmt.Sprintf("z%d_%d", i, j)
}

// BoundsOf returns the total bounds of all road paths.
// ok is false when no road has a coordinate.
func BoundsOf(roads []domain.RoadSegment) (b orb.Bound, ok bool) {
	for _, r := range roads {
		for _, p := range r.Path {
			if !ok {
				b = orb.Bound{Min: p, Max: p}
				ok = true
				continue
			}
			b = b.Extend(p)
		}
	}
	return b, ok
}

// linspace returns n+1 evenly spaced edges with the last pinned to max
func linspace(min, max float64, n int) []float64 {
	step := (max - min) / float64(n)
	edges := make([]float64, n+1)
	for k := 0; k < n; k++ {
		edges[k] = min + float64(k)*step
	}
	edges[n] = max
	return edges
}
