package spatial

import (
	"fmt"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/pkg/utils"
)

const (
	// GeographicWGS84 is the frame road paths and zone rings are stored in
	GeographicWGS84 = "+proj=longlat +datum=WGS84 +no_defs"

	// UTM43N (EPSG:32643) is locally accurate for Ahmedabad, the reference region
	UTM43N = "+proj=utm +zone=43 +datum=WGS84 +units=m +no_defs"

	// PlanarName selects the identity projection for inputs already in a planar frame
	PlanarName = "planar"
)

// Projection maps a geographic coordinate into a planar frame
type Projection interface {
	Forward(p orb.Point) (orb.Point, error)
}

// Planar is the identity projection
type Planar struct{}

// Forward returns p unchanged
func (Planar) Forward(p orb.Point) (orb.Point, error) {
	return p, nil
}

// Proj reprojects with a proj4 transform
type Proj struct {
	definition string
	transform  proj.Transformer
}

// NewProj builds a transform from the src to the dst proj4 definition
func NewProj(src, dst string) (*Proj, error) {
	srcSR, err := proj.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("spatial: failed to parse source projection %q: %v: %w", src, err, domain.ErrInvalidConfig)
	}
	dstSR, err := proj.Parse(dst)
	if err != nil {
		return nil, fmt.Errorf("spatial: failed to parse projection %q: %v: %w", dst, err, domain.ErrInvalidConfig)
	}
	transform, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("spatial: failed to create transform: %v: %w", err, domain.ErrInvalidConfig)
	}
	return &Proj{definition: dst, transform: transform}, nil
}

// Forward projects p, rejecting non-finite results
func (p *Proj) Forward(pt orb.Point) (orb.Point, error) {
	x, y, err := p.transform(pt[0], pt[1])
	if err != nil {
		return orb.Point{}, fmt.Errorf("spatial: failed to project %v: %w", pt, err)
	}
	if !utils.IsFinite(x) || !utils.IsFinite(y) {
		return orb.Point{}, fmt.Errorf("spatial: projection of %v is not finite", pt)
	}
	return orb.Point{x, y}, nil
}

// String returns the target definition
func (p *Proj) String() string {
	return p.definition
}

// ParseProjection resolves a configured name: "planar" or a proj4 definition
func ParseProjection(source, target string) (Projection, error) {
	target = strings.TrimSpace(target)
	switch strings.ToLower(target) {
	case PlanarName, "identity", "none":
		return Planar{}, nil
	case "":
		target = UTM43N
	}
	if strings.TrimSpace(source) == "" {
		source = GeographicWGS84
	}
	return NewProj(source, target)
}

func projectLine(ls orb.LineString, pr Projection) (orb.LineString, error) {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		if !utils.IsFinite(p[0]) || !utils.IsFinite(p[1]) {
			return nil, fmt.Errorf("spatial: coordinate %d is not finite", i)
		}
		q, err := pr.Forward(p)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func projectRing(r orb.Ring, pr Projection) (orb.Ring, error) {
	ls, err := projectLine(orb.LineString(r), pr)
	if err != nil {
		return nil, err
	}
	return orb.Ring(ls), nil
}
