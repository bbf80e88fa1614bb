// Package repository holds the storage codecs shared by the store implementations.
// Geometry columns are GeoJSON text so every backend reads the same representation.
package repository

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/pkg/utils"
)

// EncodePath renders a road path as a GeoJSON LineString
func EncodePath(path orb.LineString) (string, error) {
	data, err := geojson.NewGeometry(path).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("repository: failed to encode path: %w", err)
	}
	return string(data), nil
}

// DecodePath parses a GeoJSON LineString column
func DecodePath(s string) (orb.LineString, error) {
	g, err := geojson.UnmarshalGeometry([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to decode path: %w", err)
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("repository: path is %s, not LineString: %w", g.Type, domain.ErrInvalidGeometry)
	}
	return ls, nil
}

// EncodeRing renders a zone boundary as a GeoJSON Polygon with a single ring
func EncodeRing(ring orb.Ring) (string, error) {
	data, err := geojson.NewGeometry(orb.Polygon{ring}).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("repository: failed to encode polygon: %w", err)
	}
	return string(data), nil
}

// DecodeRing parses a GeoJSON Polygon column and returns its outer ring
func DecodeRing(s string) (orb.Ring, error) {
	g, err := geojson.UnmarshalGeometry([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to decode polygon: %w", err)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok || len(poly) == 0 {
		return nil, fmt.Errorf("repository: polygon column holds %s: %w", g.Type, domain.ErrInvalidGeometry)
	}
	return poly[0], nil
}

// StoredCongestion clamps a value read from or written to a congestion column
func StoredCongestion(v float64) float64 {
	return utils.Clamp(v, 0, 1)
}

// NullableZone maps an unassigned road to SQL NULL
func NullableZone(id string) any {
	if id == "" {
		return nil
	}
	return id
}
