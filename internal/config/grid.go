package config

import (
	"fmt"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/spatial"
)

// Grid builds the zone grid from REGION_BBOX, or from the total bounds of roads when it is unset
func (c *Config) Grid(roads []domain.RoadSegment) (spatial.Grid, error) {
	bbox, ok, err := c.BBox()
	if err != nil {
		return spatial.Grid{}, fmt.Errorf("config: %w: %w", domain.ErrInvalidConfig, err)
	}
	if !ok {
		if bbox, ok = spatial.BoundsOf(roads); !ok {
			return spatial.Grid{}, fmt.Errorf("config: no region bbox and no road coordinates: %w", domain.ErrInvalidConfig)
		}
	}
	return spatial.NewGrid(bbox, c.Region.Buffer, c.Region.NX, c.Region.NY)
}

// Assigner builds the spatial assigner from the projection settings
func (c *Config) Assigner() (*spatial.Assigner, error) {
	pr, err := c.Projection()
	if err != nil {
		return nil, fmt.Errorf("config: %w: %w", domain.ErrInvalidConfig, err)
	}
	var opts []spatial.Option
	if c.Region.SpatialIndex {
		opts = append(opts, spatial.WithIndex())
	}
	return spatial.NewAssigner(pr, opts...), nil
}
