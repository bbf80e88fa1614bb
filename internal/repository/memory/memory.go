// Package memory is the in-process domain.Store used in demo mode and tests.
package memory

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/repository"
)

// Repository keeps the last saved tables in memory. Reads return copies.
type Repository struct {
	mu     sync.RWMutex
	roads  []domain.RoadSegment
	zones  []domain.Zone
	lights map[string]domain.LightState
}

// NewRepository creates an empty in-memory store
func NewRepository() *Repository {
	return &Repository{lights: map[string]domain.LightState{}}
}

// LoadZones returns zones in generation order
func (r *Repository) LoadZones(ctx context.Context) ([]domain.Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Zone(nil), r.zones...), nil
}

// LoadRoads returns roads in saved order
func (r *Repository) LoadRoads(ctx context.Context) ([]domain.RoadSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.RoadSegment(nil), r.roads...), nil
}

// SaveSnapshot replaces both tables
func (r *Repository) SaveSnapshot(ctx context.Context, roads []domain.RoadSegment, zones []domain.Zone, lights map[string]domain.LightState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	storedRoads := lo.Map(roads, func(road domain.RoadSegment, _ int) domain.RoadSegment {
		road.Congestion = repository.StoredCongestion(road.Congestion)
		return road
	})
	storedZones := lo.Map(zones, func(z domain.Zone, _ int) domain.Zone {
		z.Congestion = repository.StoredCongestion(z.Congestion)
		return z
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.roads = storedRoads
	r.zones = storedZones
	r.lights = lo.Assign(lights)
	return nil
}

// LightStates returns the lights saved with the last snapshot, keyed by road id
func (r *Repository) LightStates(ctx context.Context) (map[string]domain.LightState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Assign(r.lights), nil
}

// Health always succeeds
func (r *Repository) Health(ctx context.Context) error {
	return nil
}
