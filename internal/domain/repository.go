package domain

import (
	"context"
)

// Store persists the working set as two tables: roads and zones.
// This follows the Dependency Inversion Principle - domain defines the interface
type Store interface {
	// LoadZones returns zones in generation order
	LoadZones(ctx context.Context) ([]Zone, error)

	// LoadRoads returns roads with their last congestion and zone assignment
	LoadRoads(ctx context.Context) ([]RoadSegment, error)

	// SaveSnapshot replaces both tables in one transaction.
	// lights carries the light state per road id at the time of the write.
	SaveSnapshot(ctx context.Context, roads []RoadSegment, zones []Zone, lights map[string]LightState) error

	// Health checks storage connectivity
	Health(ctx context.Context) error
}

// CongestionPredictor scores roads for a wall-clock time.
// It returns one value per feature row, in any numeric range.
type CongestionPredictor interface {
	Predict(ctx context.Context, timestamp string, features []RoadFeatures) ([]float64, error)
}

// PredictorFunc adapts a function to CongestionPredictor
type PredictorFunc func(ctx context.Context, timestamp string, features []RoadFeatures) ([]float64, error)

// Predict calls f
func (f PredictorFunc) Predict(ctx context.Context, timestamp string, features []RoadFeatures) ([]float64, error) {
	return f(ctx, timestamp, features)
}
