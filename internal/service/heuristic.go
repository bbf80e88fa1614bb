package service

import (
	"context"

	"github.com/samber/lo"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/pkg/utils"
)

// HeuristicPredictor scores roads from time of day and road class.
// Used in demo mode when no ML service is configured. Output is deterministic.
type HeuristicPredictor struct{}

// highway classes carry more or less of the city-wide load
var highwayWeight = map[string]float64{
	"motorway":    1.15,
	"trunk":       1.15,
	"primary":     1.1,
	"secondary":   1.0,
	"tertiary":    0.9,
	"residential": 0.7,
	"service":     0.6,
}

// Predict implements domain.CongestionPredictor
func (HeuristicPredictor) Predict(ctx context.Context, _ string, features []domain.RoadFeatures) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return lo.Map(features, func(f domain.RoadFeatures, _ int) float64 {
		return utils.RoundTo(baseLoad(f.Hour)*weightOf(f.Highway)+lengthBonus(f.LengthMeters), 3)
	}), nil
}

// baseLoad is the city-wide congestion for an hour of the day
func baseLoad(hour int) float64 {
	switch {
	case hour >= 7 && hour <= 9: // Morning rush
		return 0.8
	case hour >= 17 && hour <= 19: // Evening rush
		return 0.85
	case hour >= 12 && hour <= 14: // Lunch
		return 0.55
	case hour >= 22 || hour <= 5: // Night
		return 0.15
	default:
		return 0.4
	}
}

func weightOf(highway string) float64 {
	if w, ok := highwayWeight[highway]; ok {
		return w
	}
	return 0.8
}

// long segments queue more traffic, capped at +0.05 for 1km and above
func lengthBonus(meters float64) float64 {
	return 0.05 * utils.Clamp(meters/1000, 0, 1)
}
