package congestion

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/pkg/utils"
)

// Clamp forces a score into [0, 1]; NaN becomes 0
func Clamp(v float64) float64 {
	return utils.Clamp(v, 0, 1)
}

// ClampScores clamps every predictor output
func ClampScores(scores []float64) []float64 {
	return lo.Map(scores, func(v float64, _ int) float64 {
		return Clamp(v)
	})
}

// Apply returns copies of roads carrying the clamped scores, one per road in order
func Apply(roads []domain.RoadSegment, scores []float64) ([]domain.RoadSegment, error) {
	if len(scores) != len(roads) {
		return nil, fmt.Errorf("congestion: predictor returned %d scores for %d roads", len(scores), len(roads))
	}

	clamped := ClampScores(scores)
	out := make([]domain.RoadSegment, len(roads))
	for i, r := range roads {
		r.Congestion = clamped[i]
		out[i] = r
	}
	return out, nil
}
