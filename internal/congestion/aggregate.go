// Package congestion turns predictor scores into road and zone congestion values.
package congestion

import (
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/smartcity/ecoflow/internal/domain"
)

// AggregateReport counts roads that did not contribute to any zone
type AggregateReport struct {
	Unassigned int      `json:"unassigned"`
	Orphaned   []string `json:"orphaned,omitempty"` // road ids naming a zone outside the set
}

// Aggregate returns copies of zones whose congestion is the mean of their roads.
// Zones without roads get 0. Roads are never modified.
func Aggregate(roads []domain.RoadSegment, zones []domain.Zone) ([]domain.Zone, AggregateReport) {
	known := lo.SliceToMap(zones, func(z domain.Zone) (string, struct{}) {
		return z.ID, struct{}{}
	})

	var report AggregateReport
	scores := make(map[string][]float64, len(zones))
	for _, r := range roads {
		if !r.Assigned() {
			report.Unassigned++
			continue
		}
		if _, ok := known[r.ZoneID]; !ok {
			log.WithFields(log.Fields{"road_id": r.ID, "zone_id": r.ZoneID}).
				Warn("Road references a zone outside the current zone set, excluding it")
			report.Orphaned = append(report.Orphaned, r.ID)
			continue
		}
		scores[r.ZoneID] = append(scores[r.ZoneID], r.Congestion)
	}

	out := make([]domain.Zone, len(zones))
	for i, z := range zones {
		z.Congestion = Clamp(lo.Mean(scores[z.ID]))
		out[i] = z
	}
	return out, report
}
