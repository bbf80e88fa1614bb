// Package signal simulates per-road traffic lights from congestion and a shared tick.
//
// Every road runs the same 12-tick cycle shifted by a stable offset derived from
// its id, so neighbouring signals are desynchronised but reproducible across runs.
package signal

import (
	"hash/fnv"

	"github.com/smartcity/ecoflow/internal/domain"
)

// CycleLength is the number of ticks in one red/yellow/green cycle
const CycleLength = 12

// Band is a congestion range with its own light timing
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Plan splits the cycle: red on [0, RedEnd), yellow on [RedEnd, YellowEnd),
// green on [YellowEnd, CycleLength)
type Plan struct {
	Band      Band    `json:"band"`
	Above     float64 `json:"above"` // band applies to congestion strictly above this value
	RedEnd    int     `json:"red_end"`
	YellowEnd int     `json:"yellow_end"`
}

var plans = [...]Plan{
	{Band: BandHigh, Above: 0.7, RedEnd: 8, YellowEnd: 10},
	{Band: BandMedium, Above: 0.3, RedEnd: 5, YellowEnd: 7},
	{Band: BandLow, Above: -1, RedEnd: 3, YellowEnd: 5},
}

// Plans returns the timing table, most congested band first
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans[:])
	return out
}

// PlanFor returns the timing for a congestion value.
// Boundaries are strict: 0.7 is medium and 0.3 is low.
func PlanFor(congestion float64) Plan {
	for _, p := range plans {
		if congestion > p.Above {
			return p
		}
	}
	// NaN compares false everywhere
	return plans[len(plans)-1]
}

// BandOf returns the congestion band
func BandOf(congestion float64) Band {
	return PlanFor(congestion).Band
}

// Offset is the FNV-1a hash of the road id modulo CycleLength
func Offset(roadID string) int {
	h := fnv.New32a()
	h.Write([]byte(roadID))
	return int(h.Sum32() % CycleLength)
}

// Position returns where in the cycle a road with offset is at tick
func Position(tick uint64, offset int) int {
	return int((tick%CycleLength + uint64(offset%CycleLength+CycleLength)) % CycleLength)
}

// Phase returns the light state for a road
func Phase(congestion float64, tick uint64, offset int) domain.LightState {
	p := PlanFor(congestion)
	switch pos := Position(tick, offset); {
	case pos < p.RedEnd:
		return domain.LightRed
	case pos < p.YellowEnd:
		return domain.LightYellow
	default:
		return domain.LightGreen
	}
}

// RoadPhase is Phase with the offset derived from the road id
func RoadPhase(road domain.RoadSegment, tick uint64) domain.LightState {
	return Phase(road.Congestion, tick, Offset(road.ID))
}

// States computes the light state of every road at tick, keyed by road id
func States(roads []domain.RoadSegment, tick uint64) map[string]domain.LightState {
	out := make(map[string]domain.LightState, len(roads))
	for _, r := range roads {
		out[r.ID] = RoadPhase(r, tick)
	}
	return out
}

// Color is the RGB colour the renderer uses for a light state
func Color(s domain.LightState) [3]uint8 {
	switch s {
	case domain.LightRed:
		return [3]uint8{255, 0, 0}
	case domain.LightYellow:
		return [3]uint8{255, 255, 0}
	default:
		return [3]uint8{0, 255, 0}
	}
}
