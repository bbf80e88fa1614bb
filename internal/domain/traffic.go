package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// RoadSegment is a single mapped road with its geographic path (lon/lat)
type RoadSegment struct {
	ID         string         `json:"id"`
	Path       orb.LineString `json:"path"`
	Highway    string         `json:"highway,omitempty"`
	Congestion float64        `json:"congestion"`
	ZoneID     string         `json:"zone_id,omitempty"` // empty when unassigned
}

// Assigned reports whether the road belongs to a zone
func (r RoadSegment) Assigned() bool {
	return r.ZoneID != ""
}

// Zone is a rectangular grid cell with an aggregated congestion value
type Zone struct {
	ID         string   `json:"zone_id"`
	Seq        int      `json:"seq"` // generation order, defines the assignment tie-break
	Polygon    orb.Ring `json:"polygon"`
	Congestion float64  `json:"congestion"`
}

// Center returns the representative point of the zone
func (z Zone) Center() orb.Point {
	return z.Polygon.Bound().Center()
}

// LightState is the simulated signal colour of a road
type LightState string

const (
	LightRed    LightState = "red"
	LightYellow LightState = "yellow"
	LightGreen  LightState = "green"
)

// RoadFeatures is one input row for the congestion predictor
type RoadFeatures struct {
	RoadID       string  `json:"road_id"`
	Hour         int     `json:"hour"`
	Minute       int     `json:"minute"`
	LengthMeters float64 `json:"road_length"`
	Highway      string  `json:"highway,omitempty"`
}

// ZoneView is what the renderer draws for a zone (Deck.gl scatter point)
type ZoneView struct {
	ZoneID     string   `json:"zone_id"`
	Longitude  float64  `json:"lon"`
	Latitude   float64  `json:"lat"`
	Congestion float64  `json:"congestion"`
	Color      [3]uint8 `json:"color"`
}

// RoadView is what the renderer draws for a road at a given tick
type RoadView struct {
	RoadID     string       `json:"road_id"`
	Path       [][2]float64 `json:"path"`
	ZoneID     string       `json:"zone_id,omitempty"`
	Congestion float64      `json:"congestion"`
	Band       string       `json:"band"`
	Light      LightState   `json:"light_state"`
	Color      [3]uint8     `json:"color"`
}

// ViewState centres the map on the current selection
type ViewState struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Zoom      int     `json:"zoom"`
}

// Frame is one render step: light states for every road plus zone views
type Frame struct {
	Tick      uint64     `json:"tick"`
	Version   uint64     `json:"version"`
	RefreshID string     `json:"refresh_id"`
	Roads     []RoadView `json:"roads"`
	Zones     []ZoneView `json:"zones"`
	Timestamp time.Time  `json:"timestamp"`
}

// SnapshotInfo describes the snapshot currently served to readers
type SnapshotInfo struct {
	Version        uint64    `json:"version"`
	RefreshID      string    `json:"refresh_id"`
	PredictedFor   string    `json:"predicted_for,omitempty"`
	RoadCount      int       `json:"road_count"`
	ZoneCount      int       `json:"zone_count"`
	UnassignedRoad int       `json:"unassigned_roads"`
	CreatedAt      time.Time `json:"created_at"`
}

// DefaultTimezone matches the city the source data was collected in
const DefaultTimezone = "Asia/Kolkata"
