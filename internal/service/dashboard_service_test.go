package service

import (
	"context"
	"errors"
	"testing"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/signal"
)

func TestCongestionColor(t *testing.T) {
	tests := []struct {
		c    float64
		want [3]uint8
	}{
		{0, [3]uint8{0, 255, 0}},
		{1, [3]uint8{255, 0, 0}},
		{0.5, [3]uint8{127, 127, 0}},
		{1.7, [3]uint8{255, 0, 0}},
	}
	for _, tc := range tests {
		if got := CongestionColor(tc.c); got != tc.want {
			t.Errorf("CongestionColor(%v) = %v, want %v", tc.c, got, tc.want)
		}
	}
}

func TestDashboard_NoSnapshot(t *testing.T) {
	d := NewDashboardService(NewTrafficService(nil, nil, nil, Options{}), nil, nil)
	if _, err := d.Zones(""); !errors.Is(err, domain.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
	if h := d.Health(context.Background()); h.Status != "degraded" || h.Store != "disabled" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestDashboard_Zones(t *testing.T) {
	svc := newBootstrapped(t, HeuristicPredictor{}, nil, Options{})
	d := NewDashboardService(svc, nil, HeuristicPredictor{})

	all, err := d.Zones("")
	if err != nil {
		t.Fatalf("Zones returned error: %v", err)
	}
	if len(all.Zones) != 4 || all.View.Zoom != 12 {
		t.Errorf("unexpected overview %+v", all)
	}
	// zone centres are 0.5 and 1.5 on each axis
	if all.View.Longitude != 1 || all.View.Latitude != 1 {
		t.Errorf("overview centre = (%v, %v), want (1, 1)", all.View.Longitude, all.View.Latitude)
	}

	one, err := d.Zones("z1_0")
	if err != nil {
		t.Fatalf("Zones(z1_0) returned error: %v", err)
	}
	if len(one.Zones) != 1 || one.View.Zoom != 14 || one.View.Longitude != 1.5 || one.View.Latitude != 0.5 {
		t.Errorf("unexpected selection %+v", one)
	}

	if _, err := d.Zones("z9_9"); !errors.Is(err, domain.ErrZoneNotFound) {
		t.Errorf("expected ErrZoneNotFound, got %v", err)
	}
}

func TestDashboard_Roads(t *testing.T) {
	svc := newBootstrapped(t, HeuristicPredictor{}, nil, Options{})
	d := NewDashboardService(svc, nil, nil)

	roads, err := d.Roads("z0_0")
	if err != nil {
		t.Fatalf("Roads returned error: %v", err)
	}
	if len(roads) != 2 {
		t.Errorf("expected 2 roads in z0_0, got %d", len(roads))
	}
	if _, err := d.Roads("nope"); !errors.Is(err, domain.ErrZoneNotFound) {
		t.Errorf("expected ErrZoneNotFound, got %v", err)
	}

	r, err := d.Road("c")
	if err != nil || r.ZoneID != "z1_1" {
		t.Errorf("Road(c) = %+v, %v", r, err)
	}
	if want := string(signal.BandOf(r.Congestion)); r.Band != want {
		t.Errorf("Road(c).Band = %q, want %q", r.Band, want)
	}
	if _, err := d.Road("missing"); !errors.Is(err, domain.ErrRoadNotFound) {
		t.Errorf("expected ErrRoadNotFound, got %v", err)
	}
}

func TestDashboard_ZonesGeoJSON(t *testing.T) {
	svc := newBootstrapped(t, HeuristicPredictor{}, nil, Options{})
	d := NewDashboardService(svc, nil, nil)

	fc, err := d.ZonesGeoJSON()
	if err != nil {
		t.Fatalf("ZonesGeoJSON returned error: %v", err)
	}
	if len(fc.Features) != 4 {
		t.Fatalf("expected 4 features, got %d", len(fc.Features))
	}
	f := fc.Features[0]
	if f.ID != "z0_0" || f.Properties["zone_id"] != "z0_0" || f.Geometry.GeoJSONType() != "Polygon" {
		t.Errorf("unexpected feature %+v", f)
	}
}

func TestDashboard_Health(t *testing.T) {
	svc := newBootstrapped(t, HeuristicPredictor{}, nil, Options{})

	d := NewDashboardService(svc, &fakeStore{}, HeuristicPredictor{})
	h := d.Health(context.Background())
	if h.Status != "healthy" || h.Store != "ok" || h.Predictor != "not_checked" || h.Snapshot != 1 {
		t.Errorf("unexpected health %+v", h)
	}

	d = NewDashboardService(svc, &fakeStore{err: errors.New("down")}, nil)
	if h := d.Health(context.Background()); h.Status != "degraded" || h.Store != "unreachable" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestDashboard_PersistedLight(t *testing.T) {
	store := &fakeStore{}
	svc := newBootstrapped(t, HeuristicPredictor{}, store, Options{})
	d := NewDashboardService(svc, store, nil)

	got, ok, err := d.PersistedLight(context.Background(), "a")
	if err != nil || !ok {
		t.Fatalf("PersistedLight(a) = %q, %v, %v", got, ok, err)
	}
	if want := signal.States(svc.Current().Roads, 0)["a"]; got != want {
		t.Errorf("PersistedLight(a) = %q, want %q", got, want)
	}
	if _, ok, _ := d.PersistedLight(context.Background(), "missing"); ok {
		t.Error("unknown road should have no stored light")
	}

	d = NewDashboardService(svc, nil, nil)
	if _, ok, err := d.PersistedLight(context.Background(), "a"); ok || err != nil {
		t.Errorf("store without lights: ok=%v err=%v", ok, err)
	}
}
