package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/repository/memory"
	"github.com/smartcity/ecoflow/internal/service"
	"github.com/smartcity/ecoflow/internal/spatial"
)

func newTestApp(t *testing.T, predictor domain.CongestionPredictor, bootstrap bool) (*fiber.App, *service.TrafficService) {
	t.Helper()
	store := memory.NewRepository()
	traffic := service.NewTrafficService(predictor, store, spatial.NewAssigner(spatial.Planar{}), service.Options{})
	t.Cleanup(traffic.WaitBackground)

	if bootstrap {
		grid, err := spatial.NewGrid(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}, 0, 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		roads := []domain.RoadSegment{
			{ID: "a", Path: orb.LineString{{0.2, 0.2}, {0.6, 0.2}}},
			{ID: "b", Path: orb.LineString{{1.2, 1.5}, {1.8, 1.5}}},
		}
		if _, err := traffic.Bootstrap(context.Background(), roads, grid); err != nil {
			t.Fatal(err)
		}
	}

	dashboard := service.NewDashboardService(traffic, store, predictor)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	SetupRoutes(app, traffic, dashboard)
	return app, traffic
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestHealthCheck(t *testing.T) {
	app, _ := newTestApp(t, service.HeuristicPredictor{}, true)
	code, body := do(t, app, "GET", "/health", "")
	if code != fiber.StatusOK {
		t.Errorf("status = %d, body %v", code, body)
	}

	app, _ = newTestApp(t, service.HeuristicPredictor{}, false)
	if code, _ := do(t, app, "GET", "/health", ""); code != fiber.StatusServiceUnavailable {
		t.Errorf("health without snapshot = %d, want 503", code)
	}
}

func TestGetZones(t *testing.T) {
	app, _ := newTestApp(t, service.HeuristicPredictor{}, true)

	tests := []struct {
		name  string
		path  string
		code  int
		count float64
	}{
		{"all zones", "/api/v1/zones", 200, 4},
		{"selected zone", "/api/v1/zones?zone=z1_1", 200, 1},
		{"unknown selection", "/api/v1/zones?zone=z5_5", 404, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := do(t, app, "GET", tc.path, "")
			if code != tc.code {
				t.Fatalf("status = %d, want %d (%v)", code, tc.code, body)
			}
			if code == 200 && body["count"] != tc.count {
				t.Errorf("count = %v, want %v", body["count"], tc.count)
			}
			if code != 200 && body["error"] != true {
				t.Errorf("error body = %v", body)
			}
		})
	}

	if code, _ := do(t, app, "GET", "/api/v1/zones/z0_0", ""); code != 200 {
		t.Errorf("GET zone status = %d", code)
	}
	if code, _ := do(t, app, "GET", "/api/v1/zones/nope", ""); code != 404 {
		t.Errorf("GET unknown zone status = %d", code)
	}
}

func TestGetZonesGeoJSON(t *testing.T) {
	app, _ := newTestApp(t, service.HeuristicPredictor{}, true)
	code, body := do(t, app, "GET", "/api/v1/zones.geojson", "")
	if code != 200 || body["type"] != "FeatureCollection" {
		t.Fatalf("status %d body %v", code, body)
	}
	if features, _ := body["features"].([]any); len(features) != 4 {
		t.Errorf("expected 4 features, got %d", len(features))
	}
}

func TestGetRoads(t *testing.T) {
	app, _ := newTestApp(t, service.HeuristicPredictor{}, true)

	code, body := do(t, app, "GET", "/api/v1/roads?limit=1", "")
	if code != 200 || body["count"] != float64(1) || body["total"] != float64(2) {
		t.Errorf("paged roads: status %d body %v", code, body)
	}
	code, body = do(t, app, "GET", "/api/v1/roads?zone=z1_1", "")
	if code != 200 || body["count"] != float64(1) {
		t.Errorf("zone roads: status %d body %v", code, body)
	}
	if code, _ := do(t, app, "GET", "/api/v1/roads?limit=-1", ""); code != 400 {
		t.Errorf("negative limit status = %d", code)
	}
	code, body = do(t, app, "GET", "/api/v1/roads/b", "")
	if code != 200 {
		t.Errorf("GET road status = %d", code)
	}
	if light, _ := body["persisted_light"].(string); light == "" {
		t.Errorf("GET road should carry the stored light, body %v", body)
	}
	if data, _ := body["data"].(map[string]any); data["band"] == "" || data["band"] == nil {
		t.Errorf("GET road should carry the congestion band, body %v", body)
	}
	if code, _ := do(t, app, "GET", "/api/v1/roads/zzz", ""); code != 404 {
		t.Errorf("GET unknown road status = %d", code)
	}
}

func TestGetFrameAndPlans(t *testing.T) {
	app, traffic := newTestApp(t, service.HeuristicPredictor{}, true)
	traffic.Advance()

	code, body := do(t, app, "GET", "/api/v1/frame", "")
	if code != 200 {
		t.Fatalf("frame status = %d", code)
	}
	data, _ := body["data"].(map[string]any)
	if data["tick"] != float64(1) {
		t.Errorf("frame tick = %v", data["tick"])
	}

	code, body = do(t, app, "GET", "/api/v1/signals/plans", "")
	if code != 200 || body["cycle_length"] != float64(12) {
		t.Errorf("plans: status %d body %v", code, body)
	}

	app, _ = newTestApp(t, service.HeuristicPredictor{}, false)
	if code, _ := do(t, app, "GET", "/api/v1/frame", ""); code != fiber.StatusServiceUnavailable {
		t.Errorf("frame without snapshot = %d, want 503", code)
	}
}

func TestRefresh(t *testing.T) {
	app, traffic := newTestApp(t, service.HeuristicPredictor{}, true)

	code, body := do(t, app, "POST", "/api/v1/refresh", `{"timestamp":"08:15:00"}`)
	if code != 200 {
		t.Fatalf("refresh status = %d body %v", code, body)
	}
	if traffic.Current().Version != 2 {
		t.Errorf("version = %d, want 2", traffic.Current().Version)
	}

	if code, _ := do(t, app, "POST", "/api/v1/refresh", `{"timestamp":"8 o'clock"}`); code != 400 {
		t.Errorf("bad timestamp status = %d, want 400", code)
	}
	if code, _ := do(t, app, "POST", "/api/v1/refresh", `{not json`); code != 400 {
		t.Errorf("bad body status = %d, want 400", code)
	}
	if code, _ := do(t, app, "POST", "/api/v1/refresh", ""); code != 200 {
		t.Errorf("refresh with default timestamp status = %d", code)
	}

	code, body = do(t, app, "GET", "/api/v1/snapshot", "")
	if code != 200 || body["last_refresh"] == nil {
		t.Errorf("snapshot: status %d body %v", code, body)
	}
}

func TestRefresh_PredictionFailed(t *testing.T) {
	failing := domain.PredictorFunc(func(ctx context.Context, ts string, f []domain.RoadFeatures) ([]float64, error) {
		return nil, errors.New("model offline")
	})
	app, traffic := newTestApp(t, failing, true)

	code, body := do(t, app, "POST", "/api/v1/refresh", `{"timestamp":"09:00:00"}`)
	if code != fiber.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
	data, _ := body["data"].(map[string]any)
	if data["status"] != "prediction_failed" || data["version"] != float64(1) {
		t.Errorf("unexpected body %v", body)
	}
	if traffic.Current().Version != 1 {
		t.Error("snapshot must be kept after a failed prediction")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := newTestApp(t, service.HeuristicPredictor{}, true)
	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(raw), "ecoflow_snapshot_version") {
		t.Errorf("metrics status %d, missing ecoflow collectors", resp.StatusCode)
	}
}
