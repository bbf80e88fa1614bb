package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/signal"
	"github.com/smartcity/ecoflow/internal/spatial"
)

type fakeStore struct {
	mu     sync.Mutex
	roads  []domain.RoadSegment
	zones  []domain.Zone
	lights map[string]domain.LightState
	saves  int
	err    error
}

func (f *fakeStore) LoadZones(ctx context.Context) ([]domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Zone(nil), f.zones...), f.err
}

func (f *fakeStore) LoadRoads(ctx context.Context) ([]domain.RoadSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RoadSegment(nil), f.roads...), f.err
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, roads []domain.RoadSegment, zones []domain.Zone, lights map[string]domain.LightState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.roads, f.zones, f.lights = roads, zones, lights
	f.saves++
	return nil
}

func (f *fakeStore) Health(ctx context.Context) error { return f.err }

func (f *fakeStore) LightStates(ctx context.Context) (map[string]domain.LightState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lights, f.err
}

// gatedStore holds the next save until release is closed
type gatedStore struct {
	*fakeStore
	gated   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) SaveSnapshot(ctx context.Context, roads []domain.RoadSegment, zones []domain.Zone, lights map[string]domain.LightState) error {
	g.fakeStore.mu.Lock()
	hold := g.gated
	g.gated = false
	g.fakeStore.mu.Unlock()
	if hold {
		close(g.entered)
		<-g.release
	}
	return g.fakeStore.SaveSnapshot(ctx, roads, zones, lights)
}

func testRoads() []domain.RoadSegment {
	return []domain.RoadSegment{
		{ID: "a", Path: orb.LineString{{0.2, 0.2}, {0.6, 0.2}}, Highway: "primary"},
		{ID: "b", Path: orb.LineString{{0.2, 0.6}, {0.8, 0.6}}},
		{ID: "c", Path: orb.LineString{{1.2, 1.5}, {1.8, 1.5}}},
		{ID: "d", Path: orb.LineString{{5, 5}, {6, 5}}},
		{ID: "bad", Path: orb.LineString{{0.1, 0.1}}},
	}
}

func testGrid(t *testing.T) spatial.Grid {
	t.Helper()
	g, err := spatial.NewGrid(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}, 0, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// scores by road id, in the order the roads are passed
func scoresByID(byID map[string]float64) CongestionPredictor {
	return domain.PredictorFunc(func(ctx context.Context, ts string, features []domain.RoadFeatures) ([]float64, error) {
		out := make([]float64, len(features))
		for i, f := range features {
			out[i] = byID[f.RoadID]
		}
		return out, nil
	})
}

func newBootstrapped(t *testing.T, p CongestionPredictor, store Store, opts Options) *TrafficService {
	t.Helper()
	svc := NewTrafficService(p, store, spatial.NewAssigner(spatial.Planar{}), opts)
	if _, err := svc.Bootstrap(context.Background(), testRoads(), testGrid(t)); err != nil {
		t.Fatalf("Bootstrap returned error: %v", err)
	}
	return svc
}

func zoneCongestion(snap *Snapshot, id string) float64 {
	for _, z := range snap.Zones {
		if z.ID == id {
			return z.Congestion
		}
	}
	return math.NaN()
}

func TestBootstrap(t *testing.T) {
	store := &fakeStore{}
	svc := NewTrafficService(nil, store, spatial.NewAssigner(spatial.Planar{}), Options{})

	report, err := svc.Bootstrap(context.Background(), testRoads(), testGrid(t))
	if err != nil {
		t.Fatalf("Bootstrap returned error: %v", err)
	}
	if report.Assigned != 3 || report.Unassigned != 1 || len(report.Skipped) != 1 {
		t.Errorf("unexpected report %+v", report)
	}

	snap := svc.Current()
	if snap == nil || snap.Version != 1 {
		t.Fatalf("expected version 1 snapshot, got %+v", snap)
	}
	if len(snap.Roads) != 4 || len(snap.Zones) != 4 {
		t.Errorf("got %d roads and %d zones", len(snap.Roads), len(snap.Zones))
	}
	want := map[string]string{"a": "z0_0", "b": "z0_0", "c": "z1_1", "d": ""}
	for _, r := range snap.Roads {
		if r.ZoneID != want[r.ID] {
			t.Errorf("road %s zone = %q, want %q", r.ID, r.ZoneID, want[r.ID])
		}
	}
	if store.saves != 1 || len(store.lights) != 4 {
		t.Errorf("bootstrap should persist synchronously, saves=%d lights=%d", store.saves, len(store.lights))
	}
	if info := snap.Info(); info.UnassignedRoad != 1 || info.RoadCount != 4 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestBootstrap_InvalidGrid(t *testing.T) {
	svc := NewTrafficService(nil, nil, nil, Options{})
	_, err := svc.Bootstrap(context.Background(), testRoads(), spatial.Grid{NX: 0, NY: 2})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if svc.Current() != nil {
		t.Error("nothing should be published on configuration error")
	}
}

func TestRefresh_PublishesClampedSnapshot(t *testing.T) {
	store := &fakeStore{}
	p := scoresByID(map[string]float64{"a": 0.2, "b": 0.6, "c": 1.3, "d": -0.1})
	svc := newBootstrapped(t, p, store, Options{})

	res, err := svc.Refresh(context.Background(), "08:30:00")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if res.Status != StatusOK || res.Version != 2 || res.RefreshID == "" {
		t.Errorf("unexpected result %+v", res)
	}

	snap := svc.Current()
	got := map[string]float64{}
	for _, r := range snap.Roads {
		got[r.ID] = r.Congestion
	}
	if got["c"] != 1 || got["d"] != 0 {
		t.Errorf("scores were not clamped: %v", got)
	}
	if c := zoneCongestion(snap, "z0_0"); math.Abs(c-0.4) > 1e-12 {
		t.Errorf("z0_0 congestion = %v, want 0.4", c)
	}
	if c := zoneCongestion(snap, "z1_1"); c != 1 {
		t.Errorf("z1_1 congestion = %v, want 1", c)
	}
	if c := zoneCongestion(snap, "z0_1"); c != 0 {
		t.Errorf("empty zone congestion = %v, want 0", c)
	}

	svc.WaitBackground()
	if store.saves != 2 {
		t.Errorf("expected refresh to be persisted, saves=%d", store.saves)
	}

	last, ok := svc.LastStatus()
	if !ok || last.Status != StatusOK || last.Version != 2 {
		t.Errorf("LastStatus = %+v, %v", last, ok)
	}
}

func TestRefresh_PredictionFailureKeepsSnapshot(t *testing.T) {
	tests := []struct {
		name      string
		predictor CongestionPredictor
	}{
		{"error", domain.PredictorFunc(func(ctx context.Context, ts string, f []domain.RoadFeatures) ([]float64, error) {
			return nil, errors.New("model unavailable")
		})},
		{"short result", domain.PredictorFunc(func(ctx context.Context, ts string, f []domain.RoadFeatures) ([]float64, error) {
			return []float64{0.5}, nil
		})},
		{"timeout", domain.PredictorFunc(func(ctx context.Context, ts string, f []domain.RoadFeatures) ([]float64, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{}
			svc := newBootstrapped(t, tc.predictor, store, Options{PredictTimeout: 20 * time.Millisecond})
			before := svc.Current()

			res, err := svc.Refresh(context.Background(), "17:00:00")
			if !errors.Is(err, domain.ErrPredictionFailed) {
				t.Fatalf("expected ErrPredictionFailed, got %v", err)
			}
			if res.Status != StatusPredictionFailed || res.Version != before.Version {
				t.Errorf("unexpected result %+v", res)
			}
			if svc.Current() != before {
				t.Error("previous snapshot must stay current")
			}
			svc.WaitBackground()
			if store.saves != 1 {
				t.Errorf("failed refresh must not be persisted, saves=%d", store.saves)
			}
		})
	}
}

func TestRefresh_TimeoutWrapsDeadline(t *testing.T) {
	p := domain.PredictorFunc(func(ctx context.Context, ts string, f []domain.RoadFeatures) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := newBootstrapped(t, p, nil, Options{PredictTimeout: 10 * time.Millisecond})

	_, err := svc.Refresh(context.Background(), "17:00:00")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline error, got %v", err)
	}
}

func TestRefresh_RejectsBadInput(t *testing.T) {
	svc := NewTrafficService(HeuristicPredictor{}, nil, nil, Options{})
	if _, err := svc.Refresh(context.Background(), "08:00:00"); !errors.Is(err, domain.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot before bootstrap, got %v", err)
	}

	svc = newBootstrapped(t, HeuristicPredictor{}, nil, Options{})
	for _, ts := range []string{"", "8am", "25:00:00", "08:00"} {
		res, err := svc.Refresh(context.Background(), ts)
		if !errors.Is(err, domain.ErrInvalidTimestamp) {
			t.Errorf("Refresh(%q) error = %v, want ErrInvalidTimestamp", ts, err)
		}
		if res.Status != StatusRejected {
			t.Errorf("Refresh(%q) status = %s", ts, res.Status)
		}
	}
	if svc.Current().Version != 1 {
		t.Error("rejected refreshes must not publish")
	}
}

func TestRefresh_OverlappingCallsSerialize(t *testing.T) {
	store := &fakeStore{}
	p := domain.PredictorFunc(func(ctx context.Context, ts string, f []domain.RoadFeatures) ([]float64, error) {
		time.Sleep(time.Millisecond)
		out := make([]float64, len(f))
		for i := range out {
			out[i] = 0.5
		}
		return out, nil
	})
	svc := newBootstrapped(t, p, store, Options{})

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(context.Background(), "12:00:00"); err != nil {
				t.Errorf("Refresh returned error: %v", err)
			}
			if _, err := svc.Frame(); err != nil {
				t.Errorf("Frame returned error: %v", err)
			}
		}()
	}
	wg.Wait()
	svc.WaitBackground()

	if v := svc.Current().Version; v != 1+n {
		t.Errorf("version = %d, want %d", v, 1+n)
	}
	if store.saves < 2 {
		t.Errorf("expected persisted refreshes, saves=%d", store.saves)
	}
}

func TestRefresh_Deterministic(t *testing.T) {
	a := newBootstrapped(t, HeuristicPredictor{}, nil, Options{})
	b := newBootstrapped(t, HeuristicPredictor{}, nil, Options{})
	if _, err := a.Refresh(context.Background(), "18:15:00"); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if _, err := b.Refresh(context.Background(), "18:15:00"); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	sa, sb := a.Current(), b.Current()
	for i := range sa.Roads {
		if math.Float64bits(sa.Roads[i].Congestion) != math.Float64bits(sb.Roads[i].Congestion) {
			t.Errorf("road %s differs: %v vs %v", sa.Roads[i].ID, sa.Roads[i].Congestion, sb.Roads[i].Congestion)
		}
	}
	for i := range sa.Zones {
		if math.Float64bits(sa.Zones[i].Congestion) != math.Float64bits(sb.Zones[i].Congestion) {
			t.Errorf("zone %s differs: %v vs %v", sa.Zones[i].ID, sa.Zones[i].Congestion, sb.Zones[i].Congestion)
		}
	}
	for _, tick := range []uint64{0, 7, 29, 1000} {
		la, lb := signal.States(sa.Roads, tick), signal.States(sb.Roads, tick)
		if len(la) != len(lb) {
			t.Fatalf("tick %d: %d vs %d light states", tick, len(la), len(lb))
		}
		for id, st := range la {
			if lb[id] != st {
				t.Errorf("tick %d road %s light %v vs %v", tick, id, st, lb[id])
			}
		}
	}
}

func TestBootstrap_NotOverwrittenByOlderBackgroundSave(t *testing.T) {
	store := &gatedStore{
		fakeStore: &fakeStore{},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	svc := newBootstrapped(t, HeuristicPredictor{}, store, Options{})

	store.fakeStore.mu.Lock()
	store.gated = true
	store.fakeStore.mu.Unlock()
	if _, err := svc.Refresh(context.Background(), "08:00:00"); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	<-store.entered

	single, err := spatial.NewGrid(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}, 0, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := svc.Bootstrap(context.Background(), testRoads(), single)
		done <- err
	}()

	// let Bootstrap reach its save while the older write is still held
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("Bootstrap returned error: %v", err)
	}
	svc.WaitBackground()

	store.fakeStore.mu.Lock()
	defer store.fakeStore.mu.Unlock()
	if len(store.zones) != 1 || store.zones[0].ID != "z0_0" {
		t.Errorf("stored zones = %+v, want the single bootstrapped zone", store.zones)
	}
	if v := svc.Current().Version; v != 3 {
		t.Errorf("version = %d, want 3", v)
	}
}

func TestLoad_ClearsOrphanedZones(t *testing.T) {
	store := &fakeStore{
		zones: []domain.Zone{{ID: "z0_0", Polygon: orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}},
		roads: []domain.RoadSegment{
			{ID: "a", ZoneID: "z0_0", Congestion: 0.4},
			{ID: "b", ZoneID: "z7_7", Congestion: 0.9},
		},
	}
	svc := NewTrafficService(HeuristicPredictor{}, store, nil, Options{})
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	snap := svc.Current()
	if snap.Roads[1].ZoneID != "" {
		t.Errorf("orphaned road should be unassigned, got %q", snap.Roads[1].ZoneID)
	}
	if snap.Zones[0].Congestion != 0.4 {
		t.Errorf("zone congestion = %v, want 0.4", snap.Zones[0].Congestion)
	}
}

func TestLoad_EmptyStore(t *testing.T) {
	svc := NewTrafficService(HeuristicPredictor{}, &fakeStore{}, nil, Options{})
	if err := svc.Load(context.Background()); !errors.Is(err, domain.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}

	failing := &fakeStore{err: errors.New("connection refused")}
	svc = NewTrafficService(HeuristicPredictor{}, failing, nil, Options{})
	if err := svc.Load(context.Background()); err == nil || errors.Is(err, domain.ErrNoSnapshot) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestFrame(t *testing.T) {
	svc := NewTrafficService(HeuristicPredictor{}, nil, nil, Options{})
	if _, err := svc.Frame(); !errors.Is(err, domain.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}

	svc = newBootstrapped(t, HeuristicPredictor{}, nil, Options{})
	svc.Advance()
	svc.Advance()

	f, err := svc.Frame()
	if err != nil {
		t.Fatalf("Frame returned error: %v", err)
	}
	if f.Tick != 2 || f.Version != 1 || len(f.Roads) != 4 || len(f.Zones) != 4 {
		t.Errorf("unexpected frame tick=%d version=%d roads=%d zones=%d", f.Tick, f.Version, len(f.Roads), len(f.Zones))
	}
	for _, r := range f.Roads {
		if r.Light == "" || len(r.Path) != 2 {
			t.Errorf("incomplete road view %+v", r)
		}
	}
}

func TestBuildFeatures(t *testing.T) {
	at := time.Date(0, 1, 1, 9, 45, 0, 0, time.UTC)
	roads := []domain.RoadSegment{{ID: "x", Highway: "primary", Path: orb.LineString{{72.57, 23.02}, {72.58, 23.02}}}}

	f := BuildFeatures(roads, at)
	if len(f) != 1 || f[0].RoadID != "x" || f[0].Hour != 9 || f[0].Minute != 45 || f[0].Highway != "primary" {
		t.Fatalf("unexpected features %+v", f)
	}
	// 0.01 degree of longitude at 23°N is roughly 1.02 km
	if f[0].LengthMeters < 1000 || f[0].LengthMeters > 1050 {
		t.Errorf("road_length = %v", f[0].LengthMeters)
	}
}

func TestRun_AdvancesTicksUntilCancelled(t *testing.T) {
	svc := newBootstrapped(t, HeuristicPredictor{}, nil, Options{TickInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for svc.Tick() < 3 {
		select {
		case <-deadline:
			t.Fatal("ticks did not advance")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
