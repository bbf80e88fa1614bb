package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/smartcity/ecoflow/internal/congestion"
	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/metrics"
	"github.com/smartcity/ecoflow/internal/signal"
	"github.com/smartcity/ecoflow/internal/spatial"
	"github.com/smartcity/ecoflow/pkg/utils"
)

// TimestampLayout is the wall-clock format the predictor receives
const TimestampLayout = "15:04:05"

// Status is the outcome of a refresh
type Status string

const (
	StatusOK               Status = "ok"
	StatusPredictionFailed Status = "prediction_failed"
	StatusRejected         Status = "rejected"
)

// Snapshot is one published working set. It is never modified after Store.
type Snapshot struct {
	Version   uint64
	RefreshID uuid.UUID
	Timestamp string // HH:MM:SS the congestion was predicted for, empty when loaded from storage
	Roads     []domain.RoadSegment
	Zones     []domain.Zone
	CreatedAt time.Time
}

// Info summarises the snapshot for API responses
func (s *Snapshot) Info() domain.SnapshotInfo {
	unassigned := 0
	for _, r := range s.Roads {
		if !r.Assigned() {
			unassigned++
		}
	}
	return domain.SnapshotInfo{
		Version:        s.Version,
		RefreshID:      s.RefreshID.String(),
		PredictedFor:   s.Timestamp,
		RoadCount:      len(s.Roads),
		ZoneCount:      len(s.Zones),
		UnassignedRoad: unassigned,
		CreatedAt:      s.CreatedAt,
	}
}

// RefreshResult reports what a refresh did. Version is the snapshot served afterwards.
type RefreshResult struct {
	Status    Status    `json:"status"`
	Version   uint64    `json:"version"`
	RefreshID string    `json:"refresh_id,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	Orphaned  int       `json:"orphaned_roads,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Options configures the snapshot service cadences
type Options struct {
	PredictTimeout  time.Duration
	TickInterval    time.Duration
	RefreshInterval time.Duration // zero disables scheduled refreshes
	Location        *time.Location
}

// TrafficService owns the current snapshot and the signal tick.
// Readers load the snapshot atomically; refreshes are serialized.
type TrafficService struct {
	predictor CongestionPredictor
	store     Store
	assigner  *spatial.Assigner
	opts      Options
	now       func() time.Time

	current   atomic.Pointer[Snapshot]
	last      atomic.Pointer[RefreshResult]
	tick      atomic.Uint64
	refreshMu sync.Mutex

	persistMu sync.Mutex
	persisted uint64
	wgBg      sync.WaitGroup // tracks background writes for graceful shutdown
}

// NewTrafficService creates the snapshot service. store may be nil (nothing is persisted).
func NewTrafficService(predictor CongestionPredictor, store Store, assigner *spatial.Assigner, opts Options) *TrafficService {
	if opts.PredictTimeout <= 0 {
		opts.PredictTimeout = 10 * time.Second
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 3 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if assigner == nil {
		assigner = spatial.NewAssigner(spatial.Planar{})
	}
	return &TrafficService{
		predictor: predictor,
		store:     store,
		assigner:  assigner,
		opts:      opts,
		now:       time.Now,
	}
}

// WaitBackground blocks until all background writes complete.
// Call during graceful shutdown to avoid dropped writes.
func (s *TrafficService) WaitBackground() {
	s.wgBg.Wait()
}

// Current returns the snapshot being served, or nil before the first load
func (s *TrafficService) Current() *Snapshot {
	return s.current.Load()
}

// LastStatus returns the outcome of the most recent refresh
func (s *TrafficService) LastStatus() (RefreshResult, bool) {
	r := s.last.Load()
	if r == nil {
		return RefreshResult{}, false
	}
	return *r, true
}

// Tick returns the current signal tick
func (s *TrafficService) Tick() uint64 {
	return s.tick.Load()
}

// Advance moves the signal simulation forward one step
func (s *TrafficService) Advance() uint64 {
	n := s.tick.Add(1)
	metrics.Tick.Set(float64(n))
	return n
}

// Now returns the wall-clock time formatted for the predictor in the configured timezone
func (s *TrafficService) Now() string {
	return s.now().In(s.opts.Location).Format(TimestampLayout)
}

// Frame renders every road's light state at the current tick from a single snapshot
func (s *TrafficService) Frame() (domain.Frame, error) {
	snap := s.current.Load()
	if snap == nil {
		return domain.Frame{}, domain.ErrNoSnapshot
	}
	tick := s.Tick()
	return domain.Frame{
		Tick:      tick,
		Version:   snap.Version,
		RefreshID: snap.RefreshID.String(),
		Roads:     RoadViews(snap.Roads, tick),
		Zones:     ZoneViews(snap.Zones),
		Timestamp: s.now(),
	}, nil
}

// BuildFeatures produces one predictor row per road, in road order
func BuildFeatures(roads []domain.RoadSegment, at time.Time) []domain.RoadFeatures {
	features := make([]domain.RoadFeatures, len(roads))
	for i, r := range roads {
		features[i] = domain.RoadFeatures{
			RoadID:       r.ID,
			Hour:         at.Hour(),
			Minute:       at.Minute(),
			LengthMeters: utils.RoundTo(utils.LineLengthMeters(r.Path), 2),
			Highway:      r.Highway,
		}
	}
	return features
}

// Refresh predicts congestion for timestamp (HH:MM:SS) and publishes a new snapshot.
// On prediction failure the previous snapshot stays current and the error wraps
// domain.ErrPredictionFailed.
func (s *TrafficService) Refresh(ctx context.Context, timestamp string) (RefreshResult, error) {
	start := s.now()
	at, err := time.Parse(TimestampLayout, timestamp)
	if err != nil {
		return s.finish(start, RefreshResult{Status: StatusRejected, Timestamp: timestamp},
			fmt.Errorf("service: %w: %q", domain.ErrInvalidTimestamp, timestamp))
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	prev := s.current.Load()
	if prev == nil {
		return s.finish(start, RefreshResult{Status: StatusRejected, Timestamp: timestamp}, domain.ErrNoSnapshot)
	}
	failed := RefreshResult{
		Status:    StatusPredictionFailed,
		Version:   prev.Version,
		RefreshID: prev.RefreshID.String(),
		Timestamp: timestamp,
	}

	features := BuildFeatures(prev.Roads, at)

	pctx, cancel := context.WithTimeout(ctx, s.opts.PredictTimeout)
	scores, err := s.predictor.Predict(pctx, timestamp, features)
	cancel()
	if err != nil {
		return s.finish(start, failed, fmt.Errorf("service: %w: %w", domain.ErrPredictionFailed, err))
	}
	if len(scores) != len(prev.Roads) {
		return s.finish(start, failed, fmt.Errorf("service: %w: got %d scores for %d roads",
			domain.ErrPredictionFailed, len(scores), len(prev.Roads)))
	}

	roads, err := congestion.Apply(prev.Roads, scores)
	if err != nil {
		return s.finish(start, failed, fmt.Errorf("service: %w: %w", domain.ErrPredictionFailed, err))
	}
	zones, report := congestion.Aggregate(roads, prev.Zones)

	next := &Snapshot{
		Version:   prev.Version + 1,
		RefreshID: uuid.New(),
		Timestamp: timestamp,
		Roads:     roads,
		Zones:     zones,
		CreatedAt: s.now(),
	}
	s.publish(next)
	s.persist(next)

	return s.finish(start, RefreshResult{
		Status:    StatusOK,
		Version:   next.Version,
		RefreshID: next.RefreshID.String(),
		Timestamp: timestamp,
		Orphaned:  len(report.Orphaned),
	}, nil)
}

func (s *TrafficService) finish(start time.Time, res RefreshResult, err error) (RefreshResult, error) {
	res.At = s.now()
	if err != nil {
		res.Error = err.Error()
	}
	s.last.Store(&res)
	metrics.RefreshTotal.WithLabelValues(string(res.Status)).Inc()
	metrics.RefreshDuration.Observe(res.At.Sub(start).Seconds())
	return res, err
}

func (s *TrafficService) publish(snap *Snapshot) {
	s.current.Store(snap)
	info := snap.Info()
	metrics.SnapshotVersion.Set(float64(snap.Version))
	metrics.UnassignedRoads.Set(float64(info.UnassignedRoad))
	log.WithFields(log.Fields{
		"version":    snap.Version,
		"refresh_id": info.RefreshID,
		"roads":      info.RoadCount,
		"zones":      info.ZoneCount,
	}).Info("Snapshot published")
}

// persist writes the snapshot in the background. Writes of older versions
// that finish late are dropped.
func (s *TrafficService) persist(snap *Snapshot) {
	if s.store == nil {
		return
	}
	lights := signal.States(snap.Roads, s.Tick())

	s.wgBg.Add(1)
	go func() {
		defer s.wgBg.Done()
		s.persistMu.Lock()
		defer s.persistMu.Unlock()
		if snap.Version <= s.persisted {
			return
		}

		bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.SaveSnapshot(bgCtx, snap.Roads, snap.Zones, lights); err != nil {
			metrics.PersistErrors.Inc()
			log.WithField("version", snap.Version).Errorf("Failed to save snapshot: %v", err)
			return
		}
		s.persisted = snap.Version
	}()
}

// Load rehydrates the working set from the store. Roads referencing a zone
// that no longer exists are kept but unassigned.
func (s *TrafficService) Load(ctx context.Context) error {
	if s.store == nil {
		return domain.ErrNoSnapshot
	}
	zones, err := s.store.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("service: failed to load zones: %w", err)
	}
	roads, err := s.store.LoadRoads(ctx)
	if err != nil {
		return fmt.Errorf("service: failed to load roads: %w", err)
	}
	if len(roads) == 0 {
		return domain.ErrNoSnapshot
	}

	known := make(map[string]struct{}, len(zones))
	for _, z := range zones {
		known[z.ID] = struct{}{}
	}
	cleared := 0
	for i := range roads {
		if !roads[i].Assigned() {
			continue
		}
		if _, ok := known[roads[i].ZoneID]; !ok {
			roads[i].ZoneID = ""
			cleared++
		}
	}
	if cleared > 0 {
		log.WithField("roads", cleared).Warn("Cleared assignments to unknown zones")
	}

	zones, _ = congestion.Aggregate(roads, zones)
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.publish(s.nextSnapshot(roads, zones))
	return nil
}

// Bootstrap partitions the grid, assigns roads and persists the fresh working set
func (s *TrafficService) Bootstrap(ctx context.Context, roads []domain.RoadSegment, grid spatial.Grid) (spatial.Report, error) {
	zones, err := grid.Zones()
	if err != nil {
		return spatial.Report{}, err
	}
	assigned, report, err := s.assigner.Assign(roads, zones)
	if err != nil {
		return spatial.Report{}, err
	}
	metrics.SkippedRoads.Add(float64(len(report.Skipped)))
	log.WithFields(log.Fields{
		"assigned":   report.Assigned,
		"unassigned": report.Unassigned,
		"skipped":    len(report.Skipped),
		"zones":      len(zones),
	}).Info("Roads assigned to zones")

	zones, _ = congestion.Aggregate(assigned, zones)

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	snap := s.nextSnapshot(assigned, zones)
	if s.store != nil {
		// serialised with background writes so an older version cannot land after this one
		s.persistMu.Lock()
		lights := signal.States(snap.Roads, s.Tick())
		err := s.store.SaveSnapshot(ctx, snap.Roads, snap.Zones, lights)
		if err == nil {
			s.persisted = snap.Version
		}
		s.persistMu.Unlock()
		if err != nil {
			return report, fmt.Errorf("service: failed to save working set: %w", err)
		}
	}
	s.publish(snap)
	return report, nil
}

// nextSnapshot must be called with refreshMu held
func (s *TrafficService) nextSnapshot(roads []domain.RoadSegment, zones []domain.Zone) *Snapshot {
	var version uint64 = 1
	if prev := s.current.Load(); prev != nil {
		version = prev.Version + 1
	}
	return &Snapshot{
		Version:   version,
		RefreshID: uuid.New(),
		Roads:     roads,
		Zones:     zones,
		CreatedAt: s.now(),
	}
}

// Run drives the tick and refresh cadences until ctx is cancelled.
// A slow refresh never delays ticks.
func (s *TrafficService) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		every(ctx, s.opts.TickInterval, func() { s.Advance() })
	}()

	if s.opts.RefreshInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, s.opts.RefreshInterval, func() { s.refreshScheduled(ctx) })
		}()
	}

	wg.Wait()
}

func (s *TrafficService) refreshScheduled(ctx context.Context) {
	res, err := s.Refresh(ctx, s.Now())
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return
	case errors.Is(err, domain.ErrPredictionFailed):
		log.WithField("version", res.Version).Warnf("Prediction failed, keeping snapshot: %v", err)
	default:
		log.Errorf("Scheduled refresh failed: %v", err)
	}
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
