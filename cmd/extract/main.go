// Command extract parses OSM extracts, builds the zone grid, assigns roads to zones
// and writes the roads and zones tables.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/smartcity/ecoflow/internal/config"
	"github.com/smartcity/ecoflow/internal/ingest"
	"github.com/smartcity/ecoflow/internal/repository/postgres"
	"github.com/smartcity/ecoflow/internal/repository/sqlite"
	"github.com/smartcity/ecoflow/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	cfg.SetupLogging()

	osmDir := flag.String("osm", cfg.OSMDir, "directory of .osm extracts")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	roads, err := ingest.LoadDir(ctx, *osmDir)
	if err != nil {
		log.Fatalf("Failed to read OSM extracts: %v", err)
	}

	grid, err := cfg.Grid(roads)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	assigner, err := cfg.Assigner()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	svc := service.NewTrafficService(nil, store, assigner, service.Options{})
	report, err := svc.Bootstrap(ctx, roads, grid)
	if err != nil {
		log.Fatalf("Failed to build working set: %v", err)
	}

	log.WithFields(log.Fields{
		"roads":      report.Assigned + report.Unassigned,
		"assigned":   report.Assigned,
		"unassigned": report.Unassigned,
		"skipped":    len(report.Skipped),
		"zones":      grid.NX * grid.NY,
	}).Info("Roads and zones saved")
}

// the extract tool needs durable storage, so there is no in-memory fallback
func openStore(ctx context.Context, cfg *config.Config) (service.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	}

	path := cfg.SQLitePath
	if path == "" {
		path = "ecoflow.db"
	}
	repo, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return repo, func() { repo.Close() }, nil
}
