// Package sqlite is a single-file domain.Store for deployments without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// Repository wraps a SQLite connection with write serialization
type Repository struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens a SQLite database with WAL mode enabled and ensures the schema
func Open(ctx context.Context, path string) (*Repository, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// one writer at a time
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	r := &Repository{conn: conn}
	if err := r.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Printf("Connected to SQLite database: %s", path)
	return r, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.conn.Close()
}

// EnsureSchema creates tables if they don't exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return nil
}

// LoadZones returns zones in generation order
func (r *Repository) LoadZones(ctx context.Context) ([]domain.Zone, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT zone_id, seq, polygon, congestion FROM zones ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []domain.Zone
	for rows.Next() {
		var (
			z       domain.Zone
			polygon string
		)
		if err := rows.Scan(&z.ID, &z.Seq, &polygon, &z.Congestion); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan zone row: %w", err)
		}
		if z.Polygon, err = repository.DecodeRing(polygon); err != nil {
			return nil, fmt.Errorf("sqlite: zone %s: %w", z.ID, err)
		}
		z.Congestion = repository.StoredCongestion(z.Congestion)
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to read zones: %w", err)
	}
	return zones, nil
}

// LoadRoads returns roads in stored order
func (r *Repository) LoadRoads(ctx context.Context) ([]domain.RoadSegment, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT id, path, highway, congestion, zone_id FROM roads ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query roads: %w", err)
	}
	defer rows.Close()

	var roads []domain.RoadSegment
	for rows.Next() {
		var (
			road   domain.RoadSegment
			path   string
			zoneID sql.NullString
		)
		if err := rows.Scan(&road.ID, &path, &road.Highway, &road.Congestion, &zoneID); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan road row: %w", err)
		}
		if road.Path, err = repository.DecodePath(path); err != nil {
			return nil, fmt.Errorf("sqlite: road %s: %w", road.ID, err)
		}
		road.ZoneID = zoneID.String
		road.Congestion = repository.StoredCongestion(road.Congestion)
		roads = append(roads, road)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to read roads: %w", err)
	}
	return roads, nil
}

// SaveSnapshot replaces both tables in one transaction
func (r *Repository) SaveSnapshot(ctx context.Context, roads []domain.RoadSegment, zones []domain.Zone, lights map[string]domain.LightState) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM roads`); err != nil {
		return fmt.Errorf("sqlite: failed to clear roads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM zones`); err != nil {
		return fmt.Errorf("sqlite: failed to clear zones: %w", err)
	}

	zoneStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO zones (zone_id, seq, polygon, congestion) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite: failed to prepare zone insert: %w", err)
	}
	defer zoneStmt.Close()

	for _, z := range zones {
		polygon, err := repository.EncodeRing(z.Polygon)
		if err != nil {
			return fmt.Errorf("sqlite: zone %s: %w", z.ID, err)
		}
		if _, err := zoneStmt.ExecContext(ctx, z.ID, z.Seq, polygon, repository.StoredCongestion(z.Congestion)); err != nil {
			return fmt.Errorf("sqlite: failed to insert zone %s: %w", z.ID, err)
		}
	}

	roadStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO roads (id, seq, path, highway, congestion, zone_id, light_state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite: failed to prepare road insert: %w", err)
	}
	defer roadStmt.Close()

	for i, road := range roads {
		path, err := repository.EncodePath(road.Path)
		if err != nil {
			return fmt.Errorf("sqlite: road %s: %w", road.ID, err)
		}
		if _, err := roadStmt.ExecContext(ctx,
			road.ID, i, path, road.Highway,
			repository.StoredCongestion(road.Congestion),
			repository.NullableZone(road.ZoneID),
			string(lights[road.ID]),
		); err != nil {
			return fmt.Errorf("sqlite: failed to insert road %s: %w", road.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit snapshot: %w", err)
	}
	return nil
}

// LightStates returns the light state saved for every road
func (r *Repository) LightStates(ctx context.Context) (map[string]domain.LightState, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT id, light_state FROM roads`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query light states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.LightState)
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan light state: %w", err)
		}
		out[id] = domain.LightState(state)
	}
	return out, rows.Err()
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	if err := r.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health check failed: %w", err)
	}
	return nil
}
