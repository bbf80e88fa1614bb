package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository implements domain.Store over the roads and zones tables
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the tables if they don't exist
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return nil
}

// LoadZones returns zones in generation order
func (r *PostgresRepository) LoadZones(ctx context.Context) ([]domain.Zone, error) {
	rows, err := r.pool.Query(ctx, `SELECT zone_id, seq, polygon, congestion FROM zones ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []domain.Zone
	for rows.Next() {
		var (
			z       domain.Zone
			polygon string
		)
		if err := rows.Scan(&z.ID, &z.Seq, &polygon, &z.Congestion); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan zone row: %w", err)
		}
		if z.Polygon, err = repository.DecodeRing(polygon); err != nil {
			return nil, fmt.Errorf("postgres: zone %s: %w", z.ID, err)
		}
		z.Congestion = repository.StoredCongestion(z.Congestion)
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read zones: %w", err)
	}

	return zones, nil
}

// LoadRoads returns roads in stored order
func (r *PostgresRepository) LoadRoads(ctx context.Context) ([]domain.RoadSegment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, path, highway, congestion, zone_id FROM roads ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query roads: %w", err)
	}
	defer rows.Close()

	var roads []domain.RoadSegment
	for rows.Next() {
		var (
			road   domain.RoadSegment
			path   string
			zoneID *string
		)
		if err := rows.Scan(&road.ID, &path, &road.Highway, &road.Congestion, &zoneID); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan road row: %w", err)
		}
		if road.Path, err = repository.DecodePath(path); err != nil {
			return nil, fmt.Errorf("postgres: road %s: %w", road.ID, err)
		}
		if zoneID != nil {
			road.ZoneID = *zoneID
		}
		road.Congestion = repository.StoredCongestion(road.Congestion)
		roads = append(roads, road)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read roads: %w", err)
	}

	return roads, nil
}

// SaveSnapshot replaces both tables in one transaction
func (r *PostgresRepository) SaveSnapshot(ctx context.Context, roads []domain.RoadSegment, zones []domain.Zone, lights map[string]domain.LightState) error {
	zoneRows := make([][]any, 0, len(zones))
	for _, z := range zones {
		polygon, err := repository.EncodeRing(z.Polygon)
		if err != nil {
			return fmt.Errorf("postgres: zone %s: %w", z.ID, err)
		}
		zoneRows = append(zoneRows, []any{z.ID, z.Seq, polygon, repository.StoredCongestion(z.Congestion)})
	}

	roadRows := make([][]any, 0, len(roads))
	for i, road := range roads {
		path, err := repository.EncodePath(road.Path)
		if err != nil {
			return fmt.Errorf("postgres: road %s: %w", road.ID, err)
		}
		roadRows = append(roadRows, []any{
			road.ID, i, path, road.Highway,
			repository.StoredCongestion(road.Congestion),
			repository.NullableZone(road.ZoneID),
			string(lights[road.ID]),
		})
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM roads`); err != nil {
		return fmt.Errorf("postgres: failed to clear roads: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM zones`); err != nil {
		return fmt.Errorf("postgres: failed to clear zones: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"zones"},
		[]string{"zone_id", "seq", "polygon", "congestion"},
		pgx.CopyFromRows(zoneRows),
	); err != nil {
		return fmt.Errorf("postgres: failed to save zones: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"roads"},
		[]string{"id", "seq", "path", "highway", "congestion", "zone_id", "light_state"},
		pgx.CopyFromRows(roadRows),
	); err != nil {
		return fmt.Errorf("postgres: failed to save roads: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: failed to commit snapshot: %w", err)
	}
	return nil
}

// LightStates returns the light state saved for every road
func (r *PostgresRepository) LightStates(ctx context.Context) (map[string]domain.LightState, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, light_state FROM roads`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query light states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.LightState)
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan light state: %w", err)
		}
		out[id] = domain.LightState(state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read light states: %w", err)
	}
	return out, nil
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}
