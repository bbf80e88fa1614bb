// Package config loads service configuration from the environment and an optional YAML grid file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/spatial"
)

// Region describes the zone grid. It can come from GRID_CONFIG (YAML) and be
// overridden per key from the environment.
type Region struct {
	BBox             string  `yaml:"bbox"` // "minx,miny,maxx,maxy"; empty derives it from the roads
	Buffer           float64 `yaml:"buffer"`
	NX               int     `yaml:"nx"`
	NY               int     `yaml:"ny"`
	SourceProjection string  `yaml:"source_projection"`
	Projection       string  `yaml:"projection"`
	SpatialIndex     bool    `yaml:"spatial_index"`
}

type fileConfig struct {
	Region Region `yaml:"region"`
}

// Config holds all configuration for the server and the extract tool
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Storage: Postgres when DatabaseURL is set, else SQLite when SQLitePath is set, else memory
	DatabaseURL string
	SQLitePath  string

	// Prediction
	MLServiceURL   string
	PredictTimeout time.Duration

	// Simulation cadences
	TickInterval    time.Duration
	RefreshInterval time.Duration
	Timezone        string

	OSMDir     string
	GridConfig string
	Region     Region
}

// Load reads .env (if present), the YAML grid file (if GRID_CONFIG is set) and the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using system environment")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("GO_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_DATABASE", ""),

		MLServiceURL:   getEnv("ML_SERVICE_URL", ""),
		PredictTimeout: getEnvDuration("PREDICT_TIMEOUT", 10*time.Second),

		TickInterval:    getEnvDuration("TICK_INTERVAL", 3*time.Second),
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 15*time.Minute),
		Timezone:        getEnv("TIMEZONE", domain.DefaultTimezone),

		OSMDir:     getEnv("OSM_DIR", "data/osm"),
		GridConfig: getEnv("GRID_CONFIG", ""),

		Region: Region{
			Buffer:     0.01,
			NX:         10,
			NY:         10,
			Projection: spatial.UTM43N,
		},
	}

	if cfg.GridConfig != "" {
		if err := cfg.loadGridFile(cfg.GridConfig); err != nil {
			return nil, err
		}
	}

	r := &cfg.Region
	r.BBox = getEnv("REGION_BBOX", r.BBox)
	r.Buffer = getEnvFloat("GRID_BUFFER", r.Buffer)
	r.NX = getEnvInt("GRID_NX", r.NX)
	r.NY = getEnvInt("GRID_NY", r.NY)
	r.SourceProjection = getEnv("SOURCE_PROJECTION", r.SourceProjection)
	r.Projection = getEnv("PROJECTION", r.Projection)
	r.SpatialIndex = getEnvBool("USE_SPATIAL_INDEX", r.SpatialIndex)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadGridFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	fc := fileConfig{Region: c.Region}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	c.Region = fc.Region
	return nil
}

// Validate rejects settings the pipeline cannot be built from
func (c *Config) Validate() error {
	var errs []error
	if c.Region.NX < 1 || c.Region.NY < 1 {
		errs = append(errs, fmt.Errorf("grid resolution %dx%d must be positive", c.Region.NX, c.Region.NY))
	}
	if c.Region.Buffer < 0 {
		errs = append(errs, fmt.Errorf("grid buffer %v must not be negative", c.Region.Buffer))
	}
	if _, _, err := c.BBox(); err != nil {
		errs = append(errs, err)
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must not be negative"))
	}
	if c.PredictTimeout <= 0 {
		errs = append(errs, errors.New("PREDICT_TIMEOUT must be positive"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("unknown TIMEZONE %q", c.Timezone))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// BBox parses the configured region. ok is false when the box should be derived from the roads.
func (c *Config) BBox() (b orb.Bound, ok bool, err error) {
	return ParseBBox(c.Region.BBox)
}

// ParseBBox parses "minx,miny,maxx,maxy"
func ParseBBox(s string) (orb.Bound, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return orb.Bound{}, false, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, false, fmt.Errorf("bbox %q must have 4 comma separated values", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, false, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, false, fmt.Errorf("bbox %q has min greater than max", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, true, nil
}

// Location returns the timezone used for scheduled refresh timestamps
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Projection builds the planar projection used for assignment
func (c *Config) Projection() (spatial.Projection, error) {
	return spatial.ParseProjection(c.Region.SourceProjection, c.Region.Projection)
}

// IsProduction reports whether GO_ENV is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warnf("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Warnf("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warnf("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("3s", "15m") or plain seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warnf("Ignoring invalid %s=%q", key, value)
	return defaultValue
}
