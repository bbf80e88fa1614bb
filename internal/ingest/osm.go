// Package ingest extracts road segments from OpenStreetMap XML extracts.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/smartcity/ecoflow/internal/domain"
)

// ParseRoads reads highway ways from an OSM XML stream.
// Ways referencing nodes missing from the extract are skipped.
func ParseRoads(ctx context.Context, r io.Reader) ([]domain.RoadSegment, error) {
	scanner := osmxml.New(ctx, r)
	defer scanner.Close()

	nodes := make(map[osm.NodeID]orb.Point)
	var roads []domain.RoadSegment
	skipped := 0

	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			nodes[o.ID] = orb.Point{o.Lon, o.Lat}
		case *osm.Way:
			highway := o.Tags.Find("highway")
			if highway == "" {
				continue
			}
			path, ok := wayPath(o, nodes)
			if !ok {
				skipped++
				continue
			}
			roads = append(roads, domain.RoadSegment{
				ID:      strconv.FormatInt(int64(o.ID), 10),
				Path:    path,
				Highway: highway,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: failed to scan osm: %w", err)
	}

	if skipped > 0 {
		log.WithField("skipped", skipped).Info("Skipped ways with missing nodes")
	}
	return roads, nil
}

func wayPath(w *osm.Way, nodes map[osm.NodeID]orb.Point) (orb.LineString, bool) {
	path := make(orb.LineString, 0, len(w.Nodes))
	for _, wn := range w.Nodes {
		p, ok := nodes[wn.ID]
		if !ok {
			return nil, false
		}
		path = append(path, p)
	}
	return path, true
}

// ParseFile parses a single .osm file
func ParseFile(ctx context.Context, path string) ([]domain.RoadSegment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to open %s: %w", path, err)
	}
	defer f.Close()

	roads, err := ParseRoads(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("ingest: %s: %w", path, err)
	}
	return roads, nil
}

// LoadDir parses every .osm file in dir (in name order) and deduplicates the result
func LoadDir(ctx context.Context, dir string) ([]domain.RoadSegment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to read %s: %w", dir, err)
	}

	var all []domain.RoadSegment
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".osm") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		log.Printf("Parsing %s...", path)
		roads, err := ParseFile(ctx, path)
		if err != nil {
			return nil, err
		}
		log.Printf("Road segments extracted: %d", len(roads))
		all = append(all, roads...)
	}

	all = Deduplicate(all)
	log.Printf("Total master road segments: %d", len(all))
	return all, nil
}

// Deduplicate drops repeated road ids, then repeated geometries; first occurrence wins
func Deduplicate(roads []domain.RoadSegment) []domain.RoadSegment {
	byID := lo.UniqBy(roads, func(r domain.RoadSegment) string {
		return r.ID
	})
	return lo.UniqBy(byID, func(r domain.RoadSegment) string {
		return geometryKey(r.Path)
	})
}

func geometryKey(path orb.LineString) string {
	var b strings.Builder
	for _, p := range path {
		b.WriteString(strconv.FormatFloat(p[0], 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p[1], 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}
