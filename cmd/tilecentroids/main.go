// tilecentroids precomputes the area-of-interest file: the centroids of
// the Sentinel-2 tiles whose footprint touches a coastline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/paulsmith/gogeos/geos"
	"go.uber.org/zap"

	"github.com/s2coastalbot/s2coastalbot/service"
	"github.com/s2coastalbot/s2coastalbot/service/log"
)

type config struct {
	TilesFile     string
	CoastlineFile string
	OutputFile    string
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.TilesFile, "tiles", "", "GeoJSON file of Sentinel-2 tile footprints (with a name property)")
	flag.StringVar(&config.CoastlineFile, "coastline", "", "GeoJSON file of coastline lines")
	flag.StringVar(&config.OutputFile, "o", "tile_centroids.geojson", "output GeoJSON file of tile centroids")
	flag.Parse()

	if config.TilesFile == "" {
		return nil, fmt.Errorf("missing tiles config flag")
	}
	if config.CoastlineFile == "" {
		return nil, fmt.Errorf("missing coastline config flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	coastline, err := loadCoastline(config.CoastlineFile)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	tiles, err := service.ReadFeatureCollection(config.TilesFile)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	centroids := geojson.FeatureCollection{}
	for _, tile := range tiles {
		footprint, err := tilePolygons(tile.Geometry.Geometry)
		if err != nil {
			return fmt.Errorf("run[%s]: %w", tileName(tile), err)
		}
		if footprint == nil {
			continue
		}
		coastal, err := footprint.Intersects(coastline)
		if err != nil {
			return fmt.Errorf("run[%s]: %w", tileName(tile), err)
		}
		if !coastal {
			continue
		}
		centroid, err := footprint.Centroid()
		if err != nil {
			return fmt.Errorf("run[%s]: %w", tileName(tile), err)
		}
		x, err := centroid.X()
		if err != nil {
			return fmt.Errorf("run[%s]: %w", tileName(tile), err)
		}
		y, err := centroid.Y()
		if err != nil {
			return fmt.Errorf("run[%s]: %w", tileName(tile), err)
		}
		centroids.Features = append(centroids.Features, geojson.Feature{
			Geometry:   geojson.Geometry{Geometry: geom.Point{x, y}},
			Properties: map[string]interface{}{"name": tileName(tile)},
		})
	}
	log.Logger(ctx).Sugar().Infof("%d coastal tiles out of %d", len(centroids.Features), len(tiles))

	data, err := json.Marshal(centroids)
	if err != nil {
		return fmt.Errorf("run.Marshal: %w", err)
	}
	if err := os.WriteFile(config.OutputFile, data, 0644); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// loadCoastline collects every line of the coastline file into one geometry.
func loadCoastline(path string) (*geos.Geometry, error) {
	features, err := service.ReadFeatureCollection(path)
	if err != nil {
		return nil, err
	}
	var lines []*geos.Geometry
	for _, line := range service.FeatureLines(features) {
		coords := make([]geos.Coord, len(line))
		for i, pt := range line {
			coords[i] = geos.NewCoord(pt[0], pt[1])
		}
		l, err := geos.NewLineString(coords...)
		if err != nil {
			return nil, fmt.Errorf("loadCoastline: %w", err)
		}
		lines = append(lines, l)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("loadCoastline: no lines in %s", path)
	}
	return geos.NewCollection(geos.MULTILINESTRING, lines...)
}

// tilePolygons converts a tile footprint into a geos geometry, nil when the
// feature carries no polygon.
func tilePolygons(g geom.Geometry) (*geos.Geometry, error) {
	switch t := g.(type) {
	case geom.Polygon:
		return polygon(t)
	case geom.MultiPolygon:
		var polygons []*geos.Geometry
		for _, p := range t.Polygons() {
			poly, err := polygon(p)
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, poly)
		}
		return geos.NewCollection(geos.MULTIPOLYGON, polygons...)
	}
	return nil, nil
}

func polygon(p geom.Polygon) (*geos.Geometry, error) {
	rings := p.LinearRings()
	if len(rings) == 0 {
		return nil, fmt.Errorf("polygon: no exterior ring")
	}
	shell := make([]geos.Coord, 0, len(rings[0])+1)
	for _, pt := range rings[0] {
		shell = append(shell, geos.NewCoord(pt[0], pt[1]))
	}
	if len(shell) > 0 && shell[0] != shell[len(shell)-1] {
		shell = append(shell, shell[0])
	}
	return geos.NewPolygon(shell)
}

func tileName(tile geojson.Feature) string {
	for _, key := range []string{"name", "Name"} {
		if name, ok := tile.Properties[key].(string); ok {
			return name
		}
	}
	return ""
}
