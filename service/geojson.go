package service

import (
	"fmt"
	"os"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
)

// ReadFeatureCollection reads a GeoJSON file and returns its features.
// A bare Feature or Geometry is returned as a single-feature collection.
func ReadFeatureCollection(path string) ([]geojson.Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadFeatureCollection: %w", err)
	}

	var g geojson.Geometry
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("ReadFeatureCollection.UnmarshalJSON: %w", err)
	}
	switch geo := g.Geometry.(type) {
	case geojson.FeatureCollection:
		return geo.Features, nil
	case geojson.Feature:
		return []geojson.Feature{geo}, nil
	default:
		return []geojson.Feature{{Geometry: g}}, nil
	}
}

// FeaturePoints extracts every point coordinate from the given features.
// Non-point geometries are ignored.
func FeaturePoints(features []geojson.Feature) [][2]float64 {
	var pts [][2]float64
	for _, f := range features {
		switch g := f.Geometry.Geometry.(type) {
		case geom.Point:
			pts = append(pts, [2]float64(g))
		case geom.MultiPoint:
			pts = append(pts, g.Points()...)
		}
	}
	return pts
}

// FeatureLines extracts every line geometry from the given features.
// Non-line geometries are ignored.
func FeatureLines(features []geojson.Feature) []geom.LineString {
	var lines []geom.LineString
	for _, f := range features {
		switch g := f.Geometry.Geometry.(type) {
		case geom.LineString:
			lines = append(lines, g)
		case geom.MultiLineString:
			for _, ls := range g.LineStrings() {
				lines = append(lines, geom.LineString(ls))
			}
		}
	}
	return lines
}
