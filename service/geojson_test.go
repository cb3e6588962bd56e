package service

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGeoJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.geojson")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFeatureCollectionPoints(t *testing.T) {
	path := writeGeoJSON(t, `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {"name": "22WES"}, "geometry": {"type": "Point", "coordinates": [-51.7, 64.2]}},
		{"type": "Feature", "properties": {"name": "22WET"}, "geometry": {"type": "Point", "coordinates": [-51.7, 65.1]}}]}`)

	features, err := ReadFeatureCollection(path)
	if err != nil {
		t.Fatal(err)
	}
	pts := FeaturePoints(features)
	if len(pts) != 2 {
		t.Fatalf("expecting 2 points, found %d", len(pts))
	}
	if pts[0] != [2]float64{-51.7, 64.2} {
		t.Errorf("unexpected first point %v", pts[0])
	}
}

func TestReadFeatureCollectionLines(t *testing.T) {
	path := writeGeoJSON(t, `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {}, "geometry": {"type": "LineString", "coordinates": [[-52.0, 64.1], [-51.4, 64.3]]}},
		{"type": "Feature", "properties": {}, "geometry": {"type": "MultiLineString", "coordinates": [[[-52.0, 64.5], [-51.4, 64.6]], [[-52.0, 64.8], [-51.4, 64.9]]]}}]}`)

	features, err := ReadFeatureCollection(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := FeatureLines(features)
	if len(lines) != 3 {
		t.Fatalf("expecting 3 lines, found %d", len(lines))
	}
	if len(FeaturePoints(features)) != 0 {
		t.Error("expecting no points in a line collection")
	}
}

func TestReadFeatureCollectionBareGeometry(t *testing.T) {
	path := writeGeoJSON(t, `{"type": "Point", "coordinates": [-51.7, 64.2]}`)

	features, err := ReadFeatureCollection(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(features) != 1 {
		t.Fatalf("expecting 1 feature, found %d", len(features))
	}
	if len(FeaturePoints(features)) != 1 {
		t.Error("expecting 1 point")
	}
}
