package subset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/go-spatial/geom"
	geomwkt "github.com/go-spatial/geom/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"

	"github.com/s2coastalbot/s2coastalbot/service"
	"github.com/s2coastalbot/s2coastalbot/service/geometry"
	"github.com/s2coastalbot/s2coastalbot/service/log"
)

const (
	// DefaultWindowSize is the subset edge length in pixels
	DefaultWindowSize = 1000
	// DefaultCandidateCap bounds the number of probed candidate centers
	DefaultCandidateCap = 100
)

// ErrNoCoastlineIntersection is returned when the scene footprint does not
// cross the coastline layer at all. Fatal for this scene.
var ErrNoCoastlineIntersection = errors.New("no intersection with coastline found")

// Subset is the extracted crop: an output raster plus its geographic center.
type Subset struct {
	// Path of the written crop file
	Path string
	// Center of the crop in geographic coordinates (longitude, latitude)
	Center [2]float64
}

// Extractor finds a coastal crop free of nodata pixels inside a downloaded
// scene and writes it out with geographic metadata.
type Extractor struct {
	// WindowWidth / WindowHeight of the crop (DefaultWindowSize if zero)
	WindowWidth  int
	WindowHeight int
	// CandidateCap bounds the candidate center pool (DefaultCandidateCap if zero)
	CandidateCap int
	// Rand drives the candidate shuffle; seeded from the clock when nil
	Rand *rand.Rand
}

// Extract probes shuffled coastline points inside the scene footprint until a
// window without nodata pixels is found, then writes the crop next to the
// scene file. A nil Subset with nil error means no acceptable window was
// found among the sampled candidates: the caller should try another scene.
func (e *Extractor) Extract(ctx context.Context, scenePath, coastlineFile string) (*Subset, error) {
	width, height := e.WindowWidth, e.WindowHeight
	if width == 0 {
		width = DefaultWindowSize
	}
	if height == 0 {
		height = DefaultWindowSize
	}
	limit := e.CandidateCap
	if limit == 0 {
		limit = DefaultCandidateCap
	}
	rnd := e.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	ds, err := godal.Open(scenePath)
	if err != nil {
		return nil, fmt.Errorf("Extract.Open: %w", err)
	}
	defer ds.Close()

	pool, err := candidateCenters(ds, coastlineFile)
	if err != nil {
		return nil, err
	}
	rnd.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if len(pool) > limit {
		pool = pool[:limit]
	}

	structure := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("Extract.GeoTransform: %w", err)
	}
	geogSR, err := godal.NewSpatialRefFromEPSG(geometry.EPSG4326)
	if err != nil {
		return nil, fmt.Errorf("Extract.NewSpatialRefFromEPSG: %w", err)
	}
	defer geogSR.Close()

	for _, center := range pool {
		projected, err := geometry.Reproject([][2]float64{center}, geogSR, ds.SpatialRef())
		if err != nil {
			return nil, fmt.Errorf("Extract.%w", err)
		}
		row, col := geometry.PixelForCoordinate(gt, projected[0][0], projected[0][1])
		window := geometry.ClampWindow(ctx, row, col, width, height, structure.SizeX, structure.SizeY)

		bufs, nodata, err := readWindow(ds, window)
		if err != nil {
			return nil, fmt.Errorf("Extract.%w", err)
		}
		if nodata > 0 {
			log.Logger(ctx).Sugar().Debugf("candidate (%.4f, %.4f): %d nodata pixels", center[0], center[1], nodata)
			continue
		}

		outPath := strings.TrimSuffix(scenePath, filepath.Ext(scenePath)) + "_subset.tif"
		if err := writeSubset(outPath, ds, gt, window, bufs); err != nil {
			return nil, fmt.Errorf("Extract.%w", err)
		}
		log.Logger(ctx).Sugar().Infof("subset written to %s, centered on (%.4f, %.4f)", outPath, center[0], center[1])
		return &Subset{Path: outPath, Center: center}, nil
	}

	log.Logger(ctx).Sugar().Infof("no nodata-free subset among %d candidates", len(pool))
	return nil, nil
}

// candidateCenters intersects the coastline layer with the scene footprint
// and returns every vertex of the intersecting lines.
func candidateCenters(ds *godal.Dataset, coastlineFile string) ([][2]float64, error) {
	footprint, err := geometry.Footprint(ds)
	if err != nil {
		return nil, fmt.Errorf("candidateCenters.%w", err)
	}

	features, err := service.ReadFeatureCollection(coastlineFile)
	if err != nil {
		return nil, fmt.Errorf("candidateCenters.%w", err)
	}

	var pool [][2]float64
	for _, line := range service.FeatureLines(features) {
		coords := make([]geos.Coord, len(line))
		for i, pt := range line {
			coords[i] = geos.NewCoord(pt[0], pt[1])
		}
		lineGeos, err := geos.NewLineString(coords...)
		if err != nil {
			return nil, fmt.Errorf("candidateCenters.NewLineString: %w", err)
		}
		intersection, err := lineGeos.Intersection(footprint)
		if err != nil {
			return nil, fmt.Errorf("candidateCenters.Intersection: %w", err)
		}
		empty, err := intersection.IsEmpty()
		if err != nil {
			return nil, fmt.Errorf("candidateCenters.IsEmpty: %w", err)
		}
		if empty {
			continue
		}
		intersectionWKT, err := intersection.ToWKT()
		if err != nil {
			return nil, fmt.Errorf("candidateCenters.ToWKT: %w", err)
		}
		decoded, err := geomwkt.DecodeString(intersectionWKT)
		if err != nil {
			return nil, fmt.Errorf("candidateCenters.DecodeString: %w", err)
		}
		pool = append(pool, vertices(decoded)...)
	}
	if len(pool) == 0 {
		return nil, ErrNoCoastlineIntersection
	}
	return pool, nil
}

// vertices flattens a geometry into its coordinate pairs
func vertices(g geom.Geometry) [][2]float64 {
	switch g := g.(type) {
	case geom.Point:
		return [][2]float64{g}
	case geom.MultiPoint:
		return g.Points()
	case geom.LineString:
		return g.Verticies()
	case geom.MultiLineString:
		var pts [][2]float64
		for _, ls := range g.LineStrings() {
			pts = append(pts, ls...)
		}
		return pts
	case geom.Collection:
		var pts [][2]float64
		for _, sub := range g.Geometries() {
			pts = append(pts, vertices(sub)...)
		}
		return pts
	}
	return nil
}

// readWindow reads every band of the window and counts nodata pixels.
// A pixel is nodata when all bands are simultaneously zero. Only byte
// imagery is supported (the true color image is 8 bit).
func readWindow(ds *godal.Dataset, window geometry.Window) ([][]uint8, int, error) {
	structure := ds.Structure()
	if structure.DataType != godal.Byte {
		return nil, 0, fmt.Errorf("readWindow: unsupported data type %v", structure.DataType)
	}
	w, h := window.Width(), window.Height()

	bufs := make([][]uint8, structure.NBands)
	for i, band := range ds.Bands() {
		bufs[i] = make([]uint8, w*h)
		if err := band.Read(window.ColStart, window.RowStart, bufs[i], w, h); err != nil {
			return nil, 0, fmt.Errorf("readWindow.Read[band %d]: %w", i, err)
		}
	}

	nodata := 0
	for px := 0; px < w*h; px++ {
		zero := true
		for _, buf := range bufs {
			if buf[px] != 0 {
				zero = false
				break
			}
		}
		if zero {
			nodata++
		}
	}
	return bufs, nodata, nil
}

// writeSubset writes the window to a GTiff, deriving the geotransform from
// the source transform shifted by the window offset.
func writeSubset(outPath string, src *godal.Dataset, gt [6]float64, window geometry.Window, bufs [][]uint8) error {
	w, h := window.Width(), window.Height()
	out, err := godal.Create(godal.GTiff, outPath, len(bufs), godal.Byte, w, h)
	if err != nil {
		return fmt.Errorf("writeSubset.Create: %w", err)
	}

	shifted := gt
	shifted[0] = gt[0] + float64(window.ColStart)*gt[1] + float64(window.RowStart)*gt[2]
	shifted[3] = gt[3] + float64(window.ColStart)*gt[4] + float64(window.RowStart)*gt[5]
	if err := out.SetGeoTransform(shifted); err != nil {
		out.Close()
		return fmt.Errorf("writeSubset.SetGeoTransform: %w", err)
	}
	if err := out.SetSpatialRef(src.SpatialRef()); err != nil {
		out.Close()
		return fmt.Errorf("writeSubset.SetSpatialRef: %w", err)
	}
	for i, band := range out.Bands() {
		if err := band.Write(0, 0, bufs[i], w, h); err != nil {
			out.Close()
			return fmt.Errorf("writeSubset.Write[band %d]: %w", i, err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("writeSubset.Close: %w", err)
	}
	return nil
}
