package geometry

import (
	"context"
	"fmt"
	"math"

	"github.com/airbusgeo/godal"
	"github.com/paulsmith/gogeos/geos"
	"go.uber.org/zap"

	"github.com/s2coastalbot/s2coastalbot/service/log"
)

// EPSG code of the geographic coordinate reference system (WGS84)
const EPSG4326 = 4326

// Reproject transforms a sequence of (x, y) coordinate pairs from src to dst.
// Point ordering and count are preserved. For geographic systems, coordinates
// are always expressed as (longitude, latitude) regardless of the authority
// axis order.
func Reproject(pts [][2]float64, src, dst *godal.SpatialRef) ([][2]float64, error) {
	trn, err := godal.NewTransform(src, dst)
	if err != nil {
		return nil, fmt.Errorf("Reproject.NewTransform: %w", err)
	}
	defer trn.Close()

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, pt := range pts {
		xs[i], ys[i] = pt[0], pt[1]
		if src.EPSGTreatsAsLatLong() {
			xs[i], ys[i] = pt[1], pt[0]
		}
	}
	if err := trn.TransformEx(xs, ys, make([]float64, len(pts)), nil); err != nil {
		return nil, fmt.Errorf("Reproject.TransformEx: %w", err)
	}

	out := make([][2]float64, len(pts))
	for i := range out {
		out[i] = [2]float64{xs[i], ys[i]}
		if dst.EPSGTreatsAsLatLong() {
			out[i] = [2]float64{ys[i], xs[i]}
		}
	}
	return out, nil
}

// Footprint builds the rectangular ground footprint of the scene in
// geographic coordinates. Corners are ordered clockwise starting top-left so
// the polygon is valid.
func Footprint(ds *godal.Dataset) (*geos.Geometry, error) {
	bounds, err := ds.Bounds()
	if err != nil {
		return nil, fmt.Errorf("Footprint.Bounds: %w", err)
	}
	minx, miny, maxx, maxy := bounds[0], bounds[1], bounds[2], bounds[3]
	corners := [][2]float64{
		{minx, maxy},
		{maxx, maxy},
		{maxx, miny},
		{minx, miny},
	}

	geogSR, err := godal.NewSpatialRefFromEPSG(EPSG4326)
	if err != nil {
		return nil, fmt.Errorf("Footprint.NewSpatialRefFromEPSG: %w", err)
	}
	defer geogSR.Close()
	corners, err = Reproject(corners, ds.SpatialRef(), geogSR)
	if err != nil {
		return nil, fmt.Errorf("Footprint.%w", err)
	}

	shell := make([]geos.Coord, 0, len(corners)+1)
	for _, c := range corners {
		shell = append(shell, geos.NewCoord(c[0], c[1]))
	}
	shell = append(shell, shell[0])
	polygon, err := geos.NewPolygon(shell)
	if err != nil {
		return nil, fmt.Errorf("Footprint.NewPolygon: %w", err)
	}
	return polygon, nil
}

// PixelForCoordinate maps a coordinate in the scene-native CRS to the
// containing pixel through the inverse geotransform.
func PixelForCoordinate(gt [6]float64, x, y float64) (row, col int) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	dx, dy := x-gt[0], y-gt[3]
	col = int(math.Floor((gt[5]*dx - gt[2]*dy) / det))
	row = int(math.Floor((gt[1]*dy - gt[4]*dx) / det))
	return row, col
}

// Window is a rectangular pixel region, always fully inside image bounds.
// Stops are exclusive.
type Window struct {
	RowStart, RowStop int
	ColStart, ColStop int
}

// Width returns the number of columns of the window.
func (w Window) Width() int { return w.ColStop - w.ColStart }

// Height returns the number of rows of the window.
func (w Window) Height() int { return w.RowStop - w.RowStart }

// ClampWindow computes a width x height window centered on (row, col), then
// shifts it (never resizes it) so that it lies entirely within
// [0, imgHeight) x [0, imgWidth). If the requested size exceeds an image
// dimension, the window saturates to the full extent of that dimension and a
// warning is logged.
func ClampWindow(ctx context.Context, row, col, width, height, imgWidth, imgHeight int) Window {
	w := Window{
		RowStart: row - height/2,
		ColStart: col - width/2,
	}
	w.RowStop = w.RowStart + height
	w.ColStop = w.ColStart + width

	if height > imgHeight || width > imgWidth {
		log.Logger(ctx).Warn("requested window exceeds image extent, saturating",
			zap.Int("width", width), zap.Int("height", height),
			zap.Int("imgWidth", imgWidth), zap.Int("imgHeight", imgHeight))
	}

	w.RowStart, w.RowStop = shift(w.RowStart, w.RowStop, imgHeight)
	w.ColStart, w.ColStop = shift(w.ColStart, w.ColStop, imgWidth)
	return w
}

// shift slides [start, stop) inside [0, dim), saturating when it cannot fit.
func shift(start, stop, dim int) (int, int) {
	if stop-start > dim {
		return 0, dim
	}
	if start < 0 {
		return 0, stop - start
	}
	if stop > dim {
		return dim - (stop - start), dim
	}
	return start, stop
}
