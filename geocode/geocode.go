// Package geocode turns a geographic coordinate into the human-readable
// fragments of a post caption.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	neturl "net/url"

	"go.uber.org/zap"

	"github.com/s2coastalbot/s2coastalbot/service"
	"github.com/s2coastalbot/s2coastalbot/service/log"
)

const nominatimURL = "https://nominatim.openstreetmap.org/reverse"

// UnknownLocation is the fallback when reverse geocoding fails
const UnknownLocation = "Unknown location"

// FormatLonLat formats a (longitude, latitude) pair as e.g. "64.2°N 51.7°W".
func FormatLonLat(lon, lat float64) string {
	ns := "N"
	if lat < 0 {
		ns = "S"
	}
	ew := "E"
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.1f°%s %.1f°%s", math.Abs(lat), ns, math.Abs(lon), ew)
}

// Resolver reverse-geocodes coordinates against the OSM Nominatim service.
type Resolver struct {
	// BaseURL of the reverse endpoint (OSM Nominatim if empty)
	BaseURL string
	// Retries per request in case of temporary errors
	Retries int
}

// LocationName resolves the coordinate into a region-level display name.
// Failures degrade to UnknownLocation: a caption is never worth aborting a
// run for.
func (r *Resolver) LocationName(ctx context.Context, lon, lat float64) string {
	baseURL := r.BaseURL
	if baseURL == "" {
		baseURL = nominatimURL
	}
	query := neturl.Values{}
	query.Set("lat", fmt.Sprint(lat))
	query.Set("lon", fmt.Sprint(lon))
	query.Set("format", "json")
	query.Set("zoom", "6")
	query.Set("addressdetails", "0")
	query.Set("extratags", "0")

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"?"+query.Encode(), nil)
	if err != nil {
		log.Logger(ctx).Warn("geocode: build request", zap.Error(err))
		return UnknownLocation
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	body, err := service.GetBodyRetryReq(req, r.Retries)
	if err != nil {
		log.Logger(ctx).Warn("geocode: reverse lookup", zap.Error(err))
		return UnknownLocation
	}

	result := struct {
		DisplayName string `json:"display_name"`
		Error       string `json:"error"`
	}{}
	if err := json.Unmarshal(body, &result); err != nil || result.Error != "" || result.DisplayName == "" {
		return UnknownLocation
	}
	return result.DisplayName
}
