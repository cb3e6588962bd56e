package cdse

import (
	"context"
	"encoding/json"
	"fmt"
	neturl "net/url"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/paulsmith/gogeos/geos"

	"github.com/s2coastalbot/s2coastalbot/common"
	"github.com/s2coastalbot/s2coastalbot/interface/catalog"
	"github.com/s2coastalbot/s2coastalbot/service"
	"github.com/s2coastalbot/s2coastalbot/service/log"
)

const (
	// Sentinel2QueryURL is the CDSE resto search endpoint for Sentinel-2
	Sentinel2QueryURL = "https://catalogue.dataspace.copernicus.eu/resto/api/collections/Sentinel2/search.json"
	// PageLimit is the maximum number of records per result page
	PageLimit = 1000
)

// Client queries the Copernicus Data Space Ecosystem OpenSearch catalog.
type Client struct {
	// BaseURL of the search endpoint (Sentinel2QueryURL if empty)
	BaseURL string
	// Limit is the page size (PageLimit if zero)
	Limit int
	// Retries per page request in case of temporary errors
	Retries int
}

// Hits is one feature of a resto search result
type Hits struct {
	Uuid       string           `json:"id"`
	Footprint  geojson.Geometry `json:"geometry"`
	Properties struct {
		Title          string  `json:"title"`
		StartDate      string  `json:"startDate"`
		CompletionDate string  `json:"completionDate"`
		ProductType    string  `json:"productType"`
		CloudCover     float64 `json:"cloudCover"`
	} `json:"properties"`
}

// Search implements catalog.Client for CDSE.
func (c *Client) Search(ctx context.Context, aoi *geos.Geometry, from, to time.Time, productType string, cloudCoverMax float64) ([]common.Product, error) {
	aoiWKT, err := aoi.ToWKT()
	if err != nil {
		return nil, fmt.Errorf("CDSE.Search.ToWKT: %w", err)
	}

	query := neturl.Values{}
	query.Set("geometry", aoiWKT)
	query.Set("startDate", from.UTC().Format("2006-01-02T15:04:05Z"))
	query.Set("completionDate", to.UTC().Format("2006-01-02T15:04:05Z"))
	query.Set("productType", productType)
	query.Set("cloudCover", fmt.Sprintf("[0,%g]", cloudCoverMax))
	query.Set("sortParam", "startDate")
	query.Set("sortOrder", "descending")

	hits, err := c.query(ctx, query)
	if err != nil {
		return nil, catalog.ErrUnavailable{Cause: fmt.Errorf("CDSE.Search.%w", err)}
	}

	products := make([]common.Product, 0, len(hits))
	for _, hit := range hits {
		date, err := dateparse.ParseAny(hit.Properties.CompletionDate)
		if err != nil {
			return nil, fmt.Errorf("CDSE.Search.ParseAny[%s]: %w", hit.Properties.CompletionDate, err)
		}
		products = append(products, common.Product{
			ID:             hit.Uuid,
			Title:          hit.Properties.Title,
			Footprint:      hit.Footprint.Geometry,
			CompletionDate: date,
			CloudCover:     hit.Properties.CloudCover,
		})
	}
	return products, nil
}

func (c *Client) query(ctx context.Context, query neturl.Values) ([]Hits, error) {
	baseURL, limit := c.BaseURL, c.Limit
	if baseURL == "" {
		baseURL = Sentinel2QueryURL
	}
	if limit == 0 {
		limit = PageLimit
	}
	query.Set("maxRecords", fmt.Sprint(limit))

	var hits []Hits
	for page := 1; ; page++ {
		log.Logger(ctx).Sugar().Debugf("[CDSE] Search page %d", page)
		query.Set("page", fmt.Sprint(page))
		jsonResults, err := service.GetBodyRetry(baseURL+"?"+query.Encode(), c.Retries)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}

		results := struct {
			Features []Hits `json:"features"`
		}{}
		if err := json.Unmarshal(jsonResults, &results); err != nil {
			return nil, fmt.Errorf("query.Unmarshal: %w (response: %s)", err, jsonResults)
		}
		hits = append(hits, results.Features...)

		// Last page is not full
		if len(results.Features) < limit {
			return hits, nil
		}
	}
}
