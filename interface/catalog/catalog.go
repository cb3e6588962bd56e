package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/paulsmith/gogeos/geos"

	"github.com/s2coastalbot/s2coastalbot/common"
)

// MaxGeometryPoints is the maximum number of points accepted by the catalog
// backend in a single query geometry. Callers must partition larger areas.
const MaxGeometryPoints = 50

// Client is the interface of a remote imagery catalog
type Client interface {
	// Search returns the products intersecting aoi, acquired in [from, to],
	// matching productType, with cloud cover <= cloudCoverMax.
	// An empty result is not an error.
	Search(ctx context.Context, aoi *geos.Geometry, from, to time.Time, productType string, cloudCoverMax float64) ([]common.Product, error)
}

// ErrUnavailable is returned when the catalog cannot be reached.
// It is retryable at the query granularity.
type ErrUnavailable struct {
	Cause error
}

func (e ErrUnavailable) Error() string {
	return fmt.Sprintf("catalog unavailable: %v", e.Cause)
}

func (e ErrUnavailable) Unwrap() error { return e.Cause }
