package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/paulsmith/gogeos/geos"
	"go.uber.org/zap"

	"github.com/s2coastalbot/s2coastalbot/common"
	"github.com/s2coastalbot/s2coastalbot/interface/catalog"
	"github.com/s2coastalbot/s2coastalbot/interface/ledger"
	"github.com/s2coastalbot/s2coastalbot/interface/provider"
	"github.com/s2coastalbot/s2coastalbot/service/log"
)

const (
	// WindowSize is the number of AOI tiles queried per catalog call
	// (catalog.MaxGeometryPoints is the backend limit)
	WindowSize = 50
	// DefaultTimerangeDays is the catalog search look-back
	DefaultTimerangeDays = 6
)

// ErrNoSuitableProduct is returned when every AOI window has been exhausted
// without an accepted candidate. It is fatal for the run.
var ErrNoSuitableProduct = errors.New("no suitable product found")

// ErrDownloadFailed is returned when the full band download of the accepted
// candidate fails after exhausting the retry budget.
type ErrDownloadFailed struct {
	Product string
}

func (e ErrDownloadFailed) Error() string {
	return fmt.Sprintf("failed image download: %s", e.Product)
}

// Acquisition is the outcome of a successful selection run
type Acquisition struct {
	// TCIPath is the local path of the downloaded band asset
	TCIPath string
	// ProductDir is the directory holding the downloaded product files
	ProductDir string
	// Title of the acquired product, without .SAFE extension
	Title string
	// Date is the acquisition completion timestamp
	Date time.Time
}

// Selector picks exactly one recent acquisition over the area of interest and
// downloads its true color band. Candidates must be novel (absent from the
// history snapshot) and fully covered (no nodata pixel reported by the
// product metadata).
type Selector struct {
	Catalog  catalog.Client
	Provider provider.AssetProvider
	History  *ledger.History
	// DataDir is where products are downloaded
	DataDir string

	// ProductType searched for (common.ProductTypeL2A if empty)
	ProductType string
	// CloudCoverMax is the cloud cover upper bound in percent
	CloudCoverMax float64
	// TimerangeDays is the look-back of the search (DefaultTimerangeDays if zero)
	TimerangeDays int
	// WindowSize overrides the tiles-per-query partition size (WindowSize if zero)
	WindowSize int
	// Rand drives the tile shuffle; seeded from the clock when nil
	Rand *rand.Rand
}

// Select searches the AOI tile set window by window and returns the first
// acquisition that passes the novelty and full-coverage filters.
func (s *Selector) Select(ctx context.Context, tiles [][2]float64) (*Acquisition, error) {
	rnd := s.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	windowSize := s.WindowSize
	if windowSize == 0 {
		windowSize = WindowSize
	}
	productType := s.ProductType
	if productType == "" {
		productType = common.ProductTypeL2A
	}
	timerange := s.TimerangeDays
	if timerange == 0 {
		timerange = DefaultTimerangeDays
	}

	// Shuffle so successive runs do not always query the same sub-region first
	shuffled := slices.Clone(tiles)
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	to := time.Now()
	from := to.AddDate(0, 0, -timerange)

	for start := 0; start < len(shuffled); start += windowSize {
		window := shuffled[start:min(start+windowSize, len(shuffled))]
		aoi, err := multiPoint(window)
		if err != nil {
			return nil, fmt.Errorf("Selector.Select.%w", err)
		}

		products, err := s.Catalog.Search(ctx, aoi, from, to, productType, s.CloudCoverMax)
		if err != nil {
			var unavailable catalog.ErrUnavailable
			if errors.As(err, &unavailable) {
				// Transient: move on to the next tile window
				log.Logger(ctx).Warn("catalog unavailable, skipping window", zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("Selector.Select.Search: %w", err)
		}
		log.Logger(ctx).Sugar().Infof("window %d: %d candidates", start/windowSize, len(products))

		for _, product := range products {
			if s.History.Contains(product.Title) {
				log.Logger(ctx).Sugar().Debugf("skipping already processed %s", product.Name())
				continue
			}
			covered, err := s.fullyCovered(ctx, product)
			if err != nil {
				// Probe failures count as "not fully covered"
				log.Logger(ctx).Warn("coverage probe failed, skipping candidate",
					zap.String("product", product.Name()), zap.Error(err))
				continue
			}
			if !covered {
				log.Logger(ctx).Sugar().Debugf("skipping %s: nodata pixels present", product.Name())
				continue
			}
			return s.download(ctx, product)
		}
	}
	return nil, ErrNoSuitableProduct
}

// fullyCovered downloads the product metadata and checks that the reported
// nodata pixel percentage is exactly zero. Any nodata pixel rejects the
// candidate: image quality is favored over acquisition speed.
func (s *Selector) fullyCovered(ctx context.Context, product common.Product) (bool, error) {
	probeDir := filepath.Join(s.DataDir, "probe-"+uuid.New().String())
	defer os.RemoveAll(probeDir)

	result := s.Provider.Download(ctx, product, probeDir, provider.Filter{Pattern: common.MetadataPattern})
	if !result.Success || len(result.Paths) == 0 {
		return false, fmt.Errorf("fullyCovered: metadata download failed")
	}
	pct, err := nodataPercentage(result.Paths[0])
	if err != nil {
		return false, fmt.Errorf("fullyCovered.%w", err)
	}
	log.Logger(ctx).Sugar().Debugf("%s: %g%% nodata pixels", product.Name(), pct)
	return pct == 0, nil
}

// download fetches the full true color band of the accepted candidate and
// records it in the history ledger.
func (s *Selector) download(ctx context.Context, product common.Product) (*Acquisition, error) {
	log.Logger(ctx).Sugar().Infof("downloading %s", product.Name())
	productDir := filepath.Join(s.DataDir, product.Name()+".SAFE")

	result := s.Provider.Download(ctx, product, productDir, provider.Filter{Pattern: common.TCIPattern})
	if !result.Success || len(result.Paths) == 0 {
		return nil, ErrDownloadFailed{Product: product.Name()}
	}

	if err := s.History.Append(time.Now(), product.Name()); err != nil {
		return nil, fmt.Errorf("Selector.download.%w", err)
	}
	return &Acquisition{
		TCIPath:    result.Paths[0],
		ProductDir: productDir,
		Title:      product.Name(),
		Date:       product.CompletionDate,
	}, nil
}

// multiPoint builds a geos multipoint from tile reference points
func multiPoint(pts [][2]float64) (*geos.Geometry, error) {
	points := make([]*geos.Geometry, len(pts))
	for i, pt := range pts {
		p, err := geos.NewPoint(geos.NewCoord(pt[0], pt[1]))
		if err != nil {
			return nil, fmt.Errorf("multiPoint.NewPoint: %w", err)
		}
		points[i] = p
	}
	collection, err := geos.NewCollection(geos.MULTIPOINT, points...)
	if err != nil {
		return nil, fmt.Errorf("multiPoint.NewCollection: %w", err)
	}
	return collection, nil
}
