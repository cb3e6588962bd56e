package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulsmith/gogeos/geos"

	"github.com/s2coastalbot/s2coastalbot/common"
	"github.com/s2coastalbot/s2coastalbot/interface/catalog"
	"github.com/s2coastalbot/s2coastalbot/interface/ledger"
	"github.com/s2coastalbot/s2coastalbot/interface/provider"
)

const mtdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<n1:Level-2A_User_Product xmlns:n1="https://psd-14.sentinel2.eo.esa.int/PSD/User_Product_Level-2A.xsd">
  <n1:Quality_Indicators_Info>
    <Image_Content_QI>
      <CLOUDY_PIXEL_PERCENTAGE>1.2</CLOUDY_PIXEL_PERCENTAGE>
      <NODATA_PIXEL_PERCENTAGE>%s</NODATA_PIXEL_PERCENTAGE>
    </Image_Content_QI>
  </n1:Quality_Indicators_Info>
</n1:Level-2A_User_Product>`

type catalogFunc func(ctx context.Context, aoi *geos.Geometry, from, to time.Time, productType string, cloudCoverMax float64) ([]common.Product, error)

func (f catalogFunc) Search(ctx context.Context, aoi *geos.Geometry, from, to time.Time, productType string, cloudCoverMax float64) ([]common.Product, error) {
	return f(ctx, aoi, from, to, productType, cloudCoverMax)
}

// fakeProvider writes a metadata file for probe downloads and a TCI file for
// full downloads, without touching the network.
type fakeProvider struct {
	nodataPct string
	failProbe bool
	failFull  bool
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Download(ctx context.Context, product common.Product, destDir string, filter provider.Filter) common.DownloadResult {
	if err := os.MkdirAll(destDir, 0766); err != nil {
		return common.DownloadResult{}
	}
	switch filter.Pattern {
	case common.MetadataPattern:
		if p.failProbe {
			return common.DownloadResult{}
		}
		path := filepath.Join(destDir, "MTD_MSIL2A.xml")
		if err := os.WriteFile(path, fmt.Appendf(nil, mtdTemplate, p.nodataPct), 0644); err != nil {
			return common.DownloadResult{}
		}
		return common.DownloadResult{Success: true, Paths: []string{path}}
	case common.TCIPattern:
		if p.failFull {
			return common.DownloadResult{}
		}
		path := filepath.Join(destDir, "T57MWM_TCI_10m.jp2")
		if err := os.WriteFile(path, []byte("tci"), 0644); err != nil {
			return common.DownloadResult{}
		}
		return common.DownloadResult{Success: true, Paths: []string{path}}
	}
	return common.DownloadResult{}
}

func testTiles(n int) [][2]float64 {
	tiles := make([][2]float64, n)
	for i := range tiles {
		tiles[i] = [2]float64{float64(i % 10), float64(i / 10)}
	}
	return tiles
}

func newTestSelector(t *testing.T, cat catalog.Client, prov provider.AssetProvider) *Selector {
	t.Helper()
	history, err := ledger.Open(filepath.Join(t.TempDir(), "downloaded_images.csv"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	return &Selector{
		Catalog:       cat,
		Provider:      prov,
		History:       history,
		DataDir:       t.TempDir(),
		CloudCoverMax: 30,
		Rand:          rand.New(rand.NewSource(1)),
	}
}

func oneProductCatalog(product common.Product) catalogFunc {
	return func(ctx context.Context, aoi *geos.Geometry, from, to time.Time, productType string, cloudCoverMax float64) ([]common.Product, error) {
		return []common.Product{product}, nil
	}
}

func TestSelectSuccess(t *testing.T) {
	date := time.Date(2023, 9, 1, 12, 0, 0, 0, time.UTC)
	product := common.Product{ID: "feature-1", Title: "mock_product_001.SAFE", CompletionDate: date}
	s := newTestSelector(t, oneProductCatalog(product), &fakeProvider{nodataPct: "0.0"})

	acq, err := s.Select(context.Background(), testTiles(10))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if acq.Title != "mock_product_001" {
		t.Errorf("expecting title mock_product_001, found %s", acq.Title)
	}
	if !acq.Date.Equal(date) {
		t.Errorf("expecting date %v, found %v", date, acq.Date)
	}
	if _, err := os.Stat(acq.TCIPath); err != nil {
		t.Errorf("expecting TCI file on disk: %v", err)
	}
	if !s.History.Contains("mock_product_001") {
		t.Error("expecting ledger to record the product")
	}
}

func TestSelectNoveltyFilter(t *testing.T) {
	product := common.Product{ID: "feature-1", Title: "mock_product_001.SAFE"}
	s := newTestSelector(t, oneProductCatalog(product), &fakeProvider{nodataPct: "0.0"})
	if err := s.History.Append(time.Now(), "mock_product_001"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	_, err := s.Select(context.Background(), testTiles(10))
	if !errors.Is(err, ErrNoSuitableProduct) {
		t.Errorf("expecting ErrNoSuitableProduct, found %v", err)
	}
}

func TestSelectRejectsNodata(t *testing.T) {
	product := common.Product{ID: "feature-1", Title: "mock_product_001.SAFE"}
	s := newTestSelector(t, oneProductCatalog(product), &fakeProvider{nodataPct: "0.01"})

	_, err := s.Select(context.Background(), testTiles(10))
	if !errors.Is(err, ErrNoSuitableProduct) {
		t.Errorf("expecting ErrNoSuitableProduct for nonzero nodata, found %v", err)
	}
}

func TestSelectProbeFailureSkipsCandidate(t *testing.T) {
	product := common.Product{ID: "feature-1", Title: "mock_product_001.SAFE"}
	s := newTestSelector(t, oneProductCatalog(product), &fakeProvider{failProbe: true})

	_, err := s.Select(context.Background(), testTiles(10))
	if !errors.Is(err, ErrNoSuitableProduct) {
		t.Errorf("expecting ErrNoSuitableProduct, found %v", err)
	}
}

func TestSelectDownloadFailed(t *testing.T) {
	product := common.Product{ID: "feature-1", Title: "mock_product_001.SAFE"}
	s := newTestSelector(t, oneProductCatalog(product), &fakeProvider{nodataPct: "0.0", failFull: true})

	_, err := s.Select(context.Background(), testTiles(10))
	var dlErr ErrDownloadFailed
	if !errors.As(err, &dlErr) || dlErr.Product != "mock_product_001" {
		t.Errorf("expecting ErrDownloadFailed for mock_product_001, found %v", err)
	}
	if s.History.Contains("mock_product_001") {
		t.Error("failed download must not be recorded in the ledger")
	}
}

func TestSelectWindowPartitioning(t *testing.T) {
	calls := 0
	cat := catalogFunc(func(ctx context.Context, aoi *geos.Geometry, from, to time.Time, productType string, cloudCoverMax float64) ([]common.Product, error) {
		calls++
		return nil, nil
	})
	s := newTestSelector(t, cat, &fakeProvider{})

	_, err := s.Select(context.Background(), testTiles(101))
	if !errors.Is(err, ErrNoSuitableProduct) {
		t.Fatalf("expecting ErrNoSuitableProduct, found %v", err)
	}
	if calls != 3 {
		t.Errorf("expecting 3 windows for 101 tiles, found %d", calls)
	}
}

func TestSelectSkipsUnavailableWindows(t *testing.T) {
	cat := catalogFunc(func(ctx context.Context, aoi *geos.Geometry, from, to time.Time, productType string, cloudCoverMax float64) ([]common.Product, error) {
		return nil, catalog.ErrUnavailable{Cause: errors.New("connection refused")}
	})
	s := newTestSelector(t, cat, &fakeProvider{})

	_, err := s.Select(context.Background(), testTiles(101))
	if !errors.Is(err, ErrNoSuitableProduct) {
		t.Errorf("expecting ErrNoSuitableProduct after skipping windows, found %v", err)
	}
}

func TestNodataPercentage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MTD_MSIL2A.xml")
	if err := os.WriteFile(path, fmt.Appendf(nil, mtdTemplate, "2.5"), 0644); err != nil {
		t.Fatal(err)
	}
	pct, err := nodataPercentage(path)
	if err != nil {
		t.Fatalf("nodataPercentage: %v", err)
	}
	if pct != 2.5 {
		t.Errorf("expecting 2.5, found %g", pct)
	}
}
