package common

import (
	"strings"
	"time"

	"github.com/go-spatial/geom"
)

// Default asset name patterns of a Sentinel-2 L2A product.
const (
	// TCIPattern matches the 10m true color image of a L2A product
	TCIPattern = "*_TCI_10m.jp2"
	// MetadataPattern matches the product metadata file (nodata percentage, ...)
	MetadataPattern = "MTD_MSIL2A.xml"
	// ProductTypeL2A is the atmospherically corrected Sentinel-2 product type
	ProductTypeL2A = "S2MSI2A"
)

// Product is one candidate acquisition returned by the imagery catalog.
// It is read-only once created.
type Product struct {
	// ID is the catalog feature id, used to address product assets
	ID string
	// Title is the product name, e.g. S2B_MSIL2A_20230901T120000_..._T57MWM
	Title string
	// Footprint is the ground footprint in geographic coordinates
	Footprint geom.Geometry
	// CompletionDate is the acquisition completion timestamp
	CompletionDate time.Time
	// CloudCover percentage reported by the catalog [0, 100]
	CloudCover float64
}

// Name returns the product title without the trailing .SAFE extension.
func (p Product) Name() string {
	return strings.TrimSuffix(p.Title, ".SAFE")
}

// DownloadResult is the terminal outcome of a download attempt sequence.
type DownloadResult struct {
	// Success is false when all attempts have been exhausted
	Success bool
	// Paths lists the local files written, in download order
	Paths []string
	// Metadata holds provider-reported values (e.g. completion date)
	Metadata map[string]string
}
