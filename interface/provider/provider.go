package provider

import (
	"context"
	"path"

	"github.com/s2coastalbot/s2coastalbot/common"
)

// Filter selects asset files by name within a product tree.
type Filter struct {
	// Pattern is a glob-style pattern matched against the file name
	Pattern string
	// Exclude inverts the filter: keep only files that do NOT match
	Exclude bool
}

// Match reports whether the given asset name passes the filter.
// An empty pattern matches everything.
func (f Filter) Match(name string) bool {
	if f.Pattern == "" {
		return !f.Exclude
	}
	ok, err := path.Match(f.Pattern, name)
	if err != nil {
		return false
	}
	return ok != f.Exclude
}

// AssetProvider is the interface of a product asset download service
type AssetProvider interface {
	// Download fetches the product assets passing the filter into destDir.
	// It never fails hard: after exhausting its retry budget it returns a
	// result with Success=false and lets the caller decide.
	Download(ctx context.Context, product common.Product, destDir string, filter Filter) common.DownloadResult

	// Name of the provider
	Name() string
}
