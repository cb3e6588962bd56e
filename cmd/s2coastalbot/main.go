package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"
	"go.uber.org/zap"

	"github.com/s2coastalbot/s2coastalbot/acquisition"
	"github.com/s2coastalbot/s2coastalbot/geocode"
	"github.com/s2coastalbot/s2coastalbot/interface/catalog/cdse"
	"github.com/s2coastalbot/s2coastalbot/interface/ledger"
	"github.com/s2coastalbot/s2coastalbot/interface/provider"
	"github.com/s2coastalbot/s2coastalbot/service"
	"github.com/s2coastalbot/s2coastalbot/service/log"
	"github.com/s2coastalbot/s2coastalbot/subset"
)

const historyFile = "downloaded_images.csv"

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	godal.RegisterAll()

	features, err := service.ReadFeatureCollection(config.AoiFile)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	tiles := service.FeaturePoints(features)
	if len(tiles) == 0 {
		return fmt.Errorf("run: no tile centroids in %s", config.AoiFile)
	}

	history, err := ledger.Open(filepath.Join(config.DataDir, historyFile))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	selector := acquisition.Selector{
		Catalog:       &cdse.Client{},
		Provider:      provider.NewCDSE(config.CdseUser, config.CdsePassword),
		History:       history,
		DataDir:       config.DataDir,
		CloudCoverMax: config.CloudCoverMax,
		TimerangeDays: config.TimerangeDays,
	}
	extractor := subset.Extractor{}

	var poster Poster
	if config.MastodonServer != "" {
		poster = newMastodonPoster(config.MastodonServer, config.MastodonAccessToken)
	}

	// A scene can turn out unusable only after download, when every crop
	// candidate lands on nodata. The history already holds it at that
	// point, so the next pass selects a different product.
	for {
		acquired, err := selector.Select(ctx, tiles)
		if err != nil {
			if errors.Is(err, acquisition.ErrNoSuitableProduct) {
				log.Logger(ctx).Warn("no suitable product over the area of interest, nothing to post")
				return nil
			}
			return fmt.Errorf("run: %w", err)
		}

		crop, err := extractor.Extract(ctx, acquired.TCIPath, config.CoastlineFile)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if crop == nil {
			log.Logger(ctx).Sugar().Infof("no usable subset in %s, selecting another product", acquired.Title)
			clean(ctx, config, acquired.ProductDir)
			continue
		}

		if err := post(ctx, config, poster, acquired, crop); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		clean(ctx, config, acquired.ProductDir)
		return nil
	}
}

// post converts the subset to PNG and publishes it with its caption.
func post(ctx context.Context, config *config, poster Poster, acquired *acquisition.Acquisition, crop *subset.Subset) error {
	lon, lat := crop.Center[0], crop.Center[1]
	resolver := geocode.Resolver{}
	caption := fmt.Sprintf("%s (%s) %s",
		resolver.LocationName(ctx, lon, lat),
		geocode.FormatLonLat(lon, lat),
		acquired.Date.Format("2006 Jan 02"))
	log.Logger(ctx).Sugar().Infof("caption: %s", caption)

	imagePath, err := toPNG(crop.Path)
	if err != nil {
		return err
	}
	if poster == nil {
		log.Logger(ctx).Sugar().Infof("no mastodon account configured, image left at %s", imagePath)
		return nil
	}
	return poster.Post(ctx, imagePath, caption)
}

func toPNG(tifPath string) (string, error) {
	ds, err := godal.Open(tifPath)
	if err != nil {
		return "", fmt.Errorf("toPNG: %w", err)
	}
	defer ds.Close()

	pngPath := strings.TrimSuffix(tifPath, filepath.Ext(tifPath)) + ".png"
	png, err := ds.Translate(pngPath, []string{"-of", "PNG"})
	if err != nil {
		return "", fmt.Errorf("toPNG.Translate: %w", err)
	}
	png.Close()
	return pngPath, nil
}

func clean(ctx context.Context, config *config, productDir string) {
	if !config.Cleaning {
		return
	}
	if err := os.RemoveAll(productDir); err != nil {
		log.Logger(ctx).Sugar().Warnf("cleaning %s: %v", productDir, err)
	}
}
