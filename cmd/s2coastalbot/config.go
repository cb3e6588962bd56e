package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	toml "github.com/pelletier/go-toml/v2"
)

type config struct {
	// Copernicus Data Space Ecosystem account
	CdseUser     string `toml:"cdse_user" env:"CDSE_USER"`
	CdsePassword string `toml:"cdse_password" env:"CDSE_PASSWORD"`

	// AoiFile is a GeoJSON file of tile centroid points to search over
	AoiFile string `toml:"aoi_file"`
	// CoastlineFile is a GeoJSON file of coastline lines
	CoastlineFile string `toml:"coastline_file"`
	// DataDir is where products, subsets and the acquisition history live
	DataDir string `toml:"data_dir"`

	CloudCoverMax float64 `toml:"cloud_cover_max"`
	TimerangeDays int     `toml:"timerange_days"`
	// Cleaning removes the downloaded product after the subset is posted
	Cleaning bool `toml:"cleaning"`

	// Mastodon credentials (optional: without them the run stops after
	// writing the subset)
	MastodonServer      string `toml:"mastodon_server"`
	MastodonAccessToken string `toml:"mastodon_access_token" env:"MASTODON_ACCESS_TOKEN"`
}

func newAppConfig() (*config, error) {
	configFile := flag.String("config", "", "TOML configuration file")
	flag.Parse()

	config := config{
		DataDir:       "data",
		CloudCoverMax: 10,
	}
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	// Credentials may come from the environment rather than the file
	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if config.CdseUser == "" || config.CdsePassword == "" {
		return nil, fmt.Errorf("missing CDSE credentials (cdse_user/cdse_password or CDSE_USER/CDSE_PASSWORD)")
	}
	if config.AoiFile == "" {
		return nil, fmt.Errorf("missing aoi_file config entry")
	}
	if config.CoastlineFile == "" {
		return nil, fmt.Errorf("missing coastline_file config entry")
	}
	if config.MastodonServer != "" && config.MastodonAccessToken == "" {
		return nil, fmt.Errorf("missing mastodon_access_token for %s", config.MastodonServer)
	}
	return &config, nil
}
