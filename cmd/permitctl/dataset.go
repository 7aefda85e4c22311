package main

import (
	"context"
	"fmt"

	"github.com/couchcryptid/permit-data-service/internal/adapter/csvsource"
	"github.com/couchcryptid/permit-data-service/internal/adapter/mapbox"
	"github.com/couchcryptid/permit-data-service/internal/adapter/sqlite"
	"github.com/couchcryptid/permit-data-service/internal/dataset"
	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/couchcryptid/permit-data-service/internal/pipeline"
)

// loadDataset returns the archived snapshot when --archive is set, otherwise
// runs one refresh of the CSV source into an in-memory store.
func loadDataset(ctx context.Context) (*domain.Dataset, error) {
	if archiveFlag != "" {
		archive, err := sqlite.Open(archiveFlag)
		if err != nil {
			return nil, err
		}
		defer archive.Close() //nolint:errcheck // read-only use

		ds, err := archive.Latest(ctx)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			return nil, fmt.Errorf("archive %s holds no snapshot", archiveFlag)
		}
		return ds, nil
	}

	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, cfg.DatasetCity, cfg.DatasetState, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
	}

	store := dataset.NewStore()
	p := pipeline.New(
		csvsource.New(sourceFlag, cfg.DatasetFetchTimeout, logger),
		pipeline.NewTransformer(geocoder, logger),
		store, logger, metrics, cfg.DatasetRefreshInterval,
	)
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	return store.Current(), nil
}
