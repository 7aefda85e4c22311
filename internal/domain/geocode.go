package domain

import (
	"context"
	"log/slog"
)

// Zip sources recorded on enriched permits.
const (
	ZipSourceAddress  = "address"
	ZipSourceGeocoded = "geocoded"
	ZipSourceFailed   = "failed"
)

// EnrichWithGeocoding fills the zip code of a permit whose address has none.
// If geocoder is nil the permit is returned unchanged; on failure ZipSource is
// set to "failed" and the permit is otherwise kept as is.
func EnrichWithGeocoding(ctx context.Context, p Permit, geocoder Geocoder, logger *slog.Logger) Permit {
	if geocoder == nil || p.ZipCode != "" || p.Address == "" {
		return p
	}

	result, err := geocoder.LookupAddress(ctx, p.Address)
	if err != nil {
		logger.Warn("address geocoding failed",
			"permit_id", p.ID,
			"address", p.Address,
			"error", err,
		)
		p.ZipSource = ZipSourceFailed
		return p
	}
	if result.ZipCode == "" {
		p.ZipSource = ZipSourceFailed
		return p
	}

	p.ZipCode = result.ZipCode
	p.ZipSource = ZipSourceGeocoded
	return p
}
