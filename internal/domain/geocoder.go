package domain

import "context"

// GeocodingResult contains address data returned by a geocoding provider.
type GeocodingResult struct {
	ZipCode          string
	FormattedAddress string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves street addresses that carry no zip code.
type Geocoder interface {
	// LookupAddress resolves a street address within the dataset's city and state.
	LookupAddress(ctx context.Context, address string) (GeocodingResult, error)
}
