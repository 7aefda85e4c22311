package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/permit-data-service/internal/domain"
)

// PermitTransformer implements Transformer using the domain cleaning
// functions with optional geocoding enrichment.
type PermitTransformer struct {
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewTransformer creates a PermitTransformer. Pass a nil geocoder to disable
// geocoding enrichment.
func NewTransformer(geocoder domain.Geocoder, logger *slog.Logger) *PermitTransformer {
	return &PermitTransformer{
		geocoder: geocoder,
		logger:   logger,
	}
}

func (t *PermitTransformer) Transform(ctx context.Context, raw domain.RawPermitRecord) (domain.Permit, error) {
	permit, err := domain.ParseRawRecord(raw)
	if err != nil {
		return domain.Permit{}, err
	}

	permit = domain.EnrichPermit(permit)
	permit = domain.EnrichWithGeocoding(ctx, permit, t.geocoder, t.logger)

	return permit, nil
}
