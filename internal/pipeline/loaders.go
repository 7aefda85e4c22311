package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/couchcryptid/permit-data-service/internal/observability"
)

// Sink is a best-effort Loader identified by name in logs and metrics.
type Sink struct {
	Name   string
	Loader Loader
}

// Loaders publishes a snapshot to a primary loader and then to each sink.
// Only a primary failure fails the refresh; sink failures are logged and
// counted so an unreachable broker or archive never unpublishes fresh data.
type Loaders struct {
	primary Loader
	sinks   []Sink
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLoaders creates a fan-out over primary and sinks, in order.
func NewLoaders(primary Loader, logger *slog.Logger, metrics *observability.Metrics, sinks ...Sink) *Loaders {
	return &Loaders{
		primary: primary,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
	}
}

func (l *Loaders) Load(ctx context.Context, ds domain.Dataset) error {
	if err := l.primary.Load(ctx, ds); err != nil {
		return err
	}
	for _, sink := range l.sinks {
		if err := sink.Loader.Load(ctx, ds); err != nil {
			l.logger.Error("sink load failed",
				"sink", sink.Name,
				"snapshot_id", ds.ID,
				"error", err,
			)
			l.metrics.SinkErrors.WithLabelValues(sink.Name).Inc()
		}
	}
	return nil
}
