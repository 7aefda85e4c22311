// Command permits serves fee estimates and permit summaries over HTTP while
// refreshing the permit dataset in the background.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/permit-data-service/internal/adapter/csvsource"
	httpadapter "github.com/couchcryptid/permit-data-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/permit-data-service/internal/adapter/kafka"
	"github.com/couchcryptid/permit-data-service/internal/adapter/mapbox"
	"github.com/couchcryptid/permit-data-service/internal/adapter/sqlite"
	"github.com/couchcryptid/permit-data-service/internal/config"
	"github.com/couchcryptid/permit-data-service/internal/dataset"
	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/couchcryptid/permit-data-service/internal/observability"
	"github.com/couchcryptid/permit-data-service/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := dataset.NewStore()
	var sinks []pipeline.Sink

	if cfg.ArchivePath != "" {
		archive, err := sqlite.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer func() {
			if err := archive.Close(); err != nil {
				logger.Error("archive close error", "error", err)
			}
		}()
		warmStart(ctx, archive, store, metrics, logger)
		sinks = append(sinks, pipeline.Sink{Name: "archive", Loader: archive})
	}

	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		sinks = append(sinks, pipeline.Sink{Name: "kafka", Loader: writer})
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, cfg.DatasetCity, cfg.DatasetState, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	source := csvsource.New(cfg.DatasetURL, cfg.DatasetFetchTimeout, logger)
	transformer := pipeline.NewTransformer(geocoder, logger)
	loaders := pipeline.NewLoaders(store, logger, metrics, sinks...)
	p := pipeline.New(source, transformer, loaders, logger, metrics, cfg.DatasetRefreshInterval)

	srv := httpadapter.NewServer(httpadapter.Options{
		Addr:           cfg.HTTPAddr,
		DefaultK:       cfg.EstimateDefaultK,
		MaxK:           cfg.EstimateMaxK,
		RateLimit:      cfg.APIRateLimit,
		RateBurst:      cfg.APIRateBurst,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, store, domain.NewEstimator(cfg.EstimateSampleSeed), metrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})
	return g.Wait()
}

// warmStart publishes the archived snapshot so the API can answer before the
// first refresh completes. Failures only cost the warm start.
func warmStart(ctx context.Context, archive *sqlite.Archive, store *dataset.Store, metrics *observability.Metrics, logger *slog.Logger) {
	ds, err := archive.Latest(ctx)
	if err != nil {
		logger.Warn("archive warm start failed", "error", err)
		return
	}
	if ds == nil {
		logger.Info("archive is empty, waiting for first refresh")
		return
	}
	if err := store.Load(ctx, *ds); err != nil {
		logger.Warn("archive warm start failed", "error", err)
		return
	}
	metrics.DatasetRecords.Set(float64(ds.Len()))
	logger.Info("dataset restored from archive", "snapshot_id", ds.ID, "records", ds.Len(), "loaded_at", ds.LoadedAt)
}
