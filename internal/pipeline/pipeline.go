package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/couchcryptid/permit-data-service/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrEmptyDataset is returned when a refresh yields no usable permits. The
// previously published snapshot stays in place.
var ErrEmptyDataset = errors.New("refresh produced no permits")

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Extractor reads every raw row of the permit dataset.
type Extractor interface {
	Extract(ctx context.Context) ([]domain.RawPermitRecord, error)
	// Source names where rows come from, recorded on each snapshot.
	Source() string
}

// Transformer converts a raw row into a cleaned permit.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawPermitRecord) (domain.Permit, error)
}

// Loader publishes a complete snapshot.
type Loader interface {
	Load(ctx context.Context, ds domain.Dataset) error
}

// Pipeline orchestrates the extract-transform-load refresh loop.
type Pipeline struct {
	extractor   Extractor
	transformer Transformer
	loader      Loader
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	interval    time.Duration
	ready       atomic.Bool
}

// New creates a Pipeline that refreshes the dataset every interval.
func New(e Extractor, t Transformer, l Loader, logger *slog.Logger, metrics *observability.Metrics, interval time.Duration) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		clock:       clockwork.NewRealClock(),
		interval:    interval,
	}
}

// WithClock replaces the clock driving the refresh ticker and retry backoff.
func (p *Pipeline) WithClock(c clockwork.Clock) *Pipeline {
	p.clock = c
	return p
}

// CheckReadiness returns nil once the pipeline has published a snapshot,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published a dataset yet")
	}
	return nil
}

// Run refreshes the dataset immediately and then on every tick until the
// context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "source", p.extractor.Source(), "interval", p.interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.refreshWithRetry(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			p.refreshWithRetry(ctx)
		}
	}
}

// refreshWithRetry retries a failed refresh with exponential backoff: start at
// 200ms, double each retry, cap at 5s. After the capped attempt it gives up
// until the next tick.
func (p *Pipeline) refreshWithRetry(ctx context.Context) {
	backoff := initialBackoff
	for {
		err := p.Refresh(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		if backoff == 0 {
			p.logger.Error("dataset refresh failed, waiting for next interval", "error", err, "interval", p.interval)
			return
		}
		p.logger.Error("dataset refresh failed", "error", err, "retry_in", backoff)
		if !sleepWithContext(ctx, p.clock, backoff) {
			return
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

// Refresh runs one extract-transform-load cycle. Rows that fail to transform
// are skipped and counted; the cycle fails only when nothing usable remains
// or the loader rejects the snapshot.
func (p *Pipeline) Refresh(ctx context.Context) error {
	start := p.clock.Now()

	raws, err := p.extractor.Extract(ctx)
	if err != nil {
		p.metrics.DatasetRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("extract dataset: %w", err)
	}
	p.metrics.RecordsExtracted.Add(float64(len(raws)))

	permits := make([]domain.Permit, 0, len(raws))
	skipped := 0
	for i, raw := range raws {
		permit, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("transform failed, skipping record",
				"error", err,
				"row", i+1,
				"permit_number", raw.PermitNumber,
			)
			p.metrics.RecordsSkipped.Inc()
			skipped++
			continue
		}
		permits = append(permits, permit)
	}

	if len(permits) == 0 {
		p.metrics.DatasetRefreshes.WithLabelValues("empty").Inc()
		return fmt.Errorf("%w: %d rows read, %d skipped", ErrEmptyDataset, len(raws), skipped)
	}

	ds := domain.Dataset{
		ID:       uuid.NewString(),
		Source:   p.extractor.Source(),
		LoadedAt: domain.Now(),
		Permits:  permits,
	}
	if err := p.loader.Load(ctx, ds); err != nil {
		p.metrics.DatasetRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("load dataset: %w", err)
	}

	elapsed := p.clock.Since(start)
	p.metrics.DatasetRefreshes.WithLabelValues("success").Inc()
	p.metrics.DatasetRecords.Set(float64(len(permits)))
	p.metrics.RefreshDuration.Observe(elapsed.Seconds())
	p.ready.Store(true)

	p.logger.Info("dataset refreshed",
		"snapshot_id", ds.ID,
		"records", len(permits),
		"skipped", skipped,
		"duration", elapsed,
	)
	return nil
}

// nextBackoff doubles current up to maxBackoff. Once the capped delay has
// been used it returns 0, ending the retry sequence.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current >= maxBackoff {
		return 0
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
