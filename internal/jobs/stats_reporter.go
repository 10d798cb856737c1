package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/metrics"
	"github.com/Checker-Finance/venue-registry/internal/registry"
)

// StatsSource is the registry surface the reporter reads.
type StatsSource interface {
	Stats() registry.Stats
}

// SnapshotCache stores the latest stats snapshot for other processes.
type SnapshotCache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// StatsReporter periodically logs registry stats, refreshes the entity
// gauges and caches the snapshot in Redis.
type StatsReporter struct {
	logger   *zap.Logger
	source   StatsSource
	cache    SnapshotCache // optional
	key      string
	interval time.Duration
	stopCh   chan struct{}
}

// NewStatsReporter constructs a background job that runs every interval.
func NewStatsReporter(logger *zap.Logger, source StatsSource, cache SnapshotCache, key string, interval time.Duration) *StatsReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsReporter{
		logger:   logger,
		source:   source,
		cache:    cache,
		key:      key,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the report loop until ctx is done or Stop is called.
func (r *StatsReporter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("stats_reporter.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("stats_reporter.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("stats_reporter.stopped (context canceled)")
			return
		}
	}
}

// Stop halts the reporter. It must be called at most once.
func (r *StatsReporter) Stop() {
	close(r.stopCh)
}

// runOnce takes one snapshot.
func (r *StatsReporter) runOnce(ctx context.Context) registry.Stats {
	s := r.source.Stats()

	metrics.SetEntityCount("instrument", s.Instruments)
	metrics.SetEntityCount("pool", s.Pools)
	metrics.SetEntityCount("venue", s.Venues)
	metrics.SetEntityCount("link", s.Links)
	metrics.SetIDSpaceAlert(s.ExhaustionAlert)

	r.logger.Info("stats_reporter.snapshot",
		zap.Int("instruments", s.Instruments),
		zap.Int("pools", s.Pools),
		zap.Int("venues", s.Venues),
		zap.Int("links", s.Links),
		zap.Uint64("lookups", s.Lookups),
		zap.Uint64("hits", s.Hits),
		zap.Uint64("collisions", s.Collisions),
		zap.Int("id_width", s.IDWidth))

	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, r.key, s, 2*r.interval); err != nil {
			metrics.IncJobRun("stats_reporter", "cache_failed")
			r.logger.Warn("stats_reporter.cache_failed", zap.String("key", r.key), zap.Error(err))
			return s
		}
	}
	metrics.IncJobRun("stats_reporter", "ok")
	return s
}
