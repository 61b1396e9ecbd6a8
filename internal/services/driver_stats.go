package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"foodorder/internal/models"
	"foodorder/internal/repositories"
	"foodorder/pkg/cache"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	driverStatsOp    = "driver_stats"
	driverStatsGenOp = "driver_stats_gen"
)

// cachedStats is stored under the generation that was current before the
// scan began. A delivery completed mid-scan bumps the generation, so the
// entry is never served.
type cachedStats struct {
	Generation int64              `json:"generation"`
	Stats      models.DriverStats `json:"stats"`
}

// DriverStatsAggregator derives a driver's completed orders and earnings by
// scanning their delivered orders. The result may be cached but the cache is
// only ever invalidated, never incremented.
type DriverStatsAggregator struct {
	orderRepo   repositories.OrderRepository
	cache       cache.Cache
	ttl         time.Duration
	concurrency int
}

// NewDriverStatsAggregator creates a new DriverStatsAggregator. A nil cache
// disables caching.
func NewDriverStatsAggregator(orderRepo repositories.OrderRepository, c cache.Cache, ttl time.Duration) *DriverStatsAggregator {
	if c == nil {
		c = cache.NewNoopCache()
	}
	return &DriverStatsAggregator{
		orderRepo:   orderRepo,
		cache:       c,
		ttl:         ttl,
		concurrency: 4,
	}
}

// GetDriverStats returns the stats of driverID. Drivers may only read their
// own stats.
func (a *DriverStatsAggregator) GetDriverStats(ctx context.Context, principal models.Principal, driverID string) (*models.DriverStats, error) {
	if driverID == "" {
		return nil, newValidationError("driver_id", "is required")
	}
	if !principal.Is(models.RoleAdmin) && !(principal.Is(models.RoleDriver) && principal.UserID == driverID) {
		return nil, fmt.Errorf("%w: stats of driver %s", ErrForbidden, driverID)
	}

	gen, genErr := a.generation(ctx, driverID)
	if genErr != nil {
		log.Warn().Err(genErr).Str("driver_id", driverID).Msg("failed to read driver stats generation")
	} else if stats, ok := a.cached(ctx, driverID, gen); ok {
		return stats, nil
	}

	stats, err := a.Recompute(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		a.store(ctx, driverID, gen, stats)
	}
	return stats, nil
}

// Recompute scans every delivered order of driverID. It is idempotent and
// safe to run concurrently with order mutations.
func (a *DriverStatsAggregator) Recompute(ctx context.Context, driverID string) (*models.DriverStats, error) {
	orders, err := a.orderRepo.ListDeliveredByDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute stats for driver %s: %w", driverID, err)
	}

	earnings := lo.Reduce(orders, func(acc decimal.Decimal, o models.Order, _ int) decimal.Decimal {
		return acc.Add(o.Total)
	}, decimal.Zero)

	return &models.DriverStats{
		DriverID:        driverID,
		CompletedOrders: int64(len(orders)),
		TotalEarnings:   earnings.Round(2),
		ComputedAt:      time.Now().UTC(),
	}, nil
}

// Invalidate bumps the generation of driverID and drops its cached stats.
func (a *DriverStatsAggregator) Invalidate(ctx context.Context, driverID string) {
	if _, err := a.cache.IncrBy(ctx, a.cache.GenerateKey(driverStatsGenOp, driverID), 1); err != nil {
		log.Warn().Err(err).Str("driver_id", driverID).Msg("failed to bump driver stats generation")
	}
	if err := a.cache.Delete(ctx, a.cache.GenerateKey(driverStatsOp, driverID)); err != nil {
		log.Warn().Err(err).Str("driver_id", driverID).Msg("failed to invalidate driver stats cache")
	}
}

func (a *DriverStatsAggregator) generation(ctx context.Context, driverID string) (int64, error) {
	return a.cache.IncrBy(ctx, a.cache.GenerateKey(driverStatsGenOp, driverID), 0)
}

func (a *DriverStatsAggregator) cached(ctx context.Context, driverID string, gen int64) (*models.DriverStats, bool) {
	raw, err := a.cache.Get(ctx, a.cache.GenerateKey(driverStatsOp, driverID))
	if err != nil {
		log.Warn().Err(err).Str("driver_id", driverID).Msg("failed to read driver stats cache")
		return nil, false
	}
	if raw == "" {
		return nil, false
	}
	var entry cachedStats
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Generation != gen {
		return nil, false
	}
	return &entry.Stats, true
}

func (a *DriverStatsAggregator) store(ctx context.Context, driverID string, gen int64, stats *models.DriverStats) {
	body, err := json.Marshal(cachedStats{Generation: gen, Stats: *stats})
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, a.cache.GenerateKey(driverStatsOp, driverID), body, a.ttl); err != nil {
		log.Warn().Err(err).Str("driver_id", driverID).Msg("failed to write driver stats cache")
	}
}

// ReconcileAll recomputes and re-caches the stats of every driver with at
// least one delivered order.
func (a *DriverStatsAggregator) ReconcileAll(ctx context.Context) ([]models.DriverStats, error) {
	driverIDs, err := a.orderRepo.ListDriversWithDeliveries(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.DriverStats, len(driverIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, id := range driverIDs {
		i, id := i, id
		g.Go(func() error {
			gen, genErr := a.generation(gctx, id)
			stats, err := a.Recompute(gctx, id)
			if err != nil {
				return err
			}
			results[i] = *stats
			if genErr == nil {
				a.store(gctx, id, gen, stats)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().Int("drivers", len(results)).Msg("driver stats reconciled")
	return results, nil
}
