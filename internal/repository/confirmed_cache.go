package repository

import (
	"context"
	"time"

	"yoyaku/internal/domain"
	"yoyaku/internal/models"

	"github.com/rs/zerolog"
)

// ConfirmedLister is the store read that the cache fronts.
type ConfirmedLister interface {
	ListConfirmedByDate(ctx context.Context, date time.Time) ([]*models.Reservation, error)
}

// ConfirmedCache serves the confirmed set of a date from the cache and falls
// back to the store on a miss or a cache error. Store errors are returned.
type ConfirmedCache struct {
	store  ConfirmedLister
	cache  domain.CacheRepository
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewConfirmedCache(store ConfirmedLister, cache domain.CacheRepository, ttl time.Duration, logger *zerolog.Logger) *ConfirmedCache {
	return &ConfirmedCache{store: store, cache: cache, ttl: ttl, logger: logger}
}

func (c *ConfirmedCache) ListConfirmedByDate(ctx context.Context, date time.Time) ([]*models.Reservation, error) {
	key := date.Format(models.DateLayout)
	if c.cache != nil && c.ttl > 0 {
		rows, ok, err := c.cache.GetConfirmed(ctx, key)
		if err != nil {
			c.logger.Warn().Err(err).Str("date", key).Msg("Confirmed cache read failed")
		} else if ok {
			return rows, nil
		}
	}

	rows, err := c.store.ListConfirmedByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.SetConfirmed(ctx, key, rows, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("date", key).Msg("Confirmed cache write failed")
		}
	}
	return rows, nil
}

// Invalidate drops the cached confirmed set of date.
func (c *ConfirmedCache) Invalidate(ctx context.Context, date time.Time) {
	if c.cache == nil {
		return
	}
	key := date.Format(models.DateLayout)
	if err := c.cache.InvalidateConfirmed(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("date", key).Msg("Confirmed cache invalidation failed")
	}
}
