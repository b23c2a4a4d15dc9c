package repository

import (
	"context"
	"sync/atomic"
	"time"

	"yoyaku/internal/domain"
	"yoyaku/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCacheRepository serves from primary until it errors, then from
// fallback, probing primary again once per recoveryInterval.
type FailoverCacheRepository struct {
	primary   domain.CacheRepository
	fallback  domain.CacheRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverCacheRepository(primary, fallback domain.CacheRepository, logger *zerolog.Logger) *FailoverCacheRepository {
	return &FailoverCacheRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should try the primary.
func (r *FailoverCacheRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverCacheRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary cache failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverCacheRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary cache recovered")
	}
}

func (r *FailoverCacheRepository) GetConfirmed(ctx context.Context, date string) ([]*models.Reservation, bool, error) {
	if r.usePrimary() {
		rows, ok, err := r.primary.GetConfirmed(ctx, date)
		if err == nil {
			r.markUp()
			return rows, ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetConfirmed(ctx, date)
}

func (r *FailoverCacheRepository) SetConfirmed(ctx context.Context, date string, rows []*models.Reservation, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.SetConfirmed(ctx, date, rows, ttl)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetConfirmed(ctx, date, rows, ttl)
}

// InvalidateConfirmed always clears both layers.
func (r *FailoverCacheRepository) InvalidateConfirmed(ctx context.Context, date string) error {
	_ = r.fallback.InvalidateConfirmed(ctx, date)
	if err := r.primary.InvalidateConfirmed(ctx, date); err != nil {
		r.markDown(err)
	}
	return nil
}

func (r *FailoverCacheRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
