package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"yoyaku/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetConfirmed(ctx context.Context, date string) ([]*models.Reservation, bool, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]*models.Reservation), args.Bool(1), args.Error(2)
}

func (m *mockCache) SetConfirmed(ctx context.Context, date string, rows []*models.Reservation, ttl time.Duration) error {
	return m.Called(ctx, date, rows, ttl).Error(0)
}

func (m *mockCache) InvalidateConfirmed(ctx context.Context, date string) error {
	return m.Called(ctx, date).Error(0)
}

func (m *mockCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverCacheRepository(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	t.Run("PrimaryHealthy", func(t *testing.T) {
		primary := new(mockCache)
		repo := NewFailoverCacheRepository(primary, NewMemoryCacheRepository(), &logger)

		primary.On("CheckRateLimit", ctx, "090", 5, time.Hour).Return(true, nil)
		allowed, err := repo.CheckRateLimit(ctx, "090", 5, time.Hour)
		require.NoError(t, err)
		assert.True(t, allowed)
		primary.AssertExpectations(t)
	})

	t.Run("FallsBackAndRecovers", func(t *testing.T) {
		primary := new(mockCache)
		fallback := NewMemoryCacheRepository()
		repo := NewFailoverCacheRepository(primary, fallback, &logger)
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		repo.now = func() time.Time { return now }

		require.NoError(t, fallback.SetConfirmed(ctx, "2025-06-10", []*models.Reservation{confirmedRow("mem", "10:00")}, time.Hour))

		primary.On("GetConfirmed", ctx, "2025-06-10").Return(nil, false, errors.New("connection refused")).Once()
		rows, ok, err := repo.GetConfirmed(ctx, "2025-06-10")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "mem", rows[0].ID)
		assert.True(t, repo.isDown.Load())

		// still inside the recovery interval: primary is not consulted
		rows, _, _ = repo.GetConfirmed(ctx, "2025-06-10")
		assert.Equal(t, "mem", rows[0].ID)
		primary.AssertNumberOfCalls(t, "GetConfirmed", 1)

		now = now.Add(2 * time.Minute)
		primary.On("GetConfirmed", ctx, "2025-06-10").Return([]*models.Reservation{confirmedRow("redis", "11:00")}, true, nil).Once()
		rows, _, err = repo.GetConfirmed(ctx, "2025-06-10")
		require.NoError(t, err)
		assert.Equal(t, "redis", rows[0].ID)
		assert.False(t, repo.isDown.Load())
	})

	t.Run("InvalidateClearsBoth", func(t *testing.T) {
		primary := new(mockCache)
		fallback := NewMemoryCacheRepository()
		repo := NewFailoverCacheRepository(primary, fallback, &logger)

		require.NoError(t, fallback.SetConfirmed(ctx, "2025-06-10", nil, time.Hour))
		primary.On("InvalidateConfirmed", ctx, "2025-06-10").Return(errors.New("timeout"))

		assert.NoError(t, repo.InvalidateConfirmed(ctx, "2025-06-10"))
		_, ok, _ := fallback.GetConfirmed(ctx, "2025-06-10")
		assert.False(t, ok)
		assert.True(t, repo.isDown.Load())
	})
}
