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

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListConfirmedByDate(ctx context.Context, date time.Time) ([]*models.Reservation, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Reservation), args.Error(1)
}

func TestConfirmedCache(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()
	date, _ := models.ParseDate("2025-06-10")

	t.Run("MissThenHit", func(t *testing.T) {
		store := new(mockLister)
		cache := NewConfirmedCache(store, NewMemoryCacheRepository(), time.Minute, &logger)
		store.On("ListConfirmedByDate", ctx, date).Return([]*models.Reservation{confirmedRow("a", "13:00")}, nil).Once()

		rows, err := cache.ListConfirmedByDate(ctx, date)
		require.NoError(t, err)
		assert.Len(t, rows, 1)

		rows, err = cache.ListConfirmedByDate(ctx, date)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		store.AssertNumberOfCalls(t, "ListConfirmedByDate", 1)
	})

	t.Run("InvalidateForcesReload", func(t *testing.T) {
		store := new(mockLister)
		cache := NewConfirmedCache(store, NewMemoryCacheRepository(), time.Minute, &logger)
		store.On("ListConfirmedByDate", ctx, date).Return([]*models.Reservation{}, nil)

		_, _ = cache.ListConfirmedByDate(ctx, date)
		cache.Invalidate(ctx, date)
		_, _ = cache.ListConfirmedByDate(ctx, date)
		store.AssertNumberOfCalls(t, "ListConfirmedByDate", 2)
	})

	t.Run("StoreErrorIsReturnedAndNotCached", func(t *testing.T) {
		store := new(mockLister)
		mem := NewMemoryCacheRepository()
		cache := NewConfirmedCache(store, mem, time.Minute, &logger)
		store.On("ListConfirmedByDate", ctx, date).Return(nil, errors.New("database is locked"))

		rows, err := cache.ListConfirmedByDate(ctx, date)
		assert.Error(t, err)
		assert.Nil(t, rows)
		_, ok, _ := mem.GetConfirmed(ctx, "2025-06-10")
		assert.False(t, ok)
	})

	t.Run("CacheErrorFallsThrough", func(t *testing.T) {
		store := new(mockLister)
		broken := new(mockCache)
		cache := NewConfirmedCache(store, broken, time.Minute, &logger)
		broken.On("GetConfirmed", ctx, "2025-06-10").Return(nil, false, errors.New("redis down"))
		broken.On("SetConfirmed", ctx, "2025-06-10", mock.Anything, time.Minute).Return(errors.New("redis down"))
		store.On("ListConfirmedByDate", ctx, date).Return([]*models.Reservation{confirmedRow("a", "13:00")}, nil)

		rows, err := cache.ListConfirmedByDate(ctx, date)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("ZeroTTLDisablesCache", func(t *testing.T) {
		store := new(mockLister)
		cache := NewConfirmedCache(store, NewMemoryCacheRepository(), 0, &logger)
		store.On("ListConfirmedByDate", ctx, date).Return([]*models.Reservation{}, nil)

		_, _ = cache.ListConfirmedByDate(ctx, date)
		_, _ = cache.ListConfirmedByDate(ctx, date)
		store.AssertNumberOfCalls(t, "ListConfirmedByDate", 2)
	})
}
