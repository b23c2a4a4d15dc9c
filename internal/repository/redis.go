package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"yoyaku/internal/config"
	"yoyaku/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	confirmedKeyPrefix = "yoyaku:confirmed:"
	rateLimitKeyPrefix = "yoyaku:ratelimit:"
)

// cachedDay carries the date separately because reservation dates are not
// part of their JSON form.
type cachedDay struct {
	Date string                `json:"date"`
	Rows []*models.Reservation `json:"rows"`
}

type RedisCacheRepository struct {
	client *redis.Client
}

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{client: client}
}

func (r *RedisCacheRepository) GetConfirmed(ctx context.Context, date string) ([]*models.Reservation, bool, error) {
	if r.client == nil {
		return nil, false, errors.New("redis client is nil")
	}
	val, err := r.client.Get(ctx, confirmedKeyPrefix+date).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get confirmed set from redis: %w", err)
	}

	var day cachedDay
	if err := json.Unmarshal(val, &day); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal confirmed set: %w", err)
	}
	d, err := models.ParseDate(day.Date)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse cached date: %w", err)
	}
	for _, row := range day.Rows {
		row.Date = d
	}
	if day.Rows == nil {
		day.Rows = []*models.Reservation{}
	}
	return day.Rows, true, nil
}

func (r *RedisCacheRepository) SetConfirmed(ctx context.Context, date string, rows []*models.Reservation, ttl time.Duration) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(cachedDay{Date: date, Rows: rows})
	if err != nil {
		return fmt.Errorf("failed to marshal confirmed set: %w", err)
	}
	if err := r.client.Set(ctx, confirmedKeyPrefix+date, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set confirmed set in redis: %w", err)
	}
	return nil
}

func (r *RedisCacheRepository) InvalidateConfirmed(ctx context.Context, date string) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	if err := r.client.Del(ctx, confirmedKeyPrefix+date).Err(); err != nil {
		return fmt.Errorf("failed to delete confirmed set from redis: %w", err)
	}
	return nil
}

// CheckRateLimit counts a hit for key and reports whether the count is still
// within limit for the current window.
func (r *RedisCacheRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errors.New("redis client is nil")
	}
	k := rateLimitKeyPrefix + key
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis client if there is one.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
