package repository

import (
	"context"
	"sync"
	"time"

	"yoyaku/internal/models"
)

type dayEntry struct {
	rows      []*models.Reservation
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryCacheRepository is the in-process stand-in used while redis is
// unavailable.
type MemoryCacheRepository struct {
	mu         sync.Mutex
	days       map[string]dayEntry
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

func NewMemoryCacheRepository() *MemoryCacheRepository {
	return &MemoryCacheRepository{
		days:       make(map[string]dayEntry),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryCacheRepository) GetConfirmed(_ context.Context, date string) ([]*models.Reservation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.days[date]
	if !ok {
		return nil, false, nil
	}
	if r.now().After(entry.expiresAt) {
		delete(r.days, date)
		return nil, false, nil
	}
	out := make([]*models.Reservation, len(entry.rows))
	copy(out, entry.rows)
	return out, true, nil
}

func (r *MemoryCacheRepository) SetConfirmed(_ context.Context, date string, rows []*models.Reservation, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]*models.Reservation, len(rows))
	copy(stored, rows)
	r.days[date] = dayEntry{rows: stored, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryCacheRepository) InvalidateConfirmed(_ context.Context, date string) error {
	r.mu.Lock()
	delete(r.days, date)
	r.mu.Unlock()
	return nil
}

func (r *MemoryCacheRepository) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
