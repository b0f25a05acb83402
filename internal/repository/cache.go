package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"easytrip/internal/models"
)

const journeyListKey = "easytrip:journeys:all"

// CachedJourneys is a read-through Redis cache in front of a
// JourneyRepository. Writes go to the wrapped repository and drop the
// affected keys. Redis failures fall through to the repository.
type CachedJourneys struct {
	JourneyRepository
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedJourneys(repo JourneyRepository, client *redis.Client, ttl time.Duration) *CachedJourneys {
	return &CachedJourneys{JourneyRepository: repo, redis: client, ttl: ttl}
}

func journeyKey(id int64) string {
	return fmt.Sprintf("easytrip:journey:%d", id)
}

func (c *CachedJourneys) GetJourney(ctx context.Context, id int64) (*models.Journey, error) {
	var j models.Journey
	if c.readCache(ctx, journeyKey(id), &j) {
		return &j, nil
	}
	got, err := c.JourneyRepository.GetJourney(ctx, id)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, journeyKey(id), got)
	return got, nil
}

func (c *CachedJourneys) ListJourneys(ctx context.Context) ([]models.Journey, error) {
	var list []models.Journey
	if c.readCache(ctx, journeyListKey, &list) {
		return list, nil
	}
	list, err := c.JourneyRepository.ListJourneys(ctx)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, journeyListKey, list)
	return list, nil
}

func (c *CachedJourneys) CreateJourney(ctx context.Context, j *models.Journey) error {
	if err := c.JourneyRepository.CreateJourney(ctx, j); err != nil {
		return err
	}
	c.invalidate(ctx, journeyListKey)
	return nil
}

func (c *CachedJourneys) UpdateJourney(ctx context.Context, j *models.Journey) error {
	if err := c.JourneyRepository.UpdateJourney(ctx, j); err != nil {
		return err
	}
	c.invalidate(ctx, journeyKey(j.ID), journeyListKey)
	return nil
}

// Invalidate drops the cached copy of one journey, for writers that bypass
// the cache such as the seat reset.
func (c *CachedJourneys) Invalidate(ctx context.Context, id int64) {
	c.invalidate(ctx, journeyKey(id), journeyListKey)
}

func (c *CachedJourneys) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.ttl <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *CachedJourneys) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *CachedJourneys) invalidate(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, keys...).Err()
}
