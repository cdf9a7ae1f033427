package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// CacheService is a JSON cache on top of Redis. A nil *CacheService is a
// valid disabled cache: reads miss and writes are no-ops.
type CacheService struct {
	redisClient redis.UniversalClient
	ttl         time.Duration
}

func NewCacheService(redisClient redis.UniversalClient, ttl time.Duration) *CacheService {
	return &CacheService{
		redisClient: redisClient,
		ttl:         ttl,
	}
}

// ParticipantInfoKey ключ представления участника
func ParticipantInfoKey(eventID, participantID string) string {
	return fmt.Sprintf("event:%s:participant:%s:info", eventID, participantID)
}

func eventPattern(eventID string) string {
	return fmt.Sprintf("event:%s:*", eventID)
}

// generationKey lives outside eventPattern so invalidation never deletes it.
func generationKey(eventID string) string {
	return fmt.Sprintf("gen:event:%s", eventID)
}

// KEYS[1] value key, KEYS[2] generation key
// ARGV[1] payload, ARGV[2] expected generation, ARGV[3] ttl in ms
var setIfGenerationScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[2] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// Get получает значение из кэша
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	if c == nil {
		return ErrCacheMiss
	}

	data, err := c.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// Set сохраняет значение в кэш
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redisClient.Set(ctx, key, data, c.ttl).Err()
}

// Delete удаляет значение из кэша
func (c *CacheService) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	return c.redisClient.Del(ctx, keys...).Err()
}

// DeletePattern удаляет все ключи по паттерну
func (c *CacheService) DeletePattern(ctx context.Context, pattern string) error {
	if c == nil {
		return nil
	}

	var keys []string
	iter := c.redisClient.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return c.redisClient.Del(ctx, keys...).Err()
	}
	return nil
}

// Generation returns the event's invalidation counter. Read it before loading
// data and pass it to SetIfGeneration. A missing counter is 0.
func (c *CacheService) Generation(ctx context.Context, eventID string) (int64, error) {
	if c == nil {
		return 0, nil
	}

	gen, err := c.redisClient.Get(ctx, generationKey(eventID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetIfGeneration stores value only if the event was not invalidated since
// gen was read. It reports whether the value was stored.
func (c *CacheService) SetIfGeneration(ctx context.Context, key string, value interface{}, eventID string, gen int64) (bool, error) {
	if c == nil {
		return false, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}

	stored, err := setIfGenerationScript.Run(ctx, c.redisClient,
		[]string{key, generationKey(eventID)},
		data, strconv.FormatInt(gen, 10), c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// InvalidateEvent drops every cached view of the event. Any draw, wishlist
// change or regeneration alters what other participants see. The generation
// is bumped first so a read that loaded data before this call cannot store it
// afterwards.
func (c *CacheService) InvalidateEvent(ctx context.Context, eventID string) error {
	if c == nil {
		return nil
	}
	if err := c.redisClient.Incr(ctx, generationKey(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to bump generation: %w", err)
	}
	if err := c.DeletePattern(ctx, eventPattern(eventID)); err != nil {
		return fmt.Errorf("failed to delete pattern %s: %w", eventPattern(eventID), err)
	}
	return nil
}
