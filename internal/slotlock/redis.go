package slotlock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "slotlock:"

// releaseScript deletes the key only when the caller still holds it, so a
// lock that expired and was re-acquired by someone else is never dropped
// by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares slot locks across instances. Expiry is redis TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) error {
	redisKey := redisKeyPrefix + key
	ok, err := s.client.SetNX(ctx, redisKey, holder, ttl).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	current, err := s.client.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SetNX and Get, retry once.
			return s.Acquire(ctx, key, holder, ttl)
		}
		return err
	}
	if current != holder {
		return ErrSlotLocked
	}
	return s.client.Set(ctx, redisKey, holder, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key, holder string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, holder).Int()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (s *RedisStore) LockedTimes(ctx context.Context, day, doctorID string) ([]string, error) {
	prefix := redisKeyPrefix + day + "|" + doctorID + "|"
	var (
		times  []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			times = append(times, strings.TrimPrefix(key, prefix))
		}
		if next == 0 {
			return times, nil
		}
		cursor = next
	}
}
