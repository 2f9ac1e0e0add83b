package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyTTL = 48 * time.Hour

var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if used + n > limit then
	return {0, limit - used}
end
used = redis.call('INCRBY', KEYS[1], n)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, limit - used}
`)

var releaseScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = math.min(tonumber(ARGV[1]), used)
if n > 0 then
	redis.call('DECRBY', KEYS[1], n)
end
return used - n
`)

// RedisStore shares quota usage between processes through Lua scripts, which Redis runs atomically.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "playbridge:quota"}
}

// NewRedisStoreFromAddr connects to addr and verifies the connection.
func NewRedisStoreFromAddr(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) redisKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, key.Platform, key.CredentialID, key.Date)
}

func (s *RedisStore) Reserve(ctx context.Context, key Key, count, limit int) (int, bool, error) {
	res, err := reserveScript.Run(ctx, s.client, []string{s.redisKey(key)}, count, limit, int(redisKeyTTL.Seconds())).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve quota: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected reserve script result %v", res)
	}
	return max(0, int(res[1])), res[0] == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, key Key, count int) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.redisKey(key)}, count).Err(); err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	return nil
}

func (s *RedisStore) Usage(ctx context.Context, key Key) (int, error) {
	used, err := s.client.Get(ctx, s.redisKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota usage: %w", err)
	}
	return used, nil
}
