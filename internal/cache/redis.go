package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/carpool/config"
	"github.com/Domenick1991/carpool/internal/cachekeys"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lease only if it still holds the caller's token, so
// a holder whose lease expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// setRideScript writes a ride unless the cached copy carries the same or a
// newer version. ARGV: payload, version, ttl in milliseconds (0 keeps no TTL).
var setRideScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
	local ok, decoded = pcall(cjson.decode, cur)
	if ok and type(decoded) == "table" and tonumber(decoded["version"]) ~= nil
		and tonumber(decoded["version"]) >= tonumber(ARGV[2]) then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1`)

type RedisCache struct {
	client  *redis.Client
	rideTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return NewRedisCacheWithClient(
		redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		time.Duration(cfg.RideTTLSecs)*time.Second,
	)
}

func NewRedisCacheWithClient(client *redis.Client, rideTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, rideTTL: rideTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetRide returns nil, nil on a miss.
func (c *RedisCache) GetRide(ctx context.Context, id string) (*domain.Ride, error) {
	data, err := c.client.Get(ctx, cachekeys.Ride(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var ride domain.Ride
	if err := json.Unmarshal(data, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (c *RedisCache) SetRide(ctx context.Context, ride *domain.Ride) error {
	payload, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	return setRideScript.Run(ctx, c.client, []string{cachekeys.Ride(ride.ID)},
		payload, ride.Version, c.rideTTL.Milliseconds()).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) AcquireRideLock(ctx context.Context, rideID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, rideLockKey(rideID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (c *RedisCache) ReleaseRideLock(ctx context.Context, rideID, token string) error {
	return releaseScript.Run(ctx, c.client, []string{rideLockKey(rideID)}, token).Err()
}

// Claim marks key as seen for ttl. It reports false when the key was already
// claimed.
func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, dedupeKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (c *RedisCache) Forget(ctx context.Context, key string) error {
	return c.client.Del(ctx, dedupeKey(key)).Err()
}

func rideLockKey(rideID string) string {
	return fmt.Sprintf("lock:ride:%s", rideID)
}

func dedupeKey(key string) string {
	return "notify:sent:" + key
}
