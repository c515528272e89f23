package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Domenick1991/carpool/internal/cachekeys"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/google/uuid"
)

// Local mirrors RedisCache inside one process. It is used when no Redis
// address is configured, which is only safe for a single instance.
type Local struct {
	mu      sync.Mutex
	now     func() time.Time
	rideTTL time.Duration
	entries map[string]localEntry
}

type localEntry struct {
	value     []byte
	version   int64
	expiresAt time.Time
}

func NewLocal(rideTTL time.Duration) *Local {
	return &Local{now: time.Now, rideTTL: rideTTL, entries: map[string]localEntry{}}
}

func (c *Local) get(key string) ([]byte, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Local) set(key string, value []byte, ttl time.Duration) {
	e := localEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
}

func (c *Local) GetRide(ctx context.Context, id string) (*domain.Ride, error) {
	c.mu.Lock()
	data, ok := c.get(cachekeys.Ride(id))
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var ride domain.Ride
	if err := json.Unmarshal(data, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

// SetRide keeps an already cached copy of the same or a newer version.
func (c *Local) SetRide(ctx context.Context, ride *domain.Ride) error {
	payload, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cachekeys.Ride(ride.ID)
	if _, ok := c.get(key); ok && c.entries[key].version >= ride.Version {
		return nil
	}
	c.set(key, payload, c.rideTTL)
	e := c.entries[key]
	e.version = ride.Version
	c.entries[key] = e
	return nil
}

func (c *Local) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *Local) AcquireRideLock(ctx context.Context, rideID string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := rideLockKey(rideID)
	if _, held := c.get(key); held {
		return "", false, nil
	}
	token := uuid.NewString()
	c.set(key, []byte(token), ttl)
	return token, true, nil
}

func (c *Local) ReleaseRideLock(ctx context.Context, rideID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := rideLockKey(rideID)
	if v, ok := c.get(key); ok && string(v) == token {
		delete(c.entries, key)
	}
	return nil
}

func (c *Local) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := dedupeKey(key)
	if _, ok := c.get(k); ok {
		return false, nil
	}
	c.set(k, []byte("1"), ttl)
	return true, nil
}

func (c *Local) Forget(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, dedupeKey(key))
	return nil
}

// Sweep drops expired entries.
func (c *Local) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		c.get(k)
	}
}

// Has reports whether key holds an unexpired entry.
func (c *Local) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.get(key)
	return ok
}
