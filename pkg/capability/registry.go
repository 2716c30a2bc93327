package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrReusedID is returned when a token id has already been issued.
var ErrReusedID = errors.New("token id already issued")

// Registry remembers issued token ids until their tokens expire so an id is
// never handed out twice. now is the issuing service's clock reading.
type Registry interface {
	Reserve(ctx context.Context, jti string, now, until time.Time) error
}

// minPruneSize is the reservation count below which expired ids are left
// in place.
const minPruneSize = 1024

// MemoryRegistry is a process-local Registry. Expired reservations are
// swept only when the map has doubled since the last sweep, so Reserve is
// amortized constant time.
type MemoryRegistry struct {
	mu      sync.Mutex
	ids     map[string]time.Time
	pruneAt int
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make(map[string]time.Time), pruneAt: minPruneSize}
}

func (r *MemoryRegistry) Reserve(_ context.Context, jti string, now, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exp, ok := r.ids[jti]; ok && now.Before(exp) {
		return fmt.Errorf("%w: %s", ErrReusedID, jti)
	}
	if len(r.ids) >= r.pruneAt {
		r.prune(now)
	}
	r.ids[jti] = until
	return nil
}

func (r *MemoryRegistry) prune(now time.Time) {
	for id, exp := range r.ids {
		if !now.Before(exp) {
			delete(r.ids, id)
		}
	}
	r.pruneAt = max(minPruneSize, 2*len(r.ids))
}

// Len reports the number of held reservations, including expired ones not
// yet swept.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// RedisRegistry shares reservations across gateway replicas using SETNX
// with a TTL equal to the token lifetime.
type RedisRegistry struct {
	client redis.Cmdable
	prefix string
}

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(client redis.Cmdable) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: "avs:jti:"}
}

// DialRedisRegistry opens a client for addr.
func DialRedisRegistry(addr, password string, db int) *RedisRegistry {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisRegistry(rdb)
}

func (r *RedisRegistry) Reserve(ctx context.Context, jti string, now, until time.Time) error {
	ttl := until.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := r.client.SetNX(ctx, r.prefix+jti, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis reserve %s: %w", jti, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrReusedID, jti)
	}
	return nil
}
