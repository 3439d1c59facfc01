package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a lease survives without being extended.
const DefaultTTL = 10 * time.Minute

var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLeaser stores leases as Redis keys holding a random owner token.
type RedisLeaser struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

var _ Leaser = (*RedisLeaser)(nil)

// NewRedisLeaser creates a leaser whose keys are "{prefix}{key}".
func NewRedisLeaser(rdb *goredis.Client, prefix string, ttl time.Duration) *RedisLeaser {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "ingest:lease:"
	}
	return &RedisLeaser{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Acquire claims key or returns ErrHeld.
func (l *RedisLeaser) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	return &redisLease{leaser: l, key: l.prefix + key, token: token}, nil
}

type redisLease struct {
	leaser *RedisLeaser
	key    string
	token  string
}

func (r *redisLease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, r.leaser.rdb, []string{r.key}, r.token, r.leaser.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLost, r.key)
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, r.leaser.rdb, []string{r.key}, r.token).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", r.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLost, r.key)
	}
	return nil
}
