package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease grants one holder at a time the right to run a named job.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, name, token string) error
}

// releaseScript deletes the lease only if the caller still holds it.
// KEYS[1] = lease key, ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX PX so that settlement replicas
// sharing one Redis never run the same job concurrently.
type RedisLease struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLease(client redis.Cmdable) *RedisLease {
	return &RedisLease{client: client, prefix: "lease:"}
}

func (l *RedisLease) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	acquired, err := l.client.SetNX(ctx, l.prefix+name, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return token, acquired, nil
}

func (l *RedisLease) Release(ctx context.Context, name, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + name}, token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
