package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still carries the caller's token.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Redis implements Locker with SET NX plus a TTL, so a crashed holder releases the lock
// when the TTL expires.
type Redis struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	script *redis.Script
}

// NewRedis builds a Redis locker. ttl must outlive the guarded work.
func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if prefix == "" {
		prefix = "fundingd"
	}
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
		script: redis.NewScript(unlockScript),
	}
}

func (r *Redis) lockKey(key string) string {
	return r.prefix + ":lock:" + key
}

// TryLock attempts SET NX with a random token. The returned unlock is idempotent.
func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	lk := r.lockKey(key)

	ok, err := r.rdb.SetNX(ctx, lk, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.script.Run(unlockCtx, r.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, true, nil
}
