package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/michaelpento.lv/solarb/types"
)

// deletes the key only while it still holds the caller's token
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker shares signer leases between engine instances via SETNX with a TTL
type RedisLocker struct {
	rdb    *redis.Client
	unlock *redis.Script
	prefix string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		rdb:    rdb,
		unlock: redis.NewScript(unlockLua),
		prefix: "solarb:signer:",
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := l.prefix + key

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}
	if !ok {
		return nil, types.ErrSignerBusy
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// the caller's context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlock.Run(ctx, l.rdb, []string{lk}, token).Err()
	}, nil
}

var _ Locker = (*RedisLocker)(nil)
