package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// releaseScript deletes the lock only while it still holds our token, so an
// expired holder cannot release a lock someone else acquired since.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager with SET NX PX.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire takes the lock named key for at most ttl. It returns
// domain.ErrLockHeld while another holder has it. The returned release
// function is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lm.c.Key("lock", key)
	token := uuid.NewString()

	ok, err := lm.c.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, lm.c.rdb, []string{k}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
