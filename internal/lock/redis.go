package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultExpiry     = 15 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
	keyPrefix         = "ledger:lock:"
	maxLockTries      = 600
)

// Redis is a distributed Locker built on redsync (Redlock) so several API replicas share one lock space.
type Redis struct {
	rs     *redsync.Redsync
	expiry time.Duration
	log    *zap.Logger
}

// NewRedis returns a Locker over client. Each lock auto-expires after expiry (default 15s) in case the holder dies.
func NewRedis(client goredislib.UniversalClient, expiry time.Duration, log *zap.Logger) *Redis {
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rs: redsync.New(goredis.NewPool(client)), expiry: expiry, log: log}
}

// Lock acquires every key in order, retrying every 25ms until ctx is done or the tries run out.
func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	held := make([]*redsync.Mutex, 0, len(keys))
	for _, k := range keys {
		m := r.rs.NewMutex(keyPrefix+k,
			redsync.WithExpiry(r.expiry),
			redsync.WithTries(maxLockTries),
			redsync.WithRetryDelay(defaultRetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			r.unlock(held)
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		held = append(held, m)
	}
	return func() { r.unlock(held) }, nil
}

func (r *Redis) unlock(held []*redsync.Mutex) {
	for i := len(held) - 1; i >= 0; i-- {
		// Use a fresh context: the request context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if ok, err := held[i].UnlockContext(ctx); !ok || err != nil {
			r.log.Warn("lock: release failed", zap.String("key", held[i].Name()), zap.Error(err))
		}
		cancel()
	}
}
