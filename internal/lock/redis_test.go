package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, 5*time.Second, nil)
}

func TestRedis_LockUnlock(t *testing.T) {
	l := newTestRedis(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, TransferKey("t1"), AccountKey("a1"))
	require.NoError(t, err)
	unlock()

	unlock, err = l.Lock(ctx, AccountKey("a1"))
	require.NoError(t, err, "key should be free again after unlock")
	unlock()
}

func TestRedis_HeldKeyBlocksUntilContextDone(t *testing.T) {
	l := newTestRedis(t)
	unlock, err := l.Lock(context.Background(), AccountKey("a1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, AccountKey("a1"))
	assert.Error(t, err)
}

func TestRedis_MutualExclusion(t *testing.T) {
	l := newTestRedis(t)
	var (
		wg      sync.WaitGroup
		inside  int32
		overlap int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), AccountKey("shared"))
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap), "two holders overlapped")
}
