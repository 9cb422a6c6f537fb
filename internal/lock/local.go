package lock

import (
	"context"
	"sync"
)

// Local is an in-process Locker. Each key maps to a one-slot channel; entries are reference
// counted and removed when no goroutine holds or waits for them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns an empty in-process Locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock acquires every key in order. If ctx is cancelled while waiting, keys already taken are released.
func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.acquire(ctx, k); err != nil {
			l.release(held)
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(func() { l.release(held) }) }, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, s)
		return ctx.Err()
	}
}

func (l *Local) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		s := l.slots[keys[i]]
		l.mu.Unlock()
		<-s.ch
		l.unref(keys[i], s)
	}
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
