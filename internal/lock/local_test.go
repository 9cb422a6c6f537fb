package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAccountKeys_SortedAndDeduped(t *testing.T) {
	got := AccountKeys("b", "", "a", "b")
	if len(got) != 2 || got[0] != "account:a" || got[1] != "account:b" {
		t.Errorf("AccountKeys = %v", got)
	}
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, AccountKey("a1"))
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max holders = %d, want 1", maxSeen)
	}
	if len(l.slots) != 0 {
		t.Errorf("slots leaked: %d", len(l.slots))
	}
}

func TestLocal_IndependentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	unlockA, err := l.Lock(ctx, AccountKey("a"))
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx2, AccountKey("b"))
	if err != nil {
		t.Fatalf("Lock(b) blocked by a: %v", err)
	}
	unlockB()
}

func TestLocal_ContextCancelReleasesPartialKeys(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	unlock, err := l.Lock(ctx, AccountKey("b"))
	if err != nil {
		t.Fatal(err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx2, AccountKey("a"), AccountKey("b"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	// "a" must have been released by the failed call.
	unlockA, err := l.Lock(ctx, AccountKey("a"))
	if err != nil {
		t.Fatal(err)
	}
	unlockA()
	unlock()
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	unlock()
	unlock()
}
