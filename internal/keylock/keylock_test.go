package keylock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocker_LockUnlock(t *testing.T) {
	l := New()

	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("Expected 1 tracked key, got %d", l.Len())
	}

	unlock()
	unlock() // second call is a no-op

	if l.Len() != 0 {
		t.Errorf("Expected no tracked keys after unlock, got %d", l.Len())
	}
}

func TestLocker_TryLock(t *testing.T) {
	l := New()

	unlock, ok := l.TryLock("a")
	if !ok {
		t.Fatal("Expected to acquire lock")
	}

	if _, ok := l.TryLock("a"); ok {
		t.Error("Expected second TryLock on same key to fail")
	}

	other, ok := l.TryLock("b")
	if !ok {
		t.Error("Expected TryLock on a different key to succeed")
	} else {
		other()
	}

	unlock()

	again, ok := l.TryLock("a")
	if !ok {
		t.Fatal("Expected to reacquire lock after unlock")
	}
	again()
}

func TestLocker_LockHonorsContext(t *testing.T) {
	l := New()

	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := l.Lock(ctx, "a"); err != context.DeadlineExceeded {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("Expected waiter to be released, got %d tracked keys", l.Len())
	}
}

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "shared")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			defer unlock()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("Expected at most 1 holder at a time, saw %d", maxSeen)
	}
	if l.Len() != 0 {
		t.Errorf("Expected no tracked keys, got %d", l.Len())
	}
}
