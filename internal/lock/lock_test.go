package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemory_Exclusive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "doc-1"); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire err = %v, want ErrLocked", err)
	}

	other, err := m.Acquire(ctx, "doc-2")
	if err != nil {
		t.Fatalf("Acquire other key: %v", err)
	}
	other(ctx)

	release(ctx)
	release(ctx)

	again, err := m.Acquire(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again(ctx)
}

func TestMemory_ConcurrentAcquire(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := m.Acquire(ctx, "doc"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("winners = %d, want 1", got)
	}
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemory().Acquire(ctx, "doc"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// TestRedis_Exclusive needs a Redis server. Set DOCCHAT_TEST_REDIS_ADDR to run it.
func TestRedis_Exclusive(t *testing.T) {
	addr := os.Getenv("DOCCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DOCCHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := Dial(ctx, addr, os.Getenv("DOCCHAT_TEST_REDIS_PASSWORD"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	a := NewRedis(client, 5*time.Second)
	b := NewRedis(client, 5*time.Second)
	key := "test-" + uuid.New().String()

	release, err := a.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := b.Acquire(ctx, key); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire err = %v, want ErrLocked", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := b.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if err := again(ctx); err != nil {
		t.Errorf("release: %v", err)
	}
}

// TestRedis_ReleaseKeepsForeignToken checks that a stale holder cannot
// delete a key that expired and was taken by someone else.
func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	addr := os.Getenv("DOCCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DOCCHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := Dial(ctx, addr, os.Getenv("DOCCHAT_TEST_REDIS_PASSWORD"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	l := NewRedis(client, time.Second)
	key := "test-" + uuid.New().String()

	stale, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	client.Set(ctx, keyPrefix+key, "someone-else", time.Minute)

	if err := stale(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, err := client.Get(ctx, keyPrefix+key).Result()
	if err != nil || got != "someone-else" {
		t.Errorf("key = %q, %v; want foreign token kept", got, err)
	}
	client.Del(ctx, keyPrefix+key)
}
