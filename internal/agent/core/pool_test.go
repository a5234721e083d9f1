package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", peak)
	}
}

func TestPoolDoRespectsContext(t *testing.T) {
	pool := NewPool(1)
	release := make(chan struct{})
	go pool.Do(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	defer close(release)
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Do(ctx, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatalf("expected acquire to fail once the context expires")
	}
}

func TestNewPoolMinimumSize(t *testing.T) {
	if NewPool(0).Size() != 1 {
		t.Fatalf("expected minimum pool size of 1")
	}
}
