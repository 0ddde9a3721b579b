package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCarouselConcurrentStart(t *testing.T) {
	var turns atomic.Int64
	car := NewCarousel(func(context.Context) error {
		turns.Add(1)
		return nil
	})
	car.mu.Lock()
	car.unit = time.Millisecond
	car.mu.Unlock()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := car.Start(context.Background(), MinCarouselSeconds); err != nil {
				t.Errorf("Start failed: %v", err)
			}
		}()
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	car.Stop()
	if got := car.Seconds(); got != 0 {
		t.Errorf("Seconds after Stop = %d", got)
	}
	stopped := turns.Load()
	time.Sleep(50 * time.Millisecond)
	if got := turns.Load(); got != stopped {
		t.Errorf("%d turns ran after Stop", got-stopped)
	}
}

func TestCarouselBelowMinimumStops(t *testing.T) {
	var turns atomic.Int64
	car := NewCarousel(func(context.Context) error {
		turns.Add(1)
		return nil
	})
	car.mu.Lock()
	car.unit = time.Millisecond
	car.mu.Unlock()

	if err := car.Start(context.Background(), MinCarouselSeconds); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := car.Start(context.Background(), MinCarouselSeconds-1); err != nil {
		t.Fatalf("Start below minimum failed: %v", err)
	}
	if got := car.Seconds(); got != 0 {
		t.Errorf("Seconds = %d, want 0", got)
	}
	stopped := turns.Load()
	time.Sleep(30 * time.Millisecond)
	if got := turns.Load(); got != stopped {
		t.Errorf("%d turns ran after a below-minimum Start", got-stopped)
	}
}
