package server

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MinCarouselSeconds is the shortest interval the carousel accepts.
const MinCarouselSeconds = 4

// ErrNoFavorites is returned when the carousel has nothing to play.
var ErrNoFavorites = errors.New("no favorite effects")

// Carousel periodically advances to the next favorite effect.
type Carousel struct {
	next func(ctx context.Context) error
	unit time.Duration

	// run serializes Start and Stop so at most one loop exists.
	run sync.Mutex

	mu      sync.Mutex
	seconds int
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCarousel creates a stopped carousel that calls next on every turn.
func NewCarousel(next func(ctx context.Context) error) *Carousel {
	return &Carousel{next: next, unit: time.Second}
}

// Start plays the next effect immediately and then every seconds seconds.
// Intervals below MinCarouselSeconds only stop a running carousel.
func (c *Carousel) Start(ctx context.Context, seconds int) error {
	c.run.Lock()
	defer c.run.Unlock()

	c.stop()
	if seconds < MinCarouselSeconds {
		return nil
	}
	if err := c.next(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	loopCtx, cancel := context.WithCancel(context.Background())
	c.seconds = seconds
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(loopCtx, time.Duration(seconds)*c.unit, c.done)
	log.Infof("carousel started: every %ds", seconds)
	return nil
}

func (c *Carousel) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.next(ctx); err != nil && ctx.Err() == nil {
				log.Warningf("carousel: %s", err)
			}
		}
	}
}

// Stop halts the carousel and waits for a turn in progress to finish.
func (c *Carousel) Stop() {
	c.run.Lock()
	defer c.run.Unlock()
	c.stop()
}

func (c *Carousel) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done, c.seconds = nil, nil, 0
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		log.Info("carousel stopped")
	}
}

// Seconds returns the running interval, or 0 when stopped.
func (c *Carousel) Seconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seconds
}
