package host

import (
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("worker stopped")

// request is a unit of work to be executed on the strip goroutine.
type request struct {
	fn   func(*Strip) error
	done chan error
}

// Worker serializes all strip access through a single goroutine.
// The engine is single-threaded; every handler and the render loop must
// go through the worker to avoid data races.
type Worker struct {
	strip    *Strip
	requests chan request
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(s *Strip) *Worker {
	w := &Worker{
		strip:    s,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the strip, recovering from panics.
func (w *Worker) execute(fn func(*Strip) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker request panicked: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(w.strip)
}

// Do submits fn for execution on the strip goroutine and blocks until it
// completes. Panics come back as errors.
func (w *Worker) Do(fn func(*Strip) error) error {
	select {
	case <-w.quit:
		return ErrWorkerStopped
	default:
	}
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return ErrWorkerStopped
	}
	select {
	case err := <-req.done:
		return err
	case <-w.quit:
		return ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine. Requests still queued are
// abandoned.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
