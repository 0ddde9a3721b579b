// Package server exposes a running LED strip as a Connect service.
//
// The ControllerService speaks the Connect, gRPC and gRPC-Web protocols on
// one port, with CBOR-encoded messages. A render loop drives the strip at a
// fixed frame rate; every handler and the loop reach the strip through a
// single host.Worker.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/rgbvm/pkg/host"
	"github.com/chazu/rgbvm/store"
)

var log = commonlog.GetLogger("rgbvm.server")

// DefaultFrameRate is the render loop's frames per second.
const DefaultFrameRate = 30

// ControllerServer serves the controller API and renders the strip.
type ControllerServer struct {
	worker     *host.Worker
	controller *Controller
	mux        *http.ServeMux
	cfg        *serverConfig
	started    time.Time
}

// ServerOption configures a ControllerServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store           *store.Store
	frameRate       int
	carouselSeconds int
}

// WithStore attaches the effect library used by Play, Carousel and saved
// uploads.
func WithStore(st *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithFrameRate sets the render loop's frames per second.
func WithFrameRate(fps int) ServerOption {
	return func(c *serverConfig) { c.frameRate = fps }
}

// WithCarousel starts the carousel when the server starts serving.
func WithCarousel(seconds int) ServerOption {
	return func(c *serverConfig) { c.carouselSeconds = seconds }
}

// New creates a ControllerServer driving the given strip.
func New(strip *host.Strip, opts ...ServerOption) *ControllerServer {
	cfg := &serverConfig{frameRate: DefaultFrameRate}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.frameRate <= 0 {
		cfg.frameRate = DefaultFrameRate
	}

	worker := host.NewWorker(strip)
	s := &ControllerServer{
		worker:     worker,
		controller: NewController(worker, cfg.store),
		mux:        http.NewServeMux(),
		cfg:        cfg,
		started:    time.Now(),
	}
	s.controller.Register(s.mux)
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *ControllerServer) Handler() http.Handler {
	return s.mux
}

// Controller returns the service implementation.
func (s *ControllerServer) Controller() *Controller {
	return s.controller
}

// Worker returns the worker owning the strip.
func (s *ControllerServer) Worker() *host.Worker {
	return s.worker
}

// RenderFrame renders one frame with the timer at the milliseconds elapsed
// since the server was created.
func (s *ControllerServer) RenderFrame(ctx context.Context) error {
	timer := int32(time.Since(s.started).Milliseconds())
	return s.worker.Do(func(st *host.Strip) error {
		return st.RenderFrame(ctx, timer)
	})
}

// RenderLoop renders frames until ctx is done. A failing program is
// reported once until a frame succeeds again.
func (s *ControllerServer) RenderLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.frameRate))
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := s.RenderFrame(ctx)
		switch {
		case err == nil:
			lastErr = ""
		case errors.Is(err, host.ErrNoProgram), ctx.Err() != nil:
		case errors.Is(err, host.ErrWorkerStopped):
			return
		case err.Error() != lastErr:
			lastErr = err.Error()
			log.Errorf("render: %s", err)
		}
	}
}

// ListenAndServe serves on addr until ctx is done, running the render
// loop alongside. gRPC clients are accepted over cleartext HTTP/2.
func (s *ControllerServer) ListenAndServe(ctx context.Context, addr string) error {
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		Protocols:         &protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.RenderLoop(ctx)

	if s.cfg.carouselSeconds > 0 {
		if err := s.controller.StartCarousel(ctx, s.cfg.carouselSeconds); err != nil {
			log.Warningf("carousel not started: %s", err)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %s", err)
		}
	}()

	log.Noticef("rgbvm controller listening on %s", addr)
	log.Infof("  Connect (HTTP/CBOR): http://%s%s", addr, ProcedureStatus)
	log.Infof("  gRPC (h2c, +cbor):   grpc://%s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts down the carousel and the worker.
func (s *ControllerServer) Stop() {
	s.controller.StopCarousel()
	s.worker.Stop()
}
