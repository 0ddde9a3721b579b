package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/rgbvm/pkg/bytecode"
	"github.com/chazu/rgbvm/pkg/host"
	"github.com/chazu/rgbvm/pkg/wire"
	"github.com/chazu/rgbvm/store"
)

// errNoStore is returned by operations that need the effect library when
// the server runs without one.
var errNoStore = errors.New("no effect store configured")

// Controller implements the ControllerService handlers.
type Controller struct {
	worker   *host.Worker
	store    *store.Store
	carousel *Carousel
	started  time.Time

	mu      sync.Mutex
	playing string
}

// NewController creates a Controller. st may be nil, which disables Play,
// Carousel and saving uploads.
func NewController(worker *host.Worker, st *store.Store) *Controller {
	c := &Controller{
		worker:  worker,
		store:   st,
		started: time.Now(),
	}
	c.carousel = NewCarousel(c.advance)
	return c
}

// Register mounts every procedure on mux.
func (c *Controller) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)
	mux.Handle(ProcedureUpload, connect.NewUnaryHandler(ProcedureUpload, c.Upload, opts...))
	mux.Handle(ProcedureSetVar, connect.NewUnaryHandler(ProcedureSetVar, c.SetVar, opts...))
	mux.Handle(ProcedureStatus, connect.NewUnaryHandler(ProcedureStatus, c.Status, opts...))
	mux.Handle(ProcedureFrame, connect.NewUnaryHandler(ProcedureFrame, c.Frame, opts...))
	mux.Handle(ProcedurePlay, connect.NewUnaryHandler(ProcedurePlay, c.Play, opts...))
	mux.Handle(ProcedureCarousel, connect.NewUnaryHandler(ProcedureCarousel, c.Carousel, opts...))
	mux.Handle(ProcedurePacket, connect.NewUnaryHandler(ProcedurePacket, c.Packet, opts...))
}

// Upload loads an image onto the strip, optionally saving it first.
func (c *Controller) Upload(
	ctx context.Context,
	req *connect.Request[UploadRequest],
) (*connect.Response[UploadResponse], error) {
	if len(req.Msg.Image) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image is required"))
	}
	img, err := bytecode.ParseImage(req.Msg.Image)
	if err != nil {
		return nil, connectError(err)
	}

	resp := &UploadResponse{Bytes: len(img.Code)}
	if req.Msg.Save {
		if c.store == nil {
			return nil, connectError(errNoStore)
		}
		e, err := c.store.Save(ctx, req.Msg.Name, req.Msg.Image)
		if err != nil {
			return nil, connectError(err)
		}
		resp.ID = e.ID.String()
	}

	c.carousel.Stop()
	if err := c.load(img, savedName(req.Msg)); err != nil {
		return nil, connectError(err)
	}
	err = c.worker.Do(func(s *host.Strip) error {
		resp.Entry = uint16(s.Entry())
		return nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(resp), nil
}

func savedName(req *UploadRequest) string {
	if req.Save {
		return req.Name
	}
	return ""
}

// SetVar pokes a program variable.
func (c *Controller) SetVar(
	ctx context.Context,
	req *connect.Request[SetVarRequest],
) (*connect.Response[SetVarResponse], error) {
	m := req.Msg
	if m.Name == "" {
		switch m.Size {
		case 1, 2, 4:
		default:
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("size must be 1, 2 or 4, got %d", m.Size))
		}
	}
	err := c.worker.Do(func(s *host.Strip) error {
		if m.Name != "" {
			return s.SetVariable(m.Name, m.Value)
		}
		return s.SetVar(int(m.Location), int(m.Size), m.Value)
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&SetVarResponse{}), nil
}

// Status reports the strip's activity.
func (c *Controller) Status(
	ctx context.Context,
	req *connect.Request[StatusRequest],
) (*connect.Response[StatusResponse], error) {
	var st host.Stats
	if err := c.worker.Do(func(s *host.Strip) error {
		st = s.Stats()
		return nil
	}); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&StatusResponse{
		Program:         st.Program,
		Loaded:          st.Loaded,
		LEDs:            st.LEDs,
		Frames:          st.Frames,
		Instructions:    st.Instructions,
		RenderCalls:     st.RenderCalls,
		Faults:          st.Faults,
		LastFault:       st.LastFault,
		Lines:           st.Lines,
		Playing:         c.Playing(),
		CarouselSeconds: c.carousel.Seconds(),
		UptimeMillis:    time.Since(c.started).Milliseconds(),
	}), nil
}

// Frame returns the current LED colors.
func (c *Controller) Frame(
	ctx context.Context,
	req *connect.Request[FrameRequest],
) (*connect.Response[FrameResponse], error) {
	var frame []host.Color
	if err := c.worker.Do(func(s *host.Strip) error {
		frame = s.Frame()
		return nil
	}); err != nil {
		return nil, connectError(err)
	}
	pixels := make([]byte, 0, 3*len(frame))
	for _, px := range frame {
		pixels = append(pixels, px.R, px.G, px.B)
	}
	return connect.NewResponse(&FrameResponse{Pixels: pixels}), nil
}

// Play loads a stored effect and stops the carousel.
func (c *Controller) Play(
	ctx context.Context,
	req *connect.Request[PlayRequest],
) (*connect.Response[PlayResponse], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	c.carousel.Stop()
	e, err := c.play(ctx, req.Msg.Name)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&PlayResponse{ID: e.ID.String()}), nil
}

// Carousel starts or stops cycling through the favorite effects.
func (c *Controller) Carousel(
	ctx context.Context,
	req *connect.Request[CarouselRequest],
) (*connect.Response[CarouselResponse], error) {
	if req.Msg.Seconds >= MinCarouselSeconds && c.store == nil {
		return nil, connectError(errNoStore)
	}
	if err := c.carousel.Start(ctx, req.Msg.Seconds); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&CarouselResponse{
		Seconds: c.carousel.Seconds(),
		Playing: c.Playing(),
	}), nil
}

// Packet applies one raw serial packet to the strip.
func (c *Controller) Packet(
	ctx context.Context,
	req *connect.Request[PacketRequest],
) (*connect.Response[PacketResponse], error) {
	p, err := wire.Unmarshal(req.Msg.Data)
	if err != nil {
		return nil, connectError(err)
	}
	if p.Type() == wire.TypeProgram {
		c.carousel.Stop()
		c.setPlaying("")
	}
	if err := c.worker.Do(func(s *host.Strip) error { return s.Apply(p) }); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&PacketResponse{Type: p.Type().String()}), nil
}

// Playing returns the name of the stored effect on the strip, or "".
func (c *Controller) Playing() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Controller) setPlaying(name string) {
	c.mu.Lock()
	c.playing = name
	c.mu.Unlock()
}

// StartCarousel starts the carousel outside of a request.
func (c *Controller) StartCarousel(ctx context.Context, seconds int) error {
	if c.store == nil {
		return errNoStore
	}
	return c.carousel.Start(ctx, seconds)
}

// StopCarousel stops the carousel.
func (c *Controller) StopCarousel() {
	c.carousel.Stop()
}

func (c *Controller) load(img *bytecode.Image, name string) error {
	if err := c.worker.Do(func(s *host.Strip) error { return s.Load(img) }); err != nil {
		return err
	}
	c.setPlaying(name)
	return nil
}

func (c *Controller) play(ctx context.Context, name string) (store.Effect, error) {
	if c.store == nil {
		return store.Effect{}, errNoStore
	}
	e, err := c.store.Get(ctx, name)
	if err != nil {
		return store.Effect{}, err
	}
	img, err := bytecode.ParseImage(e.Image)
	if err != nil {
		return store.Effect{}, fmt.Errorf("effect %q: %w", name, err)
	}
	if err := c.load(img, e.Name); err != nil {
		return store.Effect{}, fmt.Errorf("effect %q: %w", name, err)
	}
	log.Infof("playing effect %q", e.Name)
	return e, nil
}

// advance plays the favorite after the current one, wrapping around.
func (c *Controller) advance(ctx context.Context) error {
	favs, err := c.store.Favorites(ctx)
	if err != nil {
		return err
	}
	if len(favs) == 0 {
		return ErrNoFavorites
	}
	next := 0
	current := c.Playing()
	for i, e := range favs {
		if e.Name == current {
			next = (i + 1) % len(favs)
			break
		}
	}
	_, err = c.play(ctx, favs[next].Name)
	return err
}

// connectError maps domain errors onto Connect codes.
func connectError(err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, host.ErrUnknownVariable):
		code = connect.CodeNotFound
	case errors.Is(err, host.ErrNoProgram),
		errors.Is(err, errNoStore),
		errors.Is(err, ErrNoFavorites):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, bytecode.ErrBadImage),
		errors.Is(err, bytecode.ErrOutOfBounds),
		errors.Is(err, bytecode.ErrBadWidth),
		errors.Is(err, bytecode.ErrInvalidConfig),
		errors.Is(err, wire.ErrBadPacket),
		errors.Is(err, wire.ErrUnknownPacket),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, store.ErrInvalidName):
		code = connect.CodeInvalidArgument
	case errors.Is(err, host.ErrWorkerStopped):
		code = connect.CodeUnavailable
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
