package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/chazu/rgbvm/pkg/bytecode"
	"github.com/chazu/rgbvm/pkg/wire"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rgbvm.host")

// DefaultLEDCount is the strip length of the reference hardware.
const DefaultLEDCount = 50

// DefaultStepBudget bounds a single LED's run so a looping program cannot
// stall the render loop.
const DefaultStepBudget = 1 << 16

var (
	// ErrNoProgram is returned when rendering before a program is loaded.
	ErrNoProgram = errors.New("no program loaded")

	// ErrStepBudget is returned when a run exhausts its step budget.
	ErrStepBudget = errors.New("program exceeded its step budget")

	// ErrUnknownVariable is returned by SetVariable for names missing from
	// the image's variable table.
	ErrUnknownVariable = errors.New("unknown variable")
)

// Color is one LED.
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// line is a solid color overlay from an EnableLine packet.
type line struct {
	start, end int
	color      Color
	expires    time.Time
}

// Stats summarizes a strip's activity.
type Stats struct {
	Program      string
	Loaded       bool
	LEDs         int
	Frames       uint64
	Instructions uint64
	RenderCalls  uint64
	Faults       uint64
	LastFault    string
	Lines        int
}

// StripOption configures a Strip.
type StripOption func(*Strip)

// WithLEDs sets the number of LEDs.
func WithLEDs(n int) StripOption {
	return func(s *Strip) { s.count = n }
}

// WithMachine sets the machine configuration used for every program.
func WithMachine(cfg bytecode.Config) StripOption {
	return func(s *Strip) { s.cfg = cfg }
}

// WithLayout sets the variable layout for images without a variable table.
func WithLayout(l Layout) StripOption {
	return func(s *Strip) { s.baseLayout = l }
}

// WithRandom replaces the source of the random call.
func WithRandom(fn func() uint8) StripOption {
	return func(s *Strip) { s.random = fn }
}

// WithClock replaces time.Now for line expiry.
func WithClock(now func() time.Time) StripOption {
	return func(s *Strip) { s.now = now }
}

// WithOutput directs the Out instruction to w.
func WithOutput(w io.Writer) StripOption {
	return func(s *Strip) { s.out = w }
}

// WithRenderCall serves the render call on id as well as on CallRender.
func WithRenderCall(id byte) StripOption {
	return func(s *Strip) { s.renderCall = id }
}

// WithRenderHook is called with the composed frame whenever a program
// issues the render call.
func WithRenderHook(fn func(frame []Color)) StripOption {
	return func(s *Strip) { s.onRender = fn }
}

// Strip renders a program across a row of LEDs. It is not safe for
// concurrent use; share it through a Worker.
type Strip struct {
	count      int
	cfg        bytecode.Config
	baseLayout Layout
	random     func() uint8
	now        func() time.Time
	out        io.Writer
	onRender   func([]Color)
	renderCall byte

	vm     *bytecode.VM
	img    *bytecode.Image
	layout Layout
	entry  int
	frame  []Color
	lines  []line
	stats  Stats
}

// NewStrip creates a strip with every LED off and no program.
func NewStrip(opts ...StripOption) (*Strip, error) {
	cfg := bytecode.DefaultConfig()
	cfg.StepBudget = DefaultStepBudget
	s := &Strip{
		count:      DefaultLEDCount,
		cfg:        cfg,
		baseLayout: DefaultLayout,
		now:        time.Now,
		out:        io.Discard,
		renderCall: CallRender,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.count <= 0 {
		return nil, fmt.Errorf("led count must be positive, got %d", s.count)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	s.layout = s.baseLayout
	s.frame = make([]Color, s.count)
	vm, err := s.newVM(s.cfg, s.layout)
	if err != nil {
		return nil, err
	}
	s.vm = vm
	return s, nil
}

func (s *Strip) newVM(cfg bytecode.Config, layout Layout) (*bytecode.VM, error) {
	calls := Builtins(BuiltinOptions{
		Layout: layout,
		Random: s.random,
		Render: s.render,
	})
	if s.renderCall != CallRender {
		calls.Register(s.renderCall, "render", s.render)
	}
	vm, err := bytecode.New(cfg,
		bytecode.WithCallHandler(calls),
		bytecode.WithOutput(bytecode.WriterSink{W: s.out}),
		bytecode.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return vm, nil
}

func (s *Strip) render(*bytecode.CallContext) error {
	s.stats.RenderCalls++
	if s.onRender != nil {
		s.onRender(s.Frame())
	}
	return nil
}

// Load installs a program, clearing memory and the frame. Images without
// a header are loaded at address 0 and entered at the layout's entry. A
// failed load leaves the running program untouched.
func (s *Strip) Load(img *bytecode.Image) error {
	layout := LayoutFor(img, s.baseLayout)
	vm, err := s.newVM(img.Configure(s.cfg), layout)
	if err != nil {
		return fmt.Errorf("configuring machine: %w", err)
	}
	if err := vm.LoadImage(img); err != nil {
		return err
	}
	s.layout, s.vm, s.img = layout, vm, img
	s.entry = img.Entry()
	if img.Raw {
		s.entry = int(layout.Entry)
	}
	clear(s.frame)
	s.stats.Program = img.Header.Name
	s.stats.Loaded = true
	log.Infof("loaded program %q: %d bytes, entry 0x%04X", img.Header.Name, len(img.Code), s.entry)
	return nil
}

// Image returns the loaded program, or nil.
func (s *Strip) Image() *bytecode.Image {
	return s.img
}

// Entry returns the entry address of the loaded program.
func (s *Strip) Entry() int {
	return s.entry
}

// Memory returns the machine memory.
func (s *Strip) Memory() *bytecode.Memory {
	return s.vm.Memory()
}

// SetVar writes a byte or a word at addr.
func (s *Strip) SetVar(addr, size int, v int32) error {
	mem := s.vm.Memory()
	if size == 1 {
		return mem.WriteByteAt(addr, byte(v))
	}
	return mem.WriteWord(addr, size, v)
}

// SetVariable writes v to a variable from the image's variable table.
func (s *Strip) SetVariable(name string, v int32) error {
	if s.img == nil {
		return ErrNoProgram
	}
	vr, ok := s.img.Variable(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return s.SetVar(int(vr.Address), int(vr.Size), v)
}

// RenderFrame runs the program once per LED. Each run sees the LED's index,
// the timer and the LED's color from the previous frame; the color it
// leaves behind becomes the LED's new color. A fault aborts the frame.
func (s *Strip) RenderFrame(ctx context.Context, timer int32) error {
	if s.img == nil {
		return ErrNoProgram
	}
	mem := s.vm.Memory()
	w := s.vm.Config().ValueWidth

	for i := range s.frame {
		if err := mem.WriteWord(int(s.layout.Index), w, int32(i)); err != nil {
			return fmt.Errorf("led %d: writing index: %w", i, err)
		}
		if err := mem.WriteWord(int(s.layout.Timer), w, timer); err != nil {
			return fmt.Errorf("led %d: writing timer: %w", i, err)
		}
		if err := s.layout.writeColor(mem, s.frame[i]); err != nil {
			return fmt.Errorf("led %d: writing color: %w", i, err)
		}

		res, err := s.vm.RunContext(ctx, s.entry)
		s.stats.Instructions += res.State.Executed
		if err != nil {
			if f, ok := bytecode.AsFault(err); ok {
				s.stats.Faults++
				s.stats.LastFault = f.Error()
				log.Warningf("led %d: %s", i, f)
			}
			return fmt.Errorf("led %d: %w", i, err)
		}
		if res.Status == bytecode.StatusYielded {
			return fmt.Errorf("led %d: %w after %d instructions", i, ErrStepBudget, res.State.Executed)
		}

		c, err := s.layout.readColor(mem)
		if err != nil {
			return fmt.Errorf("led %d: reading color: %w", i, err)
		}
		s.frame[i] = c
	}
	s.stats.Frames++
	s.expireLines()
	return nil
}

// Frame returns the current colors with active lines drawn on top.
func (s *Strip) Frame() []Color {
	out := make([]Color, len(s.frame))
	copy(out, s.frame)
	now := s.now()
	for _, l := range s.lines {
		if !now.Before(l.expires) {
			continue
		}
		for i := l.start; i < l.end && i < len(out); i++ {
			out[i] = l.color
		}
	}
	return out
}

func (s *Strip) expireLines() {
	now := s.now()
	live := s.lines[:0]
	for _, l := range s.lines {
		if now.Before(l.expires) {
			live = append(live, l)
		}
	}
	s.lines = live
}

// Stats returns activity counters.
func (s *Strip) Stats() Stats {
	st := s.stats
	st.LEDs = len(s.frame)
	st.Lines = len(s.lines)
	return st
}

// Apply executes a controller packet.
func (s *Strip) Apply(p wire.Packet) error {
	switch p := p.(type) {
	case wire.EnableLine:
		s.lines = append(s.lines, line{
			start:   int(p.Start),
			end:     int(p.End),
			color:   Color{R: p.R, G: p.G, B: p.B},
			expires: s.now().Add(time.Duration(p.Duration) * time.Second),
		})
		log.Debugf("line %d..%d %s for %ds", p.Start, p.End, Color{p.R, p.G, p.B}, p.Duration)
		return nil

	case wire.Program:
		img := bytecode.NewImage(p.Code)
		img.Header.Entry = p.Entry
		return s.Load(img)

	case wire.SetVar:
		return s.SetVar(int(p.Location), int(p.Size), int32(p.Value))

	default:
		return fmt.Errorf("%w: %T", wire.ErrUnknownPacket, p)
	}
}
