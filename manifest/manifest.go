// Package manifest handles rgbvm.toml configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/rgbvm/pkg/bytecode"
	"github.com/chazu/rgbvm/pkg/host"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "rgbvm.toml"

// MinCarouselSeconds is the shortest carousel interval.
const MinCarouselSeconds = 4

// Manifest represents an rgbvm.toml configuration.
type Manifest struct {
	Machine Machine `toml:"machine"`
	Program Program `toml:"program"`
	LEDs    LEDs    `toml:"leds"`
	Store   Store   `toml:"store"`
	Server  Server  `toml:"server"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the rgbvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Machine configures the VM.
type Machine struct {
	Capacity   int    `toml:"capacity"`
	ValueWidth int    `toml:"value-width"`
	StackFloor *int   `toml:"stack-floor"` // unset means the default floor; 0 disables it
	StackTop   int    `toml:"stack-top"`
	StepBudget uint64 `toml:"step-budget"`
	Trace      bool   `toml:"trace"`
}

// Program names the image to run.
type Program struct {
	Image string `toml:"image"`
	Entry *int   `toml:"entry"` // overrides the image's entry point
}

// LEDs configures the strip.
type LEDs struct {
	Count      int   `toml:"count"`
	RenderCall *int  `toml:"render-call"` // call id that flushes a frame
	FrameRate  int   `toml:"frame-rate"`
	Layout     *Slot `toml:"layout"`
}

// Slot overrides the host variable addresses.
type Slot struct {
	R     uint16 `toml:"r"`
	G     uint16 `toml:"g"`
	B     uint16 `toml:"b"`
	Index uint16 `toml:"index"`
	Timer uint16 `toml:"timer"`
	Entry uint16 `toml:"entry"`
}

// Store configures the effect library.
type Store struct {
	Path string `toml:"path"`
}

// Server configures the controller service.
type Server struct {
	Addr            string `toml:"addr"`
	CarouselSeconds int    `toml:"carousel-seconds"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("invalid manifest")

// Default returns the configuration used when no rgbvm.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// Load parses the rgbvm.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text and applies defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an rgbvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.Machine.Capacity == 0 {
		m.Machine.Capacity = bytecode.DefaultCapacity
	}
	if m.Machine.ValueWidth == 0 {
		m.Machine.ValueWidth = bytecode.DefaultValueWidth
	}
	if m.Machine.StackFloor == nil {
		floor := bytecode.DefaultStackFloor
		m.Machine.StackFloor = &floor
	}
	if m.Machine.StackTop == 0 {
		m.Machine.StackTop = m.Machine.Capacity
	}
	if m.LEDs.Count == 0 {
		m.LEDs.Count = host.DefaultLEDCount
	}
	if m.LEDs.FrameRate == 0 {
		m.LEDs.FrameRate = 30
	}
	if m.Store.Path == "" {
		m.Store.Path = filepath.Join(".rgbvm", "effects.db")
	}
	if m.Server.Addr == "" {
		m.Server.Addr = ":4567"
	}
}

// Validate checks the settings after defaults are applied.
func (m *Manifest) Validate() error {
	if err := m.Machine.Config().Validate(); err != nil {
		return fmt.Errorf("%w: [machine]: %w", ErrInvalid, err)
	}
	if m.LEDs.Count < 0 {
		return fmt.Errorf("%w: [leds] count %d", ErrInvalid, m.LEDs.Count)
	}
	if m.LEDs.FrameRate < 0 {
		return fmt.Errorf("%w: [leds] frame-rate %d", ErrInvalid, m.LEDs.FrameRate)
	}
	if rc := m.LEDs.RenderCall; rc != nil && (*rc < 0 || *rc > 255) {
		return fmt.Errorf("%w: [leds] render-call %d", ErrInvalid, *rc)
	}
	if s := m.Server.CarouselSeconds; s != 0 && s < MinCarouselSeconds {
		return fmt.Errorf("%w: [server] carousel-seconds %d is below %d", ErrInvalid, s, MinCarouselSeconds)
	}
	if m.Log.Verbosity < 0 {
		return fmt.Errorf("%w: [log] verbosity %d", ErrInvalid, m.Log.Verbosity)
	}
	return nil
}

// Config converts the machine section.
func (mc Machine) Config() bytecode.Config {
	cfg := bytecode.Config{
		Capacity:   mc.Capacity,
		ValueWidth: mc.ValueWidth,
		StackFloor: bytecode.DefaultStackFloor,
		StackTop:   mc.StackTop,
		StepBudget: mc.StepBudget,
		Trace:      mc.Trace,
	}
	if mc.StackFloor != nil {
		cfg.StackFloor = *mc.StackFloor
	}
	return cfg
}

// HostLayout returns the configured variable layout.
func (l LEDs) HostLayout() host.Layout {
	if l.Layout == nil {
		return host.DefaultLayout
	}
	return host.Layout(*l.Layout)
}

// Resolve makes a path from the manifest absolute relative to its
// directory.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.Dir == "" {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// StorePath returns the resolved effect database path.
func (m *Manifest) StorePath() string {
	if m.Store.Path == ":memory:" {
		return m.Store.Path
	}
	return m.Resolve(m.Store.Path)
}

// ImagePath returns the resolved program image path, or "".
func (m *Manifest) ImagePath() string {
	return m.Resolve(m.Program.Image)
}
