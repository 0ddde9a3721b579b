package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/rgbvm/manifest"
	"github.com/chazu/rgbvm/pkg/host"
)

// newStrip builds a strip from the [machine] and [leds] sections.
func newStrip(m *manifest.Manifest, opts ...host.StripOption) (*host.Strip, error) {
	cfg := m.Machine.Config()
	if cfg.StepBudget == 0 {
		cfg.StepBudget = host.DefaultStepBudget
	}
	base := []host.StripOption{
		host.WithLEDs(m.LEDs.Count),
		host.WithMachine(cfg),
		host.WithLayout(m.LEDs.HostLayout()),
	}
	if m.LEDs.RenderCall != nil {
		base = append(base, host.WithRenderCall(byte(*m.LEDs.RenderCall)))
	}
	return host.NewStrip(append(base, opts...)...)
}

// handleRenderCommand processes `rgbvm render`: render frames of an effect
// and print one line per frame.
// Usage:
//
//	rgbvm render -frames 10 -step 33 rainbow.rgbc
//	rgbvm render -format ansi effect.asm
func handleRenderCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	frames := fs.Int("frames", 1, "Number of frames to render")
	step := fs.Int("step", 1000/max(m.LEDs.FrameRate, 1), "Timer milliseconds between frames")
	leds := fs.Int("leds", m.LEDs.Count, "Number of LEDs")
	format := fs.String("format", "hex", "Output format: hex or ansi")
	fs.Parse(args)

	write, ok := frameWriters[*format]
	if !ok {
		return fmt.Errorf("unknown format %q", *format)
	}
	if *frames < 0 {
		return errors.New("-frames must not be negative")
	}

	img, err := programImage(fs.Args(), m)
	if err != nil {
		return err
	}
	m.LEDs.Count = *leds
	strip, err := newStrip(m, host.WithOutput(os.Stderr))
	if err != nil {
		return err
	}
	if err := strip.Load(img); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	for i := 0; i < *frames; i++ {
		if err := strip.RenderFrame(ctx, int32(i*(*step))); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		write(os.Stdout, strip.Frame())
	}

	st := strip.Stats()
	log.Infof("rendered %d frames, %d instructions", st.Frames, st.Instructions)
	return nil
}

var frameWriters = map[string]func(io.Writer, []host.Color){
	"hex":  writeHexFrame,
	"ansi": writeANSIFrame,
}

func writeHexFrame(w io.Writer, frame []host.Color) {
	parts := make([]string, len(frame))
	for i, c := range frame {
		parts[i] = c.String()
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

// writeANSIFrame draws each LED as a truecolor block.
func writeANSIFrame(w io.Writer, frame []host.Color) {
	var sb strings.Builder
	for _, c := range frame {
		fmt.Fprintf(&sb, "\x1b[48;2;%d;%d;%dm  ", c.R, c.G, c.B)
	}
	sb.WriteString("\x1b[0m\n")
	io.WriteString(w, sb.String())
}
