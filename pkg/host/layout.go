// Package host runs effect programs against a strip of RGB LEDs.
//
// A program renders one LED per run. Before each run the host writes the
// LED's index, the frame timer and the LED's previous color into fixed
// variable slots; after the run it reads the color back. Built-in calls
// (random, min, max, map, lerp, clamp, hsv, render) are served from a
// bytecode.CallTable.
package host

import (
	"github.com/chazu/rgbvm/pkg/bytecode"
)

// Variable names recognized in an image's variable table.
const (
	VarR     = "r"
	VarG     = "g"
	VarB     = "b"
	VarIndex = "index"
	VarTimer = "timer"
)

// Layout is where the host variables live in memory. R, G and B are bytes;
// Index and Timer are machine words.
type Layout struct {
	R, G, B uint16
	Index   uint16
	Timer   uint16
	Entry   uint16 // First address after the variables
}

// DefaultLayout is the allocation used by compiled effects: three color
// bytes, a padding byte, then index and timer words.
var DefaultLayout = Layout{R: 0, G: 1, B: 2, Index: 4, Timer: 8, Entry: 12}

// LayoutFor returns base with any slot named in img's variable table
// moved to the image's address.
func LayoutFor(img *bytecode.Image, base Layout) Layout {
	if img == nil {
		return base
	}
	slots := map[string]*uint16{
		VarR:     &base.R,
		VarG:     &base.G,
		VarB:     &base.B,
		VarIndex: &base.Index,
		VarTimer: &base.Timer,
	}
	for _, v := range img.Header.Variables {
		if p, ok := slots[v.Name]; ok {
			*p = v.Address
		}
	}
	return base
}

// writeColor stores c in the color slots.
func (l Layout) writeColor(mem *bytecode.Memory, c Color) error {
	for _, s := range []struct {
		addr uint16
		v    uint8
	}{{l.R, c.R}, {l.G, c.G}, {l.B, c.B}} {
		if err := mem.WriteByteAt(int(s.addr), s.v); err != nil {
			return err
		}
	}
	return nil
}

// readColor loads the color slots.
func (l Layout) readColor(mem *bytecode.Memory) (Color, error) {
	var c Color
	var err error
	if c.R, err = mem.ReadByteAt(int(l.R)); err != nil {
		return c, err
	}
	if c.G, err = mem.ReadByteAt(int(l.G)); err != nil {
		return c, err
	}
	c.B, err = mem.ReadByteAt(int(l.B))
	return c, err
}
