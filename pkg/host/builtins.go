package host

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/chazu/rgbvm/pkg/bytecode"
)

// Built-in call ids. Id 2 is unassigned.
const (
	CallRender byte = 0
	CallRandom byte = 1
	CallMin    byte = 3
	CallMax    byte = 4
	CallMap    byte = 5
	CallLerp   byte = 6
	CallClamp  byte = 7
	CallHSV    byte = 8
)

// ErrEmptyRange is returned by map when the source range has no width.
var ErrEmptyRange = errors.New("map: empty source range")

// BuiltinOptions configures the built-in call table.
type BuiltinOptions struct {
	Layout Layout
	// Random returns a byte for the random call; nil uses math/rand/v2.
	Random func() uint8
	// Render services the render call; nil makes it a no-op.
	Render func(c *bytecode.CallContext) error
}

// Builtins returns a call table serving the effect library. Arguments are
// popped in reverse push order and results pushed back.
func Builtins(opts BuiltinOptions) *bytecode.CallTable {
	random := opts.Random
	if random == nil {
		random = func() uint8 { return uint8(rand.IntN(256)) }
	}
	layout := opts.Layout

	t := bytecode.NewCallTable()
	t.Register(CallRender, "render", func(c *bytecode.CallContext) error {
		if opts.Render == nil {
			return nil
		}
		return opts.Render(c)
	})
	t.Register(CallRandom, "random", func(c *bytecode.CallContext) error {
		return c.Push(int32(random()))
	})
	t.Register(CallMin, "min", fold(2, func(a []int32) (int32, error) {
		return min(a[0], a[1]), nil
	}))
	t.Register(CallMax, "max", fold(2, func(a []int32) (int32, error) {
		return max(a[0], a[1]), nil
	}))
	t.Register(CallMap, "map", fold(5, func(a []int32) (int32, error) {
		return Map(a[0], a[1], a[2], a[3], a[4])
	}))
	t.Register(CallLerp, "lerp", fold(3, func(a []int32) (int32, error) {
		return Lerp(a[0], a[1], a[2]), nil
	}))
	t.Register(CallClamp, "clamp", fold(3, func(a []int32) (int32, error) {
		return Clamp(a[0], a[1], a[2]), nil
	}))
	t.Register(CallHSV, "hsv", func(c *bytecode.CallContext) error {
		a, err := c.PopN(3)
		if err != nil {
			return err
		}
		return layout.writeColor(c.Memory(), HSV(uint8(a[0]), uint8(a[1]), uint8(a[2])))
	})
	return t
}

// fold pops n arguments, applies fn and pushes its result.
func fold(n int, fn func([]int32) (int32, error)) bytecode.CallFunc {
	return func(c *bytecode.CallContext) error {
		args, err := c.PopN(n)
		if err != nil {
			return err
		}
		v, err := fn(args)
		if err != nil {
			return err
		}
		return c.Push(v)
	}
}

// Map re-maps x from [fromLow, fromHigh] onto [toLow, toHigh].
func Map(x, fromLow, fromHigh, toLow, toHigh int32) (int32, error) {
	span := int64(fromHigh) - int64(fromLow)
	if span == 0 {
		return 0, fmt.Errorf("%w [%d, %d]", ErrEmptyRange, fromLow, fromHigh)
	}
	v := (int64(x)-int64(fromLow))*(int64(toHigh)-int64(toLow))/span + int64(toLow)
	return int32(v), nil
}

// Lerp moves from a towards b by pct/256.
func Lerp(a, b, pct int32) int32 {
	return int32(int64(a) + int64(pct)*(int64(b)-int64(a))/256)
}

// Clamp limits v to [lo, hi]. v above hi yields hi even when lo > hi.
func Clamp(v, lo, hi int32) int32 {
	switch {
	case v > hi:
		return hi
	case v < lo:
		return lo
	default:
		return v
	}
}

// HSV converts a color with byte-scaled hue, saturation and value to RGB.
// A full turn of hue is 256.
func HSV(h, s, v uint8) Color {
	hue := float64(h) / 256 * 360
	sat := float64(s) / 256
	val := float64(v) / 256
	f := func(n float64) uint8 {
		k := math.Mod(n+hue/60, 6)
		x := val - val*sat*math.Max(math.Min(math.Min(k, 4-k), 1), 0)
		return uint8(x * 255)
	}
	return Color{R: f(5), G: f(3), B: f(1)}
}
