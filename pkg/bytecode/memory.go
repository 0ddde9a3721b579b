package bytecode

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the size of the reference machine's memory (64 KiB).
const DefaultCapacity = 1 << 16

// Word widths understood by the memory helpers.
const (
	Width8  = 1
	Width16 = 2
	Width32 = 4
)

// ErrOutOfBounds is returned when a read or write touches an address
// outside [0, capacity).
var ErrOutOfBounds = errors.New("memory access out of bounds")

// ErrBadWidth is returned for word widths other than 1, 2 or 4.
var ErrBadWidth = errors.New("unsupported word width")

// Memory is the single byte-addressable region backing code, variables and
// the operand stack. It has no notion of regions; that discipline belongs
// to the engine and the host.
//
// Multi-byte words are little-endian and always assembled byte by byte, so
// the buffer is never reinterpreted as native words.
type Memory struct {
	data []byte
}

// NewMemory allocates a zeroed memory of the given capacity.
func NewMemory(capacity int) *Memory {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory{data: make([]byte, capacity)}
}

// Capacity returns the number of addressable bytes.
func (m *Memory) Capacity() int {
	return len(m.data)
}

func (m *Memory) check(addr, n int) error {
	if addr < 0 || n < 0 || addr > len(m.data)-n {
		return fmt.Errorf("%w: [0x%04X, +%d) capacity 0x%04X", ErrOutOfBounds, addr, n, len(m.data))
	}
	return nil
}

// ReadByteAt returns the byte at addr.
func (m *Memory) ReadByteAt(addr int) (byte, error) {
	if err := m.check(addr, 1); err != nil {
		return 0, err
	}
	return m.data[addr], nil
}

// WriteByteAt stores v at addr.
func (m *Memory) WriteByteAt(addr int, v byte) error {
	if err := m.check(addr, 1); err != nil {
		return err
	}
	m.data[addr] = v
	return nil
}

// ReadWord loads a little-endian word of the given width and sign-extends
// it to 32 bits.
func (m *Memory) ReadWord(addr, width int) (int32, error) {
	if !validWidth(width) {
		return 0, fmt.Errorf("%w: %d", ErrBadWidth, width)
	}
	if err := m.check(addr, width); err != nil {
		return 0, err
	}
	var u uint32
	for i := width - 1; i >= 0; i-- {
		u = u<<8 | uint32(m.data[addr+i])
	}
	return signExtend(u, width), nil
}

// ReadUint loads a little-endian word of the given width without sign
// extension.
func (m *Memory) ReadUint(addr, width int) (uint32, error) {
	v, err := m.ReadWord(addr, width)
	if err != nil {
		return 0, err
	}
	return uint32(v) & widthMask(width), nil
}

// WriteWord stores the low width bytes of v at addr, little-endian.
func (m *Memory) WriteWord(addr, width int, v int32) error {
	if !validWidth(width) {
		return fmt.Errorf("%w: %d", ErrBadWidth, width)
	}
	if err := m.check(addr, width); err != nil {
		return err
	}
	u := uint32(v)
	for i := 0; i < width; i++ {
		m.data[addr+i] = byte(u)
		u >>= 8
	}
	return nil
}

// Load copies data into memory starting at addr.
func (m *Memory) Load(addr int, data []byte) error {
	if err := m.check(addr, len(data)); err != nil {
		return err
	}
	copy(m.data[addr:], data)
	return nil
}

// Slice returns a copy of n bytes starting at addr.
func (m *Memory) Slice(addr, n int) ([]byte, error) {
	if err := m.check(addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.data[addr:addr+n])
	return out, nil
}

// Bytes exposes the backing buffer. Callers that hold on to it see every
// later write.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Reset zeroes the whole memory.
func (m *Memory) Reset() {
	clear(m.data)
}

func validWidth(width int) bool {
	return width == Width8 || width == Width16 || width == Width32
}

func widthMask(width int) uint32 {
	if width >= Width32 {
		return 0xFFFFFFFF
	}
	return 1<<(8*uint(width)) - 1
}

// signExtend interprets the low width bytes of u as a signed value.
func signExtend(u uint32, width int) int32 {
	shift := 32 - 8*uint(width)
	return int32(u<<shift) >> shift
}

