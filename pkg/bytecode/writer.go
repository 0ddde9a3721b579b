package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrJumpTooFar is returned when a relative jump does not fit in int8.
	ErrJumpTooFar = errors.New("jump offset out of range")

	// ErrDuplicateLabel is returned when a label is defined twice.
	ErrDuplicateLabel = errors.New("duplicate label")

	// ErrUndefinedLabel is returned when a jump names a label never defined.
	ErrUndefinedLabel = errors.New("undefined label")
)

type fixup struct {
	at    int // offset of the rel8 placeholder
	label string
}

// Writer assembles code in memory. Offsets returned by its methods are
// relative to the start of the code; Addr converts them to absolute
// addresses using the load base.
type Writer struct {
	base   int
	code   []byte
	labels map[string]int
	fixups []fixup
	vars   []Variable
}

// NewWriter creates a writer for code that will be loaded at base.
func NewWriter(base int) *Writer {
	return &Writer{
		base:   base,
		code:   make([]byte, 0, 64),
		labels: make(map[string]int),
	}
}

// Base returns the load address.
func (w *Writer) Base() int {
	return w.base
}

// Offset returns the offset of the next byte.
func (w *Writer) Offset() int {
	return len(w.code)
}

// Addr returns the absolute address of the next byte.
func (w *Writer) Addr() int {
	return w.base + len(w.code)
}

// Emit appends a single-byte opcode.
func (w *Writer) Emit(op Opcode) int {
	offset := len(w.code)
	w.code = append(w.code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (w *Writer) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(w.code)
	w.code = append(w.code, byte(op))
	w.code = append(w.code, operands...)
	return offset
}

// Raw appends bytes verbatim.
func (w *Writer) Raw(data ...byte) int {
	offset := len(w.code)
	w.code = append(w.code, data...)
	return offset
}

func (w *Writer) emitAddr(op Opcode, addr uint16) int {
	return w.EmitWithOperand(op, binary.LittleEndian.AppendUint16(nil, addr)...)
}

// Push emits Push addr.
func (w *Writer) Push(addr uint16) int { return w.emitAddr(OpPush, addr) }

// Pop emits Pop addr.
func (w *Writer) Pop(addr uint16) int { return w.emitAddr(OpPop, addr) }

// Push8 emits Push8 addr.
func (w *Writer) Push8(addr uint16) int { return w.emitAddr(OpPush8, addr) }

// Pop8 emits Pop8 addr.
func (w *Writer) Pop8(addr uint16) int { return w.emitAddr(OpPop8, addr) }

// PushConst8 emits PushConst8 v.
func (w *Writer) PushConst8(v int8) int {
	return w.EmitWithOperand(OpPushConst8, byte(v))
}

// PushConst16 emits PushConst16 v.
func (w *Writer) PushConst16(v int16) int {
	return w.EmitWithOperand(OpPushConst16, binary.LittleEndian.AppendUint16(nil, uint16(v))...)
}

// PushConst32 emits PushConst32 v.
func (w *Writer) PushConst32(v int32) int {
	return w.EmitWithOperand(OpPushConst32, binary.LittleEndian.AppendUint32(nil, uint32(v))...)
}

// PushConst emits the narrowest PushConst encoding holding v.
func (w *Writer) PushConst(v int32) int {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return w.PushConst8(int8(v))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return w.PushConst16(int16(v))
	default:
		return w.PushConst32(v)
	}
}

// Add8 emits Add8 v.
func (w *Writer) Add8(v int8) int {
	return w.EmitWithOperand(OpAdd8, byte(v))
}

// Call emits Call id.
func (w *Writer) Call(id byte) int {
	return w.EmitWithOperand(OpCall, id)
}

// Jump emits a relative jump with an explicit offset.
func (w *Writer) Jump(op Opcode, rel int8) int {
	return w.EmitWithOperand(op, byte(rel))
}

// EmitJump emits a jump with a placeholder offset and returns the offset
// of the placeholder for PatchJump.
func (w *Writer) EmitJump(op Opcode) int {
	offset := w.EmitWithOperand(op, 0)
	return offset + 1
}

// PatchJump points the placeholder at the current offset.
func (w *Writer) PatchJump(placeholder int) error {
	return w.PatchJumpTo(placeholder, len(w.code))
}

// PatchJumpTo points the placeholder at target (a code offset).
func (w *Writer) PatchJumpTo(placeholder, target int) error {
	if placeholder < 1 || placeholder >= len(w.code) || !Opcode(w.code[placeholder-1]).IsJump() {
		return fmt.Errorf("no jump placeholder at offset %d", placeholder)
	}
	delta := target - (placeholder + 1)
	if delta < math.MinInt8 || delta > math.MaxInt8 {
		return fmt.Errorf("%w: %d from offset %d", ErrJumpTooFar, delta, placeholder-1)
	}
	w.code[placeholder] = byte(int8(delta))
	return nil
}

// Label defines name at the current offset.
func (w *Writer) Label(name string) error {
	if _, ok := w.labels[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLabel, name)
	}
	w.labels[name] = len(w.code)
	return nil
}

// LabelOffset returns the offset a label was defined at.
func (w *Writer) LabelOffset(name string) (int, bool) {
	off, ok := w.labels[name]
	return off, ok
}

// JumpTo emits a jump to a label, defined before or after this point.
func (w *Writer) JumpTo(op Opcode, label string) int {
	placeholder := w.EmitJump(op)
	w.fixups = append(w.fixups, fixup{at: placeholder, label: label})
	return placeholder - 1
}

// DefineVariable records a variable for the image header.
func (w *Writer) DefineVariable(name string, addr uint16, size uint8) {
	w.vars = append(w.vars, Variable{Name: name, Address: addr, Size: size})
}

// Bytes resolves label jumps and returns the code.
func (w *Writer) Bytes() ([]byte, error) {
	for _, f := range w.fixups {
		target, ok := w.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUndefinedLabel, f.label)
		}
		if err := w.PatchJumpTo(f.at, target); err != nil {
			return nil, fmt.Errorf("jump to %s: %w", f.label, err)
		}
	}
	return w.code, nil
}

// Image resolves the code and wraps it in an image entered at the given
// code offset.
func (w *Writer) Image(name string, entry int) (*Image, error) {
	code, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	img := NewImage(code)
	img.Header.Name = name
	img.Header.LoadAddress = uint16(w.base)
	img.Header.Entry = uint16(w.base + entry)
	img.Header.Variables = append([]Variable(nil), w.vars...)
	return img, nil
}
