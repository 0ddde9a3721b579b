package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrSyntax is wrapped by every assembler error.
var ErrSyntax = errors.New("syntax error")

// Assemble translates assembly source into an image.
//
// One instruction per line, mnemonics as printed by the disassembler
// (case-insensitive). ';' and '#' start comments. "name:" defines a label.
// Jump operands are labels or signed offsets relative to the next
// instruction; address operands may name a variable declared with .var.
// "pushconst v" picks the narrowest encoding.
//
// Directives:
//
//	.name   text          image name
//	.load   addr          load address (before any code)
//	.entry  label|addr    entry point, default the load address
//	.width  1|2|4         value width recorded in the header
//	.var    name addr [size]
//	.byte   v, ...        raw bytes
//	.word   v, ...        16-bit little-endian words
//	.long   v, ...        32-bit little-endian words
//	.zero   n             n zero bytes
func Assemble(src string) (*Image, error) {
	a := &assembler{
		w:    NewWriter(0),
		vars: make(map[string]uint16),
	}
	for i, raw := range strings.Split(src, "\n") {
		if err := a.line(raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return a.finish()
}

type assembler struct {
	w     *Writer
	vars  map[string]uint16
	name  string
	entry string
	width uint8
}

func (a *assembler) line(raw string) error {
	s := strings.TrimSpace(stripComment(raw))
	for {
		i := strings.IndexByte(s, ':')
		if i <= 0 || !isIdent(s[:i]) {
			break
		}
		if err := a.w.Label(s[:i]); err != nil {
			return fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		s = strings.TrimSpace(s[i+1:])
	}
	if s == "" {
		return nil
	}

	if head, rest, _ := strings.Cut(s, " "); strings.EqualFold(head, ".name") {
		return a.setName(strings.TrimSpace(rest))
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	mnemonic, args := fields[0], fields[1:]
	if strings.HasPrefix(mnemonic, ".") {
		return a.directive(strings.ToLower(mnemonic), args)
	}
	return a.instruction(mnemonic, args)
}

func (a *assembler) setName(text string) error {
	if strings.HasPrefix(text, `"`) {
		unq, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("%w: bad name %s", ErrSyntax, text)
		}
		text = unq
	}
	a.name = text
	return nil
}

func (a *assembler) instruction(mnemonic string, args []string) error {
	if strings.EqualFold(mnemonic, "pushconst") {
		if len(args) != 1 {
			return fmt.Errorf("%w: pushconst takes one operand", ErrSyntax)
		}
		v, err := parseNumber(args[0], math.MinInt32, math.MaxUint32)
		if err != nil {
			return err
		}
		a.w.PushConst(int32(v))
		return nil
	}

	op, ok := OpcodeByName(mnemonic)
	if !ok {
		return fmt.Errorf("%w: unknown mnemonic %q", ErrSyntax, mnemonic)
	}
	info := GetOpcodeInfo(op)
	if info.Operand == OperandNone {
		if len(args) != 0 {
			return fmt.Errorf("%w: %s takes no operand", ErrSyntax, info.Name)
		}
		a.w.Emit(op)
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: %s takes one operand", ErrSyntax, info.Name)
	}
	arg := args[0]

	switch info.Operand {
	case OperandAddr:
		if addr, ok := a.vars[arg]; ok {
			a.w.emitAddr(op, addr)
			return nil
		}
		v, err := parseNumber(arg, 0, math.MaxUint16)
		if err != nil {
			return err
		}
		a.w.emitAddr(op, uint16(v))
	case OperandImm8:
		v, err := parseNumber(arg, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		a.w.EmitWithOperand(op, byte(int8(v)))
	case OperandImm16:
		v, err := parseNumber(arg, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		a.w.EmitWithOperand(op, binary.LittleEndian.AppendUint16(nil, uint16(v))...)
	case OperandImm32:
		v, err := parseNumber(arg, math.MinInt32, math.MaxUint32)
		if err != nil {
			return err
		}
		a.w.EmitWithOperand(op, binary.LittleEndian.AppendUint32(nil, uint32(v))...)
	case OperandRel8:
		if isIdent(arg) {
			a.w.JumpTo(op, arg)
			return nil
		}
		v, err := parseNumber(arg, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		a.w.Jump(op, int8(v))
	case OperandCallID:
		v, err := parseNumber(arg, 0, math.MaxUint8)
		if err != nil {
			return err
		}
		a.w.Call(byte(v))
	}
	return nil
}

func (a *assembler) directive(name string, args []string) error {
	switch name {
	case ".byte":
		return a.data(args, 1, math.MinInt8, math.MaxUint8)
	case ".word":
		return a.data(args, 2, math.MinInt16, math.MaxUint16)
	case ".long":
		return a.data(args, 4, math.MinInt32, math.MaxUint32)
	case ".zero":
		if len(args) != 1 {
			return fmt.Errorf("%w: .zero takes a count", ErrSyntax)
		}
		n, err := parseNumber(args[0], 0, DefaultCapacity)
		if err != nil {
			return err
		}
		a.w.Raw(make([]byte, n)...)
	case ".entry":
		if len(args) != 1 {
			return fmt.Errorf("%w: .entry takes a label or address", ErrSyntax)
		}
		a.entry = args[0]
	case ".load":
		if len(args) != 1 {
			return fmt.Errorf("%w: .load takes an address", ErrSyntax)
		}
		if a.w.Offset() != 0 || len(a.w.labels) != 0 {
			return fmt.Errorf("%w: .load after code", ErrSyntax)
		}
		v, err := parseNumber(args[0], 0, math.MaxUint16)
		if err != nil {
			return err
		}
		a.w.base = int(v)
	case ".width":
		if len(args) != 1 {
			return fmt.Errorf("%w: .width takes 1, 2 or 4", ErrSyntax)
		}
		v, err := parseNumber(args[0], 1, 4)
		if err != nil {
			return err
		}
		if !validWidth(int(v)) {
			return fmt.Errorf("%w: .width %d", ErrSyntax, v)
		}
		a.width = uint8(v)
	case ".var":
		if len(args) < 2 || len(args) > 3 || !isIdent(args[0]) {
			return fmt.Errorf("%w: .var name addr [size]", ErrSyntax)
		}
		addr, err := parseNumber(args[1], 0, math.MaxUint16)
		if err != nil {
			return err
		}
		size := int64(a.width)
		if size == 0 {
			size = DefaultValueWidth
		}
		if len(args) == 3 {
			if size, err = parseNumber(args[2], 1, 4); err != nil {
				return err
			}
		}
		if _, dup := a.vars[args[0]]; dup {
			return fmt.Errorf("%w: variable %s redefined", ErrSyntax, args[0])
		}
		a.vars[args[0]] = uint16(addr)
		a.w.DefineVariable(args[0], uint16(addr), uint8(size))
	default:
		return fmt.Errorf("%w: unknown directive %s", ErrSyntax, name)
	}
	return nil
}

func (a *assembler) data(args []string, size int, lo, hi int64) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing data", ErrSyntax)
	}
	for _, arg := range args {
		v, err := parseNumber(arg, lo, hi)
		if err != nil {
			return err
		}
		u := uint32(v)
		for i := 0; i < size; i++ {
			a.w.Raw(byte(u))
			u >>= 8
		}
	}
	return nil
}

func (a *assembler) finish() (*Image, error) {
	entry := 0
	switch {
	case a.entry == "":
	case isIdent(a.entry):
		off, ok := a.w.LabelOffset(a.entry)
		if !ok {
			return nil, fmt.Errorf("%w: .entry: %w: %s", ErrSyntax, ErrUndefinedLabel, a.entry)
		}
		entry = off
	default:
		v, err := parseNumber(a.entry, 0, math.MaxUint16)
		if err != nil {
			return nil, fmt.Errorf(".entry: %w", err)
		}
		entry = int(v) - a.w.base
	}

	img, err := a.w.Image(a.name, entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	img.Header.ValueWidth = a.width
	return img, nil
}

func stripComment(s string) string {
	if i := strings.IndexAny(s, ";#"); i >= 0 {
		return s[:i]
	}
	return s
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '.'):
		default:
			return false
		}
	}
	return true
}

// parseNumber accepts decimal, 0x hex, 0b binary and 0o octal, with an
// optional sign, and checks the result lies in [lo, hi].
func parseNumber(s string, lo, hi int64) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrSyntax, s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %d out of range [%d, %d]", ErrSyntax, v, lo, hi)
	}
	return v, nil
}
