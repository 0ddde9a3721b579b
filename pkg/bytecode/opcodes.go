package bytecode

import (
	"fmt"
	"strings"
)

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category; the gaps between the
// ranges are reserved and fault when fetched.
type Opcode byte

const (
	// ========================================================================
	// Stack and memory (0x00-0x0F)
	// ========================================================================

	OpNoop        Opcode = 0x00 // No operation
	OpPush        Opcode = 0x01 // Push word at address: OpPush <addr:u16>
	OpPop         Opcode = 0x02 // Pop word to address: OpPop <addr:u16>
	OpPushConst8  Opcode = 0x03 // Push sign-extended immediate: OpPushConst8 <imm:i8>
	OpPushConst16 Opcode = 0x04 // Push sign-extended immediate: OpPushConst16 <imm:i16>
	OpPushConst32 Opcode = 0x05 // Push immediate: OpPushConst32 <imm:i32>
	OpDup         Opcode = 0x06 // Duplicate top of stack
	OpSwap        Opcode = 0x07 // Swap top two stack elements
	OpPop8        Opcode = 0x08 // Pop, store low byte: OpPop8 <addr:u16>
	OpPush8       Opcode = 0x09 // Push zero-extended byte: OpPush8 <addr:u16>
	OpConsume     Opcode = 0x0A // Discard top of stack
	OpOut         Opcode = 0x0E // Pop, emit low byte to the output sink
	OpHalt        Opcode = 0x0F // Stop the run successfully

	// ========================================================================
	// Arithmetic (0x10-0x17)
	// ========================================================================

	OpAdd  Opcode = 0x10 // top = top + rhs
	OpSub  Opcode = 0x11 // top = top - rhs
	OpMul  Opcode = 0x12 // top = top * rhs
	OpDiv  Opcode = 0x13 // top = top / rhs, faults on zero
	OpMod  Opcode = 0x14 // top = top % rhs, faults on zero
	OpInv  Opcode = 0x15 // Negate top in place
	OpAbs  Opcode = 0x16 // Absolute value of top in place
	OpAdd8 Opcode = 0x17 // Add immediate to top: OpAdd8 <imm:i8>

	// ========================================================================
	// Control flow (0x20-0x23)
	// ========================================================================

	OpJrnz Opcode = 0x20 // Pop, jump if nonzero: OpJrnz <rel:i8>
	OpJrz  Opcode = 0x21 // Pop, jump if zero: OpJrz <rel:i8>
	OpJr   Opcode = 0x22 // Jump: OpJr <rel:i8>
	OpCall Opcode = 0x23 // Invoke host call: OpCall <id:u8>

	// ========================================================================
	// Comparison (0x30-0x35)
	// ========================================================================

	OpEq  Opcode = 0x30 // top = top == rhs
	OpNeq Opcode = 0x31 // top = top != rhs
	OpLt  Opcode = 0x32 // top = top < rhs
	OpBt  Opcode = 0x33 // top = top > rhs
	OpLte Opcode = 0x34 // top = top <= rhs
	OpBte Opcode = 0x35 // top = top >= rhs

	// ========================================================================
	// Trigonometry (0x40-0x41)
	// ========================================================================

	OpSin Opcode = 0x40 // top = sine table[low byte of top]
	OpCos Opcode = 0x41 // top = sine table[low byte of top + 64]
)

// OperandKind describes the bytes that follow an opcode.
type OperandKind uint8

const (
	OperandNone   OperandKind = iota
	OperandAddr               // u16 little-endian absolute address
	OperandImm8               // i8 immediate
	OperandImm16              // i16 little-endian immediate
	OperandImm32              // i32 little-endian immediate
	OperandRel8               // i8 offset relative to the next instruction
	OperandCallID             // u8 host call id
)

var operandLens = [...]int{
	OperandNone:   0,
	OperandAddr:   2,
	OperandImm8:   1,
	OperandImm16:  2,
	OperandImm32:  4,
	OperandRel8:   1,
	OperandCallID: 1,
}

// Len returns the number of operand bytes of this kind.
func (k OperandKind) Len() int {
	if int(k) < len(operandLens) {
		return operandLens[k]
	}
	return 0
}

// OpcodeInfo provides metadata about each opcode for decoding, debugging
// and validation.
type OpcodeInfo struct {
	Name      string      // Mnemonic
	Operand   OperandKind // Operand layout
	StackPop  int         // Values consumed from the stack
	StackPush int         // Values produced on the stack
}

// OperandLen returns the number of operand bytes following the opcode.
func (i OpcodeInfo) OperandLen() int {
	return i.Operand.Len()
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack and memory
	OpNoop:        {"NOOP", OperandNone, 0, 0},
	OpPush:        {"PUSH", OperandAddr, 0, 1},
	OpPop:         {"POP", OperandAddr, 1, 0},
	OpPushConst8:  {"PUSHCONST8", OperandImm8, 0, 1},
	OpPushConst16: {"PUSHCONST16", OperandImm16, 0, 1},
	OpPushConst32: {"PUSHCONST32", OperandImm32, 0, 1},
	OpDup:         {"DUP", OperandNone, 1, 2},
	OpSwap:        {"SWAP", OperandNone, 2, 2},
	OpPop8:        {"POP8", OperandAddr, 1, 0},
	OpPush8:       {"PUSH8", OperandAddr, 0, 1},
	OpConsume:     {"CONSUME", OperandNone, 1, 0},
	OpOut:         {"OUT", OperandNone, 1, 0},
	OpHalt:        {"HALT", OperandNone, 0, 0},

	// Arithmetic
	OpAdd:  {"ADD", OperandNone, 2, 1},
	OpSub:  {"SUB", OperandNone, 2, 1},
	OpMul:  {"MUL", OperandNone, 2, 1},
	OpDiv:  {"DIV", OperandNone, 2, 1},
	OpMod:  {"MOD", OperandNone, 2, 1},
	OpInv:  {"INV", OperandNone, 1, 1},
	OpAbs:  {"ABS", OperandNone, 1, 1},
	OpAdd8: {"ADD8", OperandImm8, 1, 1},

	// Control flow
	OpJrnz: {"JRNZ", OperandRel8, 1, 0},
	OpJrz:  {"JRZ", OperandRel8, 1, 0},
	OpJr:   {"JR", OperandRel8, 0, 0},
	OpCall: {"CALL", OperandCallID, 0, 0}, // handlers may touch the stack

	// Comparison
	OpEq:  {"EQ", OperandNone, 2, 1},
	OpNeq: {"NEQ", OperandNone, 2, 1},
	OpLt:  {"LT", OperandNone, 2, 1},
	OpBt:  {"BT", OperandNone, 2, 1},
	OpLte: {"LTE", OperandNone, 2, 1},
	OpBte: {"BTE", OperandNone, 2, 1},

	// Trigonometry
	OpSin: {"SIN", OperandNone, 1, 1},
	OpCos: {"COS", OperandNone, 1, 1},
}

// opcodesByName is the reverse index used by the assembler.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// Lookup returns the metadata for an opcode and whether it is defined.
func Lookup(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// OpcodeByName resolves a mnemonic, ignoring case.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodesByName[strings.ToUpper(name)]
	return op, ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether the opcode is part of the instruction set.
// Every other byte is reserved and faults when executed.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen()
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a relative jump.
func (op Opcode) IsJump() bool {
	return op >= OpJrnz && op <= OpJr
}

// IsBinary returns true if this opcode pops one operand and rewrites the
// new top in place.
func (op Opcode) IsBinary() bool {
	return (op >= OpAdd && op <= OpMod) || (op >= OpEq && op <= OpBte)
}

// AllOpcodes returns a slice of all defined opcodes in ascending order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for b := 0; b < 256; b++ {
		if Opcode(b).Valid() {
			opcodes = append(opcodes, Opcode(b))
		}
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
