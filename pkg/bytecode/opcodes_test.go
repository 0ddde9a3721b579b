package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	if got := OpcodeCount(); got != 33 {
		t.Errorf("OpcodeCount() = %d, want 33", got)
	}
	if got := len(AllOpcodes()); got != OpcodeCount() {
		t.Errorf("len(AllOpcodes()) = %d, want %d", got, OpcodeCount())
	}
}

func TestOpcodeValues(t *testing.T) {
	tests := []struct {
		op   Opcode
		code byte
		name string
	}{
		{OpNoop, 0x00, "NOOP"},
		{OpPush, 0x01, "PUSH"},
		{OpPop, 0x02, "POP"},
		{OpPushConst8, 0x03, "PUSHCONST8"},
		{OpPushConst16, 0x04, "PUSHCONST16"},
		{OpPushConst32, 0x05, "PUSHCONST32"},
		{OpDup, 0x06, "DUP"},
		{OpSwap, 0x07, "SWAP"},
		{OpPop8, 0x08, "POP8"},
		{OpPush8, 0x09, "PUSH8"},
		{OpConsume, 0x0A, "CONSUME"},
		{OpOut, 0x0E, "OUT"},
		{OpHalt, 0x0F, "HALT"},
		{OpAdd, 0x10, "ADD"},
		{OpSub, 0x11, "SUB"},
		{OpMul, 0x12, "MUL"},
		{OpDiv, 0x13, "DIV"},
		{OpMod, 0x14, "MOD"},
		{OpInv, 0x15, "INV"},
		{OpAbs, 0x16, "ABS"},
		{OpAdd8, 0x17, "ADD8"},
		{OpJrnz, 0x20, "JRNZ"},
		{OpJrz, 0x21, "JRZ"},
		{OpJr, 0x22, "JR"},
		{OpCall, 0x23, "CALL"},
		{OpEq, 0x30, "EQ"},
		{OpNeq, 0x31, "NEQ"},
		{OpLt, 0x32, "LT"},
		{OpBt, 0x33, "BT"},
		{OpLte, 0x34, "LTE"},
		{OpBte, 0x35, "BTE"},
		{OpSin, 0x40, "SIN"},
		{OpCos, 0x41, "COS"},
	}

	for _, tt := range tests {
		if byte(tt.op) != tt.code {
			t.Errorf("%s = 0x%02X, want 0x%02X", tt.name, byte(tt.op), tt.code)
		}
		if tt.op.String() != tt.name {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", tt.code, tt.op.String(), tt.name)
		}
	}
}

func TestReservedRanges(t *testing.T) {
	ranges := [][2]int{{0x0B, 0x0D}, {0x18, 0x1F}, {0x24, 0x2F}, {0x36, 0x3F}, {0x42, 0xFF}}
	for _, r := range ranges {
		for b := r[0]; b <= r[1]; b++ {
			if Opcode(b).Valid() {
				t.Errorf("0x%02X should be reserved", b)
			}
		}
	}
	if got := Opcode(0x0C).String(); got != "UNKNOWN(0x0C)" {
		t.Errorf("String() of reserved byte = %q", got)
	}
}

func TestOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNoop, 0},
		{OpPush, 2},
		{OpPop, 2},
		{OpPushConst8, 1},
		{OpPushConst16, 2},
		{OpPushConst32, 4},
		{OpPop8, 2},
		{OpPush8, 2},
		{OpAdd8, 1},
		{OpJrnz, 1},
		{OpJrz, 1},
		{OpJr, 1},
		{OpCall, 1},
		{OpSin, 0},
	}

	for _, tt := range tests {
		if got := tt.op.OperandLen(); got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
		if got := tt.op.InstructionLen(); got != tt.want+1 {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, got, tt.want+1)
		}
	}
}

func TestOpcodeClassification(t *testing.T) {
	jumps := map[Opcode]bool{OpJrnz: true, OpJrz: true, OpJr: true}
	binary := map[Opcode]bool{
		OpAdd: true, OpSub: true, OpMul: true, OpDiv: true, OpMod: true,
		OpEq: true, OpNeq: true, OpLt: true, OpBt: true, OpLte: true, OpBte: true,
	}
	for _, op := range AllOpcodes() {
		if op.IsJump() != jumps[op] {
			t.Errorf("%s.IsJump() = %v", op, op.IsJump())
		}
		if op.IsBinary() != binary[op] {
			t.Errorf("%s.IsBinary() = %v", op, op.IsBinary())
		}
		if binary[op] {
			info := GetOpcodeInfo(op)
			if info.StackPop != 2 || info.StackPush != 1 {
				t.Errorf("%s stack effect = -%d +%d", op, info.StackPop, info.StackPush)
			}
		}
	}
}

func TestOpcodeByName(t *testing.T) {
	for _, op := range AllOpcodes() {
		got, ok := OpcodeByName(strings.ToLower(op.String()))
		if !ok || got != op {
			t.Errorf("OpcodeByName(%q) = %v, %v", strings.ToLower(op.String()), got, ok)
		}
	}
	if _, ok := OpcodeByName("tan"); ok {
		t.Error("OpcodeByName(tan) should fail")
	}
}
