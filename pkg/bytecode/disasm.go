package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var errTruncated = errors.New("truncated instruction")

// Disassemble returns a listing of code, one instruction per line, with
// addresses computed from base. Bytes that do not decode print as .byte
// directives, so the listing (minus the address column) reassembles to
// the same code.
func Disassemble(code []byte, base int) string {
	var sb strings.Builder
	for _, line := range DisassembleLines(code, base) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DisassembleWithName prefixes the listing with an image summary.
func DisassembleWithName(name string, img *Image) string {
	var sb strings.Builder
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	h := img.Header
	if img.Raw {
		sb.WriteString("; raw code\n")
	} else {
		sb.WriteString(fmt.Sprintf("; RGB bytecode image v%d\n", h.Version))
	}
	sb.WriteString(fmt.Sprintf("; Load: 0x%04X  Entry: 0x%04X  Size: %d\n", h.LoadAddress, h.Entry, len(img.Code)))
	if h.ValueWidth != 0 {
		sb.WriteString(fmt.Sprintf("; Value width: %d\n", h.ValueWidth))
	}
	if len(h.Variables) > 0 {
		sb.WriteString("; Variables:\n")
		for _, v := range h.Variables {
			sb.WriteString(fmt.Sprintf(";   %-12s 0x%04X size=%d\n", v.Name, v.Address, v.Size))
		}
	}
	sb.WriteString("\n")
	sb.WriteString(Disassemble(img.Code, int(h.LoadAddress)))
	return sb.String()
}

// DisassembleLines returns the listing as individual lines.
func DisassembleLines(code []byte, base int) []string {
	var lines []string
	offset := 0
	for offset < len(code) {
		text, n, err := DisassembleInstruction(code, offset, base)
		if err != nil {
			for ; offset < len(code); offset++ {
				lines = append(lines, fmt.Sprintf("%04X  .byte 0x%02X", base+offset, code[offset]))
			}
			break
		}
		lines = append(lines, fmt.Sprintf("%04X  %s", base+offset, text))
		offset += n
	}
	return lines
}

// DisassembleInstruction formats the instruction at code[offset], where
// code[0] is loaded at base. It returns the text and the instruction
// length. Undefined opcodes format as a one-byte .byte directive.
func DisassembleInstruction(code []byte, offset, base int) (string, int, error) {
	if offset < 0 || offset >= len(code) {
		return "<end of code>", 0, errTruncated
	}

	op := Opcode(code[offset])
	info, ok := Lookup(op)
	if !ok {
		return fmt.Sprintf(".byte 0x%02X", code[offset]), 1, nil
	}

	n := info.OperandLen()
	if offset+1+n > len(code) {
		return info.Name, 1, fmt.Errorf("%w: %s at 0x%04X", errTruncated, info.Name, base+offset)
	}
	operand := code[offset+1 : offset+1+n]

	switch info.Operand {
	case OperandNone:
		return info.Name, 1, nil
	case OperandAddr:
		return fmt.Sprintf("%s 0x%04X", info.Name, binary.LittleEndian.Uint16(operand)), 1 + n, nil
	case OperandImm8:
		return fmt.Sprintf("%s %d", info.Name, int8(operand[0])), 1 + n, nil
	case OperandImm16:
		return fmt.Sprintf("%s %d", info.Name, int16(binary.LittleEndian.Uint16(operand))), 1 + n, nil
	case OperandImm32:
		return fmt.Sprintf("%s %d", info.Name, int32(binary.LittleEndian.Uint32(operand))), 1 + n, nil
	case OperandRel8:
		rel := int(int8(operand[0]))
		target := base + offset + 1 + n + rel
		return fmt.Sprintf("%s %+d ; -> %04X", info.Name, rel, target), 1 + n, nil
	case OperandCallID:
		return fmt.Sprintf("%s %d", info.Name, operand[0]), 1 + n, nil
	default:
		return info.Name, 1 + n, nil
	}
}

// InstructionCount returns the number of instructions in code, counting
// undecodable bytes individually.
func InstructionCount(code []byte) int {
	count := 0
	offset := 0
	for offset < len(code) {
		_, n, err := DisassembleInstruction(code, offset, 0)
		if err != nil {
			return count + len(code) - offset
		}
		count++
		offset += n
	}
	return count
}
