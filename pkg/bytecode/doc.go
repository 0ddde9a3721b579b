// Package bytecode provides the stack-based virtual machine that runs LED
// effect programs, together with the tools that produce and inspect its
// code.
//
// The bytecode format is designed for:
//   - Dense encoding (one opcode byte, 0-4 little-endian operand bytes)
//   - Trivial decoding (one metadata table drives the engine, the
//     disassembler, the assembler and the writer)
//   - Small targets (no allocation, no floating point, no call frames)
//
// # Architecture Overview
//
//   - Memory: one fixed-capacity byte buffer holding code, variables and the
//     operand stack. All multi-byte access is explicit little-endian and
//     bounds-checked.
//
//   - Opcodes: 33 instructions for stack and memory traffic, integer
//     arithmetic, comparison, relative jumps, host calls and table
//     trigonometry. Every other byte is reserved and faults.
//
//   - VM: the fetch-decode-execute loop. A run ends on Halt, on a Fault, or
//     when the optional step budget runs out, in which case Resume
//     continues it.
//
//   - Host calls: Call hands a raw id to a CallHandler through a
//     CallContext that can touch the stack and memory but never the
//     instruction pointer. Out feeds an OutputSink.
//
//   - Image: raw code, or a "RGBC" header with CBOR metadata (entry, load
//     address, value width, variable table) followed by code.
//
//   - Writer, Assemble and Disassemble: host-side tools for building and
//     reading programs.
//
// # Stack Discipline
//
// The stack starts at Config.StackTop and grows toward lower addresses, one
// value width per push. Pushes that would cross Config.StackFloor fault
// StackUnderflow; pops past StackTop fault StackOverflow. Values are
// int32 in Go, stored truncated to the value width and sign-extended when
// read back.
//
// # Usage
//
//	w := bytecode.NewWriter(0)
//	w.PushConst(5)
//	w.PushConst(3)
//	w.Emit(bytecode.OpAdd)
//	w.Emit(bytecode.OpHalt)
//	code, _ := w.Bytes()
//
//	vm, _ := bytecode.New(bytecode.DefaultConfig())
//	vm.Memory().Load(0, code)
//	res, err := vm.Run(0)
package bytecode
