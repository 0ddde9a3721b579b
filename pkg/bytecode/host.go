package bytecode

import (
	"fmt"
	"io"
	"sync"
)

// CallHandler services the Call instruction. The id is the raw operand
// byte. Returning an error faults the run with FaultInvalidCall.
type CallHandler interface {
	HandleCall(id byte, c *CallContext) error
}

// CallHandlerFunc adapts a function to CallHandler.
type CallHandlerFunc func(id byte, c *CallContext) error

// HandleCall calls f(id, c).
func (f CallHandlerFunc) HandleCall(id byte, c *CallContext) error {
	return f(id, c)
}

// CallContext is the view of the machine handed to call handlers. Stack
// operations go through the engine's bounds checks; the instruction
// pointer is not reachable from here.
type CallContext struct {
	vm *VM
}

// Memory returns the machine memory.
func (c *CallContext) Memory() *Memory {
	return c.vm.mem
}

// Width returns the stack value width in bytes.
func (c *CallContext) Width() int {
	return c.vm.cfg.ValueWidth
}

// Pop removes and returns the top of stack.
func (c *CallContext) Pop() (int32, error) {
	return c.vm.pop()
}

// PopN pops n values and returns them in push order, so the first
// argument a program pushed comes first.
func (c *CallContext) PopN(n int) ([]int32, error) {
	if err := c.vm.need(n); err != nil {
		return nil, err
	}
	args := make([]int32, n)
	for i := n - 1; i >= 0; i-- {
		v, err := c.vm.pop()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// Push pushes v, truncated to the value width.
func (c *CallContext) Push(v int32) error {
	return c.vm.push(v)
}

// Peek returns the top of stack without removing it.
func (c *CallContext) Peek() (int32, error) {
	return c.vm.top()
}

// Depth returns the number of values between the stack pointer and the
// stack top.
func (c *CallContext) Depth() int {
	d := (c.vm.cfg.StackTop - c.vm.sp) / c.vm.cfg.ValueWidth
	if d < 0 {
		return 0
	}
	return d
}

// CallFunc handles a single call id.
type CallFunc func(c *CallContext) error

// CallTable is a CallHandler dispatching on the call id. Ids without a
// registered function fail with ErrUnknownCall.
type CallTable struct {
	mu    sync.RWMutex
	funcs map[byte]CallFunc
	names map[byte]string
}

// NewCallTable creates an empty table.
func NewCallTable() *CallTable {
	return &CallTable{
		funcs: make(map[byte]CallFunc),
		names: make(map[byte]string),
	}
}

// Register binds fn to id, replacing any earlier binding.
func (t *CallTable) Register(id byte, name string, fn CallFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcs[id] = fn
	t.names[id] = name
}

// Lookup returns the function bound to id.
func (t *CallTable) Lookup(id byte) (CallFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.funcs[id]
	return fn, ok
}

// Name returns the registered name of id, or "call<id>".
func (t *CallTable) Name(id byte) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if name, ok := t.names[id]; ok {
		return name
	}
	return fmt.Sprintf("call%d", id)
}

// IDs returns the registered ids in ascending order.
func (t *CallTable) IDs() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]byte, 0, len(t.funcs))
	for id := 0; id < 256; id++ {
		if _, ok := t.funcs[byte(id)]; ok {
			ids = append(ids, byte(id))
		}
	}
	return ids
}

// HandleCall implements CallHandler.
func (t *CallTable) HandleCall(id byte, c *CallContext) error {
	fn, ok := t.Lookup(id)
	if !ok || fn == nil {
		return fmt.Errorf("%w: %d", ErrUnknownCall, id)
	}
	return fn(c)
}

// OutputSink receives the bytes written by Out.
type OutputSink interface {
	Emit(b byte) error
}

// OutputFunc adapts a function to OutputSink.
type OutputFunc func(b byte) error

// Emit calls f(b).
func (f OutputFunc) Emit(b byte) error {
	return f(b)
}

// WriterSink forwards each byte to an io.Writer.
type WriterSink struct {
	W io.Writer
}

// Emit writes b.
func (s WriterSink) Emit(b byte) error {
	_, err := s.W.Write([]byte{b})
	return err
}

// BufferSink collects output in memory.
type BufferSink struct {
	buf []byte
}

// Emit appends b.
func (s *BufferSink) Emit(b byte) error {
	s.buf = append(s.buf, b)
	return nil
}

// Bytes returns the collected output.
func (s *BufferSink) Bytes() []byte {
	return s.buf
}
