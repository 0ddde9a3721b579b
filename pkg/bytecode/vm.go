package bytecode

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rgbvm.bytecode")

const (
	// DefaultValueWidth is the stack word size in bytes.
	DefaultValueWidth = Width32

	// DefaultStackFloor is the low-water mark below which pushes fault.
	DefaultStackFloor = 1024

	// DefaultSlice is the number of instructions RunContext executes
	// between cancellation checks.
	DefaultSlice = 4096
)

// ErrInvalidConfig is returned by New for inconsistent machine settings.
var ErrInvalidConfig = errors.New("invalid machine configuration")

// Status reports how a run ended.
type Status uint8

const (
	StatusHalted  Status = iota // Halt executed
	StatusFaulted               // a fault stopped the run
	StatusYielded               // the step budget ran out; Resume continues
)

func (s Status) String() string {
	switch s {
	case StatusHalted:
		return "halted"
	case StatusFaulted:
		return "faulted"
	case StatusYielded:
		return "yielded"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

// Result is the outcome of Run, RunAt, RunContext, Resume or Step.
type Result struct {
	Status Status
	Fault  *Fault // set when Status is StatusFaulted
	State  State
}

// Err returns the fault as an error, or nil.
func (r Result) Err() error {
	if r.Fault == nil {
		return nil
	}
	return r.Fault
}

// Config describes the machine.
//
// The stack grows downward from StackTop. A push that would move the stack
// pointer below StackFloor faults StackUnderflow; a pop that would move it
// past StackTop faults StackOverflow.
type Config struct {
	Capacity   int    // Memory size in bytes; 0 means DefaultCapacity
	ValueWidth int    // Stack word size: 1, 2 or 4; 0 means 4
	StackFloor int    // Low-water mark; 0 disables the check
	StackTop   int    // Initial stack pointer; 0 means Capacity
	StepBudget uint64 // Instructions per Run or Resume; 0 runs to completion
	Trace      bool   // Log every instruction at debug level
}

// DefaultConfig returns the reference machine: 64 KiB, 32-bit values and a
// stack floor at 1024.
func DefaultConfig() Config {
	return Config{
		Capacity:   DefaultCapacity,
		ValueWidth: DefaultValueWidth,
		StackFloor: DefaultStackFloor,
		StackTop:   DefaultCapacity,
	}
}

func (c Config) withDefaults() Config {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.ValueWidth == 0 {
		c.ValueWidth = DefaultValueWidth
	}
	if c.StackTop == 0 {
		c.StackTop = c.Capacity
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.Capacity < 0:
		return fmt.Errorf("%w: capacity %d", ErrInvalidConfig, c.Capacity)
	case !validWidth(c.ValueWidth):
		return fmt.Errorf("%w: value width %d", ErrInvalidConfig, c.ValueWidth)
	case c.StackTop < 0 || c.StackTop > c.Capacity:
		return fmt.Errorf("%w: stack top 0x%X outside capacity 0x%X", ErrInvalidConfig, c.StackTop, c.Capacity)
	case c.StackFloor < 0 || c.StackFloor > c.StackTop:
		return fmt.Errorf("%w: stack floor 0x%X above stack top 0x%X", ErrInvalidConfig, c.StackFloor, c.StackTop)
	}
	return nil
}

// Option configures a VM.
type Option func(*VM)

// WithCallHandler installs the handler invoked by Call.
func WithCallHandler(h CallHandler) Option {
	return func(vm *VM) { vm.calls = h }
}

// WithOutput installs the sink fed by Out.
func WithOutput(s OutputSink) Option {
	return func(vm *VM) { vm.out = s }
}

// WithMemory runs the VM over an existing memory. Its capacity overrides
// Config.Capacity.
func WithMemory(m *Memory) Option {
	return func(vm *VM) { vm.mem = m }
}

// WithLogger replaces the package logger used for tracing.
func WithLogger(l commonlog.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// VM is the execution engine. It owns its memory and is not safe for
// concurrent use.
type VM struct {
	cfg   Config
	mem   *Memory
	calls CallHandler
	out   OutputSink
	log   commonlog.Logger

	ip        int
	sp        int
	executed  uint64
	suspended bool

	callCtx CallContext
}

// New creates a VM. Memory is allocated unless WithMemory is given.
func New(cfg Config, opts ...Option) (*VM, error) {
	vm := &VM{log: log}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.mem != nil {
		cfg.Capacity = vm.mem.Capacity()
		if cfg.Capacity == 0 {
			return nil, fmt.Errorf("%w: empty memory", ErrInvalidConfig)
		}
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if vm.mem == nil {
		vm.mem = NewMemory(cfg.Capacity)
	}
	vm.cfg = cfg
	vm.sp = cfg.StackTop
	vm.callCtx.vm = vm
	return vm, nil
}

// Memory returns the VM's memory.
func (vm *VM) Memory() *Memory {
	return vm.mem
}

// Config returns the effective configuration.
func (vm *VM) Config() Config {
	return vm.cfg
}

// State returns a snapshot of the registers.
func (vm *VM) State() State {
	return State{IP: vm.ip, SP: vm.sp, Executed: vm.executed}
}

// Suspended reports whether a yielded run is waiting for Resume.
func (vm *VM) Suspended() bool {
	return vm.suspended
}

// LoadImage copies an image's code into memory at its load address.
func (vm *VM) LoadImage(img *Image) error {
	return img.LoadInto(vm.mem)
}

// Run executes from entry with the stack pointer at the configured top.
// The returned error is the *Fault when the run faulted.
func (vm *VM) Run(entry int) (Result, error) {
	return vm.RunAt(entry, vm.cfg.StackTop)
}

// RunAt executes from entry with an explicit initial stack pointer.
func (vm *VM) RunAt(entry, sp int) (Result, error) {
	vm.reset(entry, sp)
	res := vm.exec(vm.cfg.StepBudget)
	return res, res.Err()
}

// RunContext is Run with cancellation checked every DefaultSlice
// instructions. On cancellation the run is left suspended and the context
// error is returned alongside a StatusYielded result.
func (vm *VM) RunContext(ctx context.Context, entry int) (Result, error) {
	vm.reset(entry, vm.cfg.StackTop)
	return vm.runSliced(ctx)
}

// Resume continues a run that yielded on its step budget or was
// cancelled.
func (vm *VM) Resume() (Result, error) {
	if !vm.suspended {
		return Result{State: vm.State()}, ErrNotSuspended
	}
	res := vm.exec(vm.cfg.StepBudget)
	return res, res.Err()
}

// ResumeContext is Resume with the cancellation checks of RunContext.
func (vm *VM) ResumeContext(ctx context.Context) (Result, error) {
	if !vm.suspended {
		return Result{State: vm.State()}, ErrNotSuspended
	}
	return vm.runSliced(ctx)
}

// Step executes exactly one instruction from the current registers.
func (vm *VM) Step() (Result, error) {
	res := vm.exec(1)
	return res, res.Err()
}

func (vm *VM) reset(entry, sp int) {
	vm.ip = entry
	vm.sp = sp
	vm.executed = 0
	vm.suspended = false
}

func (vm *VM) runSliced(ctx context.Context) (Result, error) {
	budget := vm.cfg.StepBudget
	var used uint64
	for {
		if err := ctx.Err(); err != nil {
			vm.suspended = true
			return Result{Status: StatusYielded, State: vm.State()}, err
		}
		n := uint64(DefaultSlice)
		if budget > 0 && budget-used < n {
			n = budget - used
		}
		res := vm.exec(n)
		if res.Status != StatusYielded {
			return res, res.Err()
		}
		used += n
		if budget > 0 && used >= budget {
			return res, nil
		}
	}
}

// exec runs up to budget instructions (0 means unbounded).
func (vm *VM) exec(budget uint64) Result {
	for n := uint64(0); budget == 0 || n < budget; n++ {
		halted, f := vm.step()
		if f != nil {
			vm.suspended = false
			return Result{Status: StatusFaulted, Fault: f, State: f.State}
		}
		if halted {
			vm.suspended = false
			return Result{Status: StatusHalted, State: vm.State()}
		}
	}
	vm.suspended = true
	return Result{Status: StatusYielded, State: vm.State()}
}

// step fetches, decodes and executes one instruction.
func (vm *VM) step() (bool, *Fault) {
	start := vm.ip
	vm.executed++
	b, err := vm.mem.ReadByteAt(start)
	if err != nil {
		return false, vm.fault(FaultOutOfBounds, OpNoop, start, err)
	}
	op := Opcode(b)
	info, ok := Lookup(op)
	if !ok {
		return false, vm.fault(FaultInvalidOpcode, op, start, nil)
	}
	if vm.cfg.Trace && vm.log.AllowLevel(commonlog.Debug) {
		vm.trace(start, op)
	}
	vm.ip++

	var arg int32
	if info.Operand != OperandNone {
		if arg, err = vm.operand(info.Operand); err != nil {
			return false, vm.fault(FaultOutOfBounds, op, start, err)
		}
	}

	halted, err := vm.execute(op, arg)
	if err != nil {
		var he hostError
		if errors.As(err, &he) {
			f := vm.fault(FaultInvalidCall, op, start, he.err)
			if op == OpCall {
				f.CallID = byte(arg)
			}
			return false, f
		}
		return false, vm.fault(faultKindOf(err), op, start, err)
	}
	return halted, nil
}

func (vm *VM) execute(op Opcode, arg int32) (bool, error) {
	w := vm.cfg.ValueWidth

	switch op {
	// ============ Stack and memory ============
	case OpNoop:

	case OpPush:
		v, err := vm.mem.ReadWord(int(uint16(arg)), w)
		if err != nil {
			return false, err
		}
		return false, vm.push(v)

	case OpPop:
		v, err := vm.top()
		if err != nil {
			return false, err
		}
		if err := vm.mem.WriteWord(int(uint16(arg)), w, v); err != nil {
			return false, err
		}
		vm.sp += w

	case OpPushConst8, OpPushConst16, OpPushConst32:
		return false, vm.push(arg)

	case OpDup:
		v, err := vm.top()
		if err != nil {
			return false, err
		}
		return false, vm.push(v)

	case OpSwap:
		if err := vm.need(2); err != nil {
			return false, err
		}
		a, err := vm.mem.ReadWord(vm.sp, w)
		if err != nil {
			return false, err
		}
		b, err := vm.mem.ReadWord(vm.sp+w, w)
		if err != nil {
			return false, err
		}
		if err := vm.mem.WriteWord(vm.sp, w, b); err != nil {
			return false, err
		}
		if err := vm.mem.WriteWord(vm.sp+w, w, a); err != nil {
			return false, err
		}

	case OpPop8:
		v, err := vm.top()
		if err != nil {
			return false, err
		}
		if err := vm.mem.WriteByteAt(int(uint16(arg)), byte(v)); err != nil {
			return false, err
		}
		vm.sp += w

	case OpPush8:
		b, err := vm.mem.ReadByteAt(int(uint16(arg)))
		if err != nil {
			return false, err
		}
		return false, vm.push(int32(b))

	case OpConsume:
		_, err := vm.pop()
		return false, err

	case OpOut:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		return false, vm.emit(byte(v))

	case OpHalt:
		return true, nil

	// ============ Arithmetic ============
	case OpAdd, OpSub, OpMul, OpDiv, OpMod,
		OpEq, OpNeq, OpLt, OpBt, OpLte, OpBte:
		return false, vm.binary(op)

	case OpInv:
		return false, vm.unary(func(v int32) int32 { return -v })

	case OpAbs:
		return false, vm.unary(func(v int32) int32 {
			if v < 0 {
				return -v
			}
			return v
		})

	case OpAdd8:
		return false, vm.unary(func(v int32) int32 { return v + arg })

	// ============ Control flow ============
	case OpJrnz, OpJrz:
		c, err := vm.pop()
		if err != nil {
			return false, err
		}
		if (c != 0) == (op == OpJrnz) {
			vm.ip += int(arg)
		}

	case OpJr:
		vm.ip += int(arg)

	case OpCall:
		return false, vm.invoke(byte(arg))

	// ============ Trigonometry ============
	case OpSin:
		return false, vm.unary(func(v int32) int32 { return int32(Sin(byte(v))) })

	case OpCos:
		return false, vm.unary(func(v int32) int32 { return int32(Cos(byte(v))) })

	default:
		return false, ErrInvalidOpcode
	}
	return false, nil
}

func (vm *VM) binary(op Opcode) error {
	if err := vm.need(2); err != nil {
		return err
	}
	w := vm.cfg.ValueWidth
	rhs, err := vm.mem.ReadWord(vm.sp, w)
	if err != nil {
		return err
	}
	lhs, err := vm.mem.ReadWord(vm.sp+w, w)
	if err != nil {
		return err
	}

	var r int32
	switch op {
	case OpAdd:
		r = lhs + rhs
	case OpSub:
		r = lhs - rhs
	case OpMul:
		r = lhs * rhs
	case OpDiv:
		if rhs == 0 {
			return ErrDivisionByZero
		}
		r = lhs / rhs
	case OpMod:
		if rhs == 0 {
			return ErrDivisionByZero
		}
		r = lhs % rhs
	case OpEq:
		r = boolWord(lhs == rhs)
	case OpNeq:
		r = boolWord(lhs != rhs)
	case OpLt:
		r = boolWord(lhs < rhs)
	case OpBt:
		r = boolWord(lhs > rhs)
	case OpLte:
		r = boolWord(lhs <= rhs)
	case OpBte:
		r = boolWord(lhs >= rhs)
	}
	vm.sp += w
	return vm.mem.WriteWord(vm.sp, w, r)
}

func (vm *VM) unary(fn func(int32) int32) error {
	v, err := vm.top()
	if err != nil {
		return err
	}
	return vm.mem.WriteWord(vm.sp, vm.cfg.ValueWidth, fn(v))
}

func boolWord(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Stack helpers

// need checks that n values sit between the stack pointer and the top.
func (vm *VM) need(n int) error {
	if vm.sp+n*vm.cfg.ValueWidth > vm.cfg.StackTop {
		return ErrStackOverflow
	}
	if vm.sp < 0 {
		return fmt.Errorf("%w: stack at %d", ErrOutOfBounds, vm.sp)
	}
	return nil
}

func (vm *VM) push(v int32) error {
	next := vm.sp - vm.cfg.ValueWidth
	if next < vm.cfg.StackFloor || next < 0 {
		return ErrStackUnderflow
	}
	if err := vm.mem.WriteWord(next, vm.cfg.ValueWidth, v); err != nil {
		return err
	}
	vm.sp = next
	return nil
}

func (vm *VM) pop() (int32, error) {
	v, err := vm.top()
	if err != nil {
		return 0, err
	}
	vm.sp += vm.cfg.ValueWidth
	return v, nil
}

func (vm *VM) top() (int32, error) {
	if err := vm.need(1); err != nil {
		return 0, err
	}
	return vm.mem.ReadWord(vm.sp, vm.cfg.ValueWidth)
}

// Bytecode reading helpers

func (vm *VM) operand(kind OperandKind) (int32, error) {
	n := kind.Len()
	var v int32
	switch kind {
	case OperandAddr, OperandCallID:
		u, err := vm.mem.ReadUint(vm.ip, n)
		if err != nil {
			return 0, err
		}
		v = int32(u)
	default:
		s, err := vm.mem.ReadWord(vm.ip, n)
		if err != nil {
			return 0, err
		}
		v = s
	}
	vm.ip += n
	return v, nil
}

// Host boundary

// hostError marks a failure reported by the call handler or output sink.
type hostError struct{ err error }

func (e hostError) Error() string { return e.err.Error() }
func (e hostError) Unwrap() error { return e.err }

func (vm *VM) invoke(id byte) (err error) {
	if vm.calls == nil {
		return hostError{ErrNoCallHandler}
	}
	defer func() {
		if r := recover(); r != nil {
			err = hostError{fmt.Errorf("call %d panicked: %v", id, r)}
		}
	}()
	if err := vm.calls.HandleCall(id, &vm.callCtx); err != nil {
		return hostError{err}
	}
	return nil
}

func (vm *VM) emit(b byte) (err error) {
	if vm.out == nil {
		return hostError{ErrNoOutput}
	}
	defer func() {
		if r := recover(); r != nil {
			err = hostError{fmt.Errorf("output panicked: %v", r)}
		}
	}()
	if err := vm.out.Emit(b); err != nil {
		return hostError{err}
	}
	return nil
}

// Faults

func (vm *VM) fault(kind FaultKind, op Opcode, ip int, err error) *Fault {
	vm.ip = ip
	return &Fault{
		Kind:  kind,
		Op:    op,
		State: State{IP: ip, SP: vm.sp, Executed: vm.executed},
		Err:   err,
	}
}

// faultKindOf classifies an error raised while executing an instruction.
func faultKindOf(err error) FaultKind {
	switch {
	case errors.Is(err, ErrStackOverflow):
		return FaultStackOverflow
	case errors.Is(err, ErrStackUnderflow):
		return FaultStackUnderflow
	case errors.Is(err, ErrDivisionByZero):
		return FaultDivisionByZero
	case errors.Is(err, ErrOutOfBounds):
		return FaultOutOfBounds
	default:
		return FaultInvalidOpcode
	}
}

func (vm *VM) trace(ip int, op Opcode) {
	line, _, err := DisassembleInstruction(vm.mem.Bytes(), ip, 0)
	if err != nil {
		line = op.String()
	}
	if v, err := vm.top(); err == nil {
		vm.log.Debugf("%04X  %-24s sp=0x%04X top=%d", ip, line, vm.sp, v)
	} else {
		vm.log.Debugf("%04X  %-24s sp=0x%04X", ip, line, vm.sp)
	}
}
