package bytecode

import (
	"errors"
	"fmt"
)

// FaultKind classifies a terminal execution error.
type FaultKind uint8

const (
	FaultNone FaultKind = iota
	// FaultInvalidOpcode: a reserved or unknown byte was fetched as an opcode.
	FaultInvalidOpcode
	// FaultStackOverflow: a pop or read would move the stack pointer past
	// the configured stack top.
	FaultStackOverflow
	// FaultStackUnderflow: a push would move the stack pointer below the
	// stack floor (the low-water mark).
	FaultStackUnderflow
	// FaultDivisionByZero: Div or Mod with a zero right-hand side.
	FaultDivisionByZero
	// FaultInvalidCall: the host call handler or output sink failed.
	FaultInvalidCall
	// FaultOutOfBounds: a fetch, load or store left [0, capacity).
	FaultOutOfBounds
)

// Sentinels matched by errors.Is against a *Fault of the same kind.
var (
	ErrInvalidOpcode  = errors.New("invalid opcode")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrInvalidCall    = errors.New("invalid call")
)

var (
	ErrNoCallHandler = errors.New("no call handler registered")
	ErrNoOutput      = errors.New("no output sink registered")
	ErrUnknownCall   = errors.New("unknown call id")
	ErrNotSuspended  = errors.New("no suspended run to resume")

	errUnknownFaultKind = errors.New("unknown fault")
)

var faultKindErrs = [...]error{
	FaultNone:           nil,
	FaultInvalidOpcode:  ErrInvalidOpcode,
	FaultStackOverflow:  ErrStackOverflow,
	FaultStackUnderflow: ErrStackUnderflow,
	FaultDivisionByZero: ErrDivisionByZero,
	FaultInvalidCall:    ErrInvalidCall,
	FaultOutOfBounds:    ErrOutOfBounds,
}

// Err returns the sentinel error for the kind.
func (k FaultKind) Err() error {
	if int(k) < len(faultKindErrs) && faultKindErrs[k] != nil {
		return faultKindErrs[k]
	}
	return errUnknownFaultKind
}

// String returns the kind's name.
func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultInvalidOpcode:
		return "InvalidOpcode"
	case FaultStackOverflow:
		return "StackOverflow"
	case FaultStackUnderflow:
		return "StackUnderflow"
	case FaultDivisionByZero:
		return "DivisionByZero"
	case FaultInvalidCall:
		return "InvalidCall"
	case FaultOutOfBounds:
		return "OutOfBounds"
	default:
		return fmt.Sprintf("FaultKind(%d)", k)
	}
}

// Code returns the numeric exit code harnesses report for the kind.
// Stack faults share -1 and invalid opcodes use -2, as on the device.
func (k FaultKind) Code() int {
	switch k {
	case FaultNone:
		return 0
	case FaultStackOverflow, FaultStackUnderflow:
		return -1
	case FaultInvalidOpcode:
		return -2
	case FaultInvalidCall:
		return -3
	case FaultDivisionByZero:
		return -4
	case FaultOutOfBounds:
		return -5
	default:
		return -128
	}
}

// State is a snapshot of the engine registers.
type State struct {
	IP       int    // Offset of the next opcode (of the faulting one after a fault)
	SP       int    // Offset of the top-of-stack element
	Executed uint64 // Instructions fetched since the run started
}

// Fault is a terminal execution error. It records where the run stopped;
// there is no recovery inside the engine.
type Fault struct {
	Kind   FaultKind
	Op     Opcode // Opcode being executed (raw byte for invalid opcodes)
	CallID byte   // Host call id, for FaultInvalidCall raised by OpCall
	State  State
	Err    error // Underlying cause, if any
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s at ip=0x%04X (op 0x%02X, sp=0x%04X, executed=%d)",
		f.Kind.Err(), f.State.IP, byte(f.Op), f.State.SP, f.State.Executed)
	if f.Kind == FaultInvalidCall && f.Op == OpCall {
		msg = fmt.Sprintf("%s [call %d]", msg, f.CallID)
	}
	if f.Err != nil && f.Err != f.Kind.Err() {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the kind sentinel only, so errors.Is matches a fault by
// its kind and never by a cause of another kind. Use Cause for the cause.
func (f *Fault) Unwrap() error {
	return f.Kind.Err()
}

// Cause returns the underlying error, such as a host call handler's, or nil.
func (f *Fault) Cause() error {
	return f.Err
}

// AsFault extracts a *Fault from an error chain.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
