package rvmerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Execution (E) faults. The controller moves to Faulted and stays navigable.
var (
	ErrStackUnderflow    = errors.New("E1|StackUnderflow: Instruction needs more stack items than available.")
	ErrStackOverflow     = errors.New("E2|StackOverflow: Instruction would exceed the stack depth limit.")
	ErrOutOfGas          = errors.New("E3|OutOfGas: Instruction costs more gas than remains.")
	ErrInvalidOpcode     = errors.New("E4|InvalidOpcode: Byte at pc is not a defined instruction.")
	ErrMemoryOutOfBounds = errors.New("E5|MemoryOutOfBounds: Memory access beyond the configured cap.")
	ErrInvalidJump       = errors.New("E6|InvalidJump: Jump destination is not a JUMPDEST.")
)

// Navigation (N) faults. Returned without changing any state.
var (
	ErrAtGenesis      = errors.New("N1|AtGenesis: Cannot step backward from step 0.")
	ErrAtHalt         = errors.New("N2|AtHalt: Execution has halted; only backward navigation is allowed.")
	ErrAtFault        = errors.New("N3|AtFault: Execution has faulted; only backward navigation is allowed.")
	ErrStepOutOfRange = errors.New("N4|StepOutOfRange: Step is beyond the recorded timeline.")
)

// Invariant (I) faults. The controller aborts.
var (
	ErrInvariantViolation = errors.New("I1|InvariantViolation: The journal or checkpoint index no longer guarantees exact replay.")
	ErrAborted            = errors.New("I2|Aborted: The controller was aborted by an earlier invariant violation.")
)

var executionFaults = []error{ErrStackUnderflow, ErrStackOverflow, ErrOutOfGas, ErrInvalidOpcode, ErrMemoryOutOfBounds, ErrInvalidJump}

// Fault carries the context needed to reproduce an error: where in the
// timeline it happened and which instruction raised it.
type Fault struct {
	Kind   error
	Step   uint64
	PC     uint64
	Op     string
	Reason string
}

func (f *Fault) Error() string {
	var sb strings.Builder
	sb.WriteString(GetErrorName(f.Kind))
	fmt.Fprintf(&sb, " at step %d pc %d", f.Step, f.PC)
	if f.Op != "" {
		fmt.Fprintf(&sb, " (%s)", f.Op)
	}
	if f.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(f.Reason)
	}
	return sb.String()
}

func (f *Fault) Unwrap() error {
	return f.Kind
}

// NewFault builds a fault of the given kind with a formatted reason.
func NewFault(kind error, step, pc uint64, op string, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Step: step, PC: pc, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsExecutionFault reports whether err is an instruction-level fault, as
// opposed to a navigation or invariant error.
func IsExecutionFault(err error) bool {
	for _, kind := range executionFaults {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// AsFault unwraps err into a *Fault when it carries one.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	if f, ok := AsFault(err); ok {
		err = f.Kind
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if f, ok := AsFault(err); ok {
		err = f.Kind
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	if f, ok := AsFault(err); ok {
		err = f.Kind
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
