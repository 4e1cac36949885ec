package types

import (
	"fmt"

	"github.com/colorfulnotion/rvm/common"
)

// Status is the controller state machine position.
type Status uint8

const (
	StatusReady Status = iota
	StatusRunning
	StatusHalted
	StatusFaulted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusRunning:
		return "Running"
	case StatusHalted:
		return "Halted"
	case StatusFaulted:
		return "Faulted"
	case StatusAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Terminal reports whether forward stepping is refused in this status.
func (s Status) Terminal() bool {
	return s == StatusHalted || s == StatusFaulted || s == StatusAborted
}

// HaltReason names the instruction that ended execution normally.
type HaltReason uint8

const (
	HaltNone HaltReason = iota
	HaltStop
	HaltReturn
	HaltRevert
	HaltEndOfCode
)

func (h HaltReason) String() string {
	switch h {
	case HaltNone:
		return ""
	case HaltStop:
		return "STOP"
	case HaltReturn:
		return "RETURN"
	case HaltRevert:
		return "REVERT"
	case HaltEndOfCode:
		return "END_OF_CODE"
	default:
		return fmt.Sprintf("HaltReason(%d)", uint8(h))
	}
}

// StepOutcome reports one executed instruction.
type StepOutcome struct {
	Step    uint64     `json:"step"`
	PC      uint64     `json:"pc"`
	Op      string     `json:"op"`
	GasCost uint64     `json:"gas_cost"`
	GasLeft uint64     `json:"gas_left"`
	Status  Status     `json:"status"`
	Halt    HaltReason `json:"halt,omitempty"`
}

// ExecutionResult summarises a finished run.
type ExecutionResult struct {
	Status     Status      `json:"status"`
	Halt       HaltReason  `json:"halt,omitempty"`
	Err        string      `json:"error,omitempty"`
	Steps      uint64      `json:"steps"`
	GasUsed    uint64      `json:"gas_used"`
	Refund     uint64      `json:"refund"`
	ReturnData []byte      `json:"return_data,omitempty"`
	StateHash  common.Hash `json:"state_hash"`
}

// Success reports whether the run ended with STOP, RETURN or end of code.
func (r *ExecutionResult) Success() bool {
	return r.Status == StatusHalted && r.Halt != HaltRevert
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (h HaltReason) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for v := StatusReady; v <= StatusAborted; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

func (h *HaltReason) UnmarshalText(text []byte) error {
	for v := HaltNone; v <= HaltEndOfCode; v++ {
		if v.String() == string(text) {
			*h = v
			return nil
		}
	}
	return fmt.Errorf("unknown halt reason %q", text)
}
