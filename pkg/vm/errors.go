package vm

import (
	"errors"
	"fmt"
)

// Fault is an execution or verification failure with a stable numeric code.
// Codes are negative; zero is success.
type Fault int

const (
	OK                 Fault = 0
	IllegalInstruction Fault = -1
	IllegalMemory      Fault = -2
	IllegalJump        Fault = -3
	IllegalCall        Fault = -4
	IllegalLength      Fault = -5
	IllegalRegister    Fault = -6
	NoReturn           Fault = -7
	OutOfBranches      Fault = -8
	IllegalDivision    Fault = -9
)

// Host-side result codes outside the fault taxonomy.
const (
	CodeNoMemory  = -100 // the instance could not be set up
	CodeHostError = -101 // a syscall or host callback failed
)

var faultNames = map[Fault]string{
	OK:                 "OK",
	IllegalInstruction: "ILLEGAL_INSTRUCTION",
	IllegalMemory:      "ILLEGAL_MEM",
	IllegalJump:        "ILLEGAL_JUMP",
	IllegalCall:        "ILLEGAL_CALL",
	IllegalLength:      "ILLEGAL_LEN",
	IllegalRegister:    "ILLEGAL_REGISTER",
	NoReturn:           "NO_RETURN",
	OutOfBranches:      "OUT_OF_BRANCHES",
	IllegalDivision:    "ILLEGAL_DIV",
}

var faultMessages = map[Fault]string{
	OK:                 "ok",
	IllegalInstruction: "illegal instruction",
	IllegalMemory:      "illegal memory access",
	IllegalJump:        "illegal jump",
	IllegalCall:        "illegal call",
	IllegalLength:      "illegal text length",
	IllegalRegister:    "illegal register",
	NoReturn:           "program does not end in exit",
	OutOfBranches:      "branch budget exhausted",
	IllegalDivision:    "division by zero",
}

// Error implements error.
func (f Fault) Error() string {
	if msg, ok := faultMessages[f]; ok {
		return msg
	}
	return fmt.Sprintf("fault %d", int(f))
}

// Name returns the upper-case identifier of the fault, e.g. "ILLEGAL_MEM".
func (f Fault) Name() string {
	if name, ok := faultNames[f]; ok {
		return name
	}
	return fmt.Sprintf("ERROR %d", int(f))
}

var (
	// ErrNoMemory indicates the mutable data section could not be provisioned.
	ErrNoMemory = errors.New("vm: cannot provision data section")

	// ErrNotSetup is returned when executing an instance before Setup.
	ErrNotSetup = errors.New("vm: instance not set up")

	// ErrRegionOverflow indicates a region whose end wraps the address space.
	ErrRegionOverflow = errors.New("vm: region end overflows address space")

	// ErrTooManyRegions indicates the extension region capacity is exhausted.
	ErrTooManyRegions = errors.New("vm: too many extension regions")
)

// Code maps an error returned by this package to its numeric result code.
// nil maps to 0, faults to their own code, setup failures to CodeNoMemory and
// everything else to CodeHostError.
func Code(err error) int {
	if err == nil {
		return int(OK)
	}
	var f Fault
	if errors.As(err, &f) {
		return int(f)
	}
	if errors.Is(err, ErrNoMemory) || errors.Is(err, ErrNotSetup) {
		return CodeNoMemory
	}
	return CodeHostError
}

// CodeName returns the identifier for a numeric result code.
func CodeName(code int) string {
	switch code {
	case CodeNoMemory:
		return "NO_MEMORY"
	case CodeHostError:
		return "HOST_ERROR"
	}
	return Fault(code).Name()
}

// faultAt wraps a fault with the instruction index where it was raised.
func faultAt(f Fault, pc int, format string, args ...any) error {
	return fmt.Errorf("%w at pc %d: %s", f, pc, fmt.Sprintf(format, args...))
}
