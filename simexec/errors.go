package simexec

import (
	"fmt"
	"strings"
)

// InternalError is the panic value raised when a program violates the
// structural guarantees the generator provides: an unmatched break, continue
// or return, or a scope nesting deeper than the frame arena.
type InternalError struct {
	PC  int    // Instruction index, -1 if unknown
	Op  string // Instruction name, if known
	Msg string
}

func (e *InternalError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("internal consistency violation at pc %d (%s): %s", e.PC, e.Op, e.Msg)
	}
	return fmt.Sprintf("internal consistency violation at pc %d: %s", e.PC, e.Msg)
}

// CheckErrorKind categorizes result mismatches.
type CheckErrorKind int

const (
	// CheckMismatch is a literal difference under StyleMaximal.
	CheckMismatch CheckErrorKind = iota
	// CheckMissingMatch means a uniform (store, ballot) pair of the
	// reference was not found in the measured data.
	CheckMissingMatch
	// CheckNoUniform means the reference holds no uniform event at all.
	CheckNoUniform
	// CheckShortBuffer means the measured buffer cannot hold the reference.
	CheckShortBuffer
	// CheckStaleReference means no full simulation at the requested
	// subgroup size produced the current reference.
	CheckStaleReference
)

func (k CheckErrorKind) String() string {
	switch k {
	case CheckMismatch:
		return "mismatch"
	case CheckMissingMatch:
		return "missing-match"
	case CheckNoUniform:
		return "no-uniform"
	case CheckShortBuffer:
		return "short-buffer"
	case CheckStaleReference:
		return "stale-reference"
	default:
		return "unknown"
	}
}

// Quad is one snapshot location: four 32-bit words.
type Quad [4]uint32

func (q Quad) String() string {
	return fmt.Sprintf("[0x%08x 0x%08x 0x%08x 0x%08x]", q[0], q[1], q[2], q[3])
}

// Mismatch describes the first differing location of one lane.
type Mismatch struct {
	Lane     int
	Location int
	Expected Quad
	Actual   Quad
}

func (m Mismatch) String() string {
	return fmt.Sprintf("lane %d, location %d: expected %s, got %s",
		m.Lane, m.Location, m.Expected, m.Actual)
}

// CheckError is returned by CheckResults when measured data is not consistent
// with the reference.
type CheckError struct {
	Kind  CheckErrorKind
	Style string
	Msg   string

	// Mismatches holds, for CheckMismatch and CheckMissingMatch, the first
	// failing location of every affected lane.
	Mismatches []Mismatch
}

func (e *CheckError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s check failed (%s): %s", e.Style, e.Kind, e.Msg)
	for _, m := range e.Mismatches {
		b.WriteString("\n  ")
		b.WriteString(m.String())
	}
	return b.String()
}

// IsCheckError reports whether err is a *CheckError of the given kind.
func IsCheckError(err error, kind CheckErrorKind) bool {
	if e, ok := err.(*CheckError); ok {
		return e.Kind == kind
	}
	return false
}
