// Package reconverge holds the lane mask primitives, instruction set and
// reconvergence styles shared by the generator, simulator and comparator.
package reconverge

import "fmt"

// Op is one instruction of a generated program.
type Op struct {
	Kind      OpKind
	Value     uint32
	CaseValue uint32

	// Uniform is set by simulation on snapshot instructions: it stays true
	// only while every non-empty execution was classified uniform.
	Uniform bool
}

// String returns a compact form such as "ifmask(3)".
func (o Op) String() string {
	switch o.Kind {
	case OpCaseMask, OpCaseLoopCount:
		return fmt.Sprintf("%s(0x%x, labels=0x%x)", o.Kind, o.Value, o.CaseValue)
	case OpStore:
		return fmt.Sprintf("%s(0x%x)", o.Kind, o.Value)
	}
	if o.Kind.HasValue() {
		return fmt.Sprintf("%s(%d)", o.Kind, o.Value)
	}
	return o.Kind.String()
}

// OpKind identifies an instruction.
type OpKind int

const (
	OpBallot OpKind = iota
	OpStore
	OpIfMask
	OpElseMask
	OpEndIf
	OpIfLoopCount
	OpElseLoopCount
	OpIfID
	OpElseID
	OpBreak
	OpContinue
	OpElect
	OpForUniform
	OpEndForUniform
	OpForInf
	OpEndForInf
	OpForVar
	OpEndForVar
	OpLoopUniform
	OpEndLoopUniform
	OpLoopInf
	OpEndLoopInf
	OpReturn
	OpCall
	OpEndCall
	OpSwitchUniform
	OpSwitchVar
	OpSwitchLoopCount
	OpCaseMask
	OpCaseLoopCount
	OpEndCase
	OpEndSwitch
	OpNoise
	numOpKinds
)

var opNames = [numOpKinds]string{
	OpBallot:          "ballot",
	OpStore:           "store",
	OpIfMask:          "ifmask",
	OpElseMask:        "elsemask",
	OpEndIf:           "endif",
	OpIfLoopCount:     "ifloopcount",
	OpElseLoopCount:   "elseloopcount",
	OpIfID:            "ifid",
	OpElseID:          "elseid",
	OpBreak:           "break",
	OpContinue:        "continue",
	OpElect:           "elect",
	OpForUniform:      "foruniform",
	OpEndForUniform:   "endforuniform",
	OpForInf:          "forinf",
	OpEndForInf:       "endforinf",
	OpForVar:          "forvar",
	OpEndForVar:       "endforvar",
	OpLoopUniform:     "loopuniform",
	OpEndLoopUniform:  "endloopuniform",
	OpLoopInf:         "loopinf",
	OpEndLoopInf:      "endloopinf",
	OpReturn:          "return",
	OpCall:            "call",
	OpEndCall:         "endcall",
	OpSwitchUniform:   "switchuniform",
	OpSwitchVar:       "switchvar",
	OpSwitchLoopCount: "switchloopcount",
	OpCaseMask:        "casemask",
	OpCaseLoopCount:   "caseloopcount",
	OpEndCase:         "endcase",
	OpEndSwitch:       "endswitch",
	OpNoise:           "noise",
}

func (k OpKind) String() string {
	if k < 0 || k >= numOpKinds {
		panic(fmt.Sprintf("invalid op kind %d", int(k)))
	}
	return opNames[k]
}

// ParseOpKind is the inverse of OpKind.String.
func ParseOpKind(s string) (OpKind, error) {
	for k, name := range opNames {
		if name == s {
			return OpKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown op kind %q", s)
}

// HasValue reports whether Value carries meaning for k.
func (k OpKind) HasValue() bool {
	switch k {
	case OpStore, OpIfMask, OpElseMask, OpIfID, OpElseID,
		OpForUniform, OpLoopUniform, OpSwitchUniform, OpSwitchLoopCount,
		OpCaseMask, OpCaseLoopCount:
		return true
	}
	return false
}

// Opens reports whether k starts a scope.
func (k OpKind) Opens() bool {
	switch k {
	case OpIfMask, OpIfLoopCount, OpIfID, OpElect,
		OpForUniform, OpForInf, OpForVar, OpLoopUniform, OpLoopInf,
		OpCall, OpSwitchUniform, OpSwitchVar, OpSwitchLoopCount:
		return true
	}
	return false
}

// Closes reports whether k ends a scope.
func (k OpKind) Closes() bool {
	switch k {
	case OpEndIf, OpEndForUniform, OpEndForInf, OpEndForVar,
		OpEndLoopUniform, OpEndLoopInf, OpEndCall, OpEndSwitch:
		return true
	}
	return false
}

// IsLoop reports whether k opens a loop.
func (k OpKind) IsLoop() bool {
	switch k {
	case OpForUniform, OpForInf, OpForVar, OpLoopUniform, OpLoopInf:
		return true
	}
	return false
}

// IsSwitch reports whether k opens a switch.
func (k OpKind) IsSwitch() bool {
	return k == OpSwitchUniform || k == OpSwitchVar || k == OpSwitchLoopCount
}

// Closer returns the kind that closes a scope opened by k.
func (k OpKind) Closer() OpKind {
	switch k {
	case OpIfMask, OpIfLoopCount, OpIfID, OpElect:
		return OpEndIf
	case OpForUniform:
		return OpEndForUniform
	case OpForInf:
		return OpEndForInf
	case OpForVar:
		return OpEndForVar
	case OpLoopUniform:
		return OpEndLoopUniform
	case OpLoopInf:
		return OpEndLoopInf
	case OpCall:
		return OpEndCall
	case OpSwitchUniform, OpSwitchVar, OpSwitchLoopCount:
		return OpEndSwitch
	}
	panic(fmt.Sprintf("%s does not open a scope", k))
}

// MaxNesting returns the deepest scope nesting of ops, or an error when the
// sequence is not balanced.
func MaxNesting(ops []Op) (int, error) {
	stack := make([]OpKind, 0, 16)
	deepest := 0
	for pc, op := range ops {
		if op.Kind < 0 || op.Kind >= numOpKinds {
			return 0, fmt.Errorf("pc %d: invalid op kind %d", pc, int(op.Kind))
		}
		switch {
		case op.Kind.Opens():
			stack = append(stack, op.Kind)
			if len(stack) > deepest {
				deepest = len(stack)
			}
		case op.Kind.Closes():
			if len(stack) == 0 {
				return 0, fmt.Errorf("pc %d: %s without open scope", pc, op.Kind)
			}
			open := stack[len(stack)-1]
			if open.Closer() != op.Kind {
				return 0, fmt.Errorf("pc %d: %s closes %s", pc, op.Kind, open)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return 0, fmt.Errorf("%d scopes left open", len(stack))
	}
	return deepest, nil
}
