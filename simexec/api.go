// Package simexec generates random reconvergence programs, simulates them
// under a reconvergence style and checks device results against the
// simulated reference.
//
// Example:
//
//	opts := simexec.DefaultOptions()
//	opts.Style = reconverge.StyleSubgroup
//	opts.Seed = 42
//	prog, err := simexec.NewProgram(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	prog.Generate()
//	locs := prog.Simulate(true, 32)
//	prog.SizeRefData(locs)
//	prog.Simulate(false, 32)
//	if err := prog.CheckResults(measured, 32, locs); err != nil {
//	    log.Fatal(err)
//	}
package simexec

import (
	"fmt"
	"math/rand/v2"

	"github.com/speakeasy-api/reconverge"
)

// Program is one generated test case together with its simulation state.
// A Program is not safe for concurrent use.
type Program struct {
	opts   Options
	rng    *rand.Rand
	logger Logger

	ops   []reconverge.Op
	masks []reconverge.Mask

	// Generation bounds and bookkeeping.
	maxNesting int // bound drawn for this program
	depth      int // deepest nesting actually reached
	attempts   int

	// Simulation state, owned by one pass at a time.
	frames        *frameStack
	locs          []int
	uniformEvents int

	refData  []uint32
	refKinds []EventKind
	refLocs  int // locations per lane held by refData
	refSize  int // subgroup size of the full pass that filled refData, 0 if none
}

// NewProgram validates opts and creates an empty program with a freshly
// drawn mask table. Call Generate to fill in the instructions.
func NewProgram(opts Options) (*Program, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	p := &Program{
		opts:   opts,
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		logger: loggerFor(opts),
	}
	p.masks = make([]reconverge.Mask, numMasks)
	p.masks[0] = reconverge.LowMask(reconverge.MaxInvocations)
	for i := 1; i < numMasks; i++ {
		p.masks[i] = reconverge.MaskFromWords([4]uint32{
			p.rng.Uint32(), p.rng.Uint32(), p.rng.Uint32(), p.rng.Uint32(),
		})
	}
	return p, nil
}

// NewProgramFromOps creates a program from an existing instruction sequence
// and mask table, such as one loaded from a case file. The sequence is
// checked for structural validity.
func NewProgramFromOps(opts Options, ops []reconverge.Op, masks []reconverge.Mask) (*Program, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if len(masks) == 0 {
		return nil, fmt.Errorf("mask table is empty")
	}
	if err := validateOps(ops, len(masks)); err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	depth, err := reconverge.MaxNesting(ops)
	if err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	p := &Program{
		opts:   opts,
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		logger: loggerFor(opts),
		ops:    append([]reconverge.Op(nil), ops...),
		masks:  append([]reconverge.Mask(nil), masks...),
		depth:  depth,
	}
	p.frames = newFrameStack(depth)
	return p, nil
}

func validateOptions(opts Options) error {
	if opts.Invocations <= 0 || opts.Invocations > reconverge.MaxInvocations {
		return fmt.Errorf("invocations must be in [1,%d], got %d", reconverge.MaxInvocations, opts.Invocations)
	}
	switch opts.Style {
	case reconverge.StyleWorkgroup, reconverge.StyleSubgroup, reconverge.StyleMaximal, reconverge.StyleWGSLv1:
	default:
		return fmt.Errorf("unknown style %d", int(opts.Style))
	}
	return nil
}

// validateOps checks the properties the simulator relies on: matching else,
// case and close instructions, break and continue targets inside the current
// function, and an elect-break at the top level of every infinite loop.
func validateOps(ops []reconverge.Op, numMasks int) error {
	type level struct {
		kind       reconverge.OpKind
		electBreak bool
	}
	stack := make([]level, 0, 16)

	// enclosing walks outward until a call boundary and reports whether a
	// scope matching want exists, plus the number of loops crossed.
	enclosing := func(want func(reconverge.OpKind) bool) (bool, int) {
		loops := 0
		for i := len(stack) - 1; i >= 0; i-- {
			k := stack[i].kind
			if k == reconverge.OpCall {
				return false, loops
			}
			if k.IsLoop() {
				loops++
			}
			if want(k) {
				return true, loops
			}
		}
		return false, loops
	}
	isLoop := func(k reconverge.OpKind) bool { return k.IsLoop() }
	loopsInFunction := func() int {
		_, n := enclosing(func(reconverge.OpKind) bool { return false })
		return n
	}
	top := func() reconverge.OpKind {
		if len(stack) == 0 {
			return -1
		}
		return stack[len(stack)-1].kind
	}

	for pc, op := range ops {
		switch op.Kind {
		case reconverge.OpIfMask, reconverge.OpElseMask:
			if int(op.Value) >= numMasks {
				return fmt.Errorf("pc %d: mask index %d out of range", pc, op.Value)
			}
		case reconverge.OpIfID, reconverge.OpElseID:
			if op.Value > reconverge.MaxInvocations {
				return fmt.Errorf("pc %d: lane threshold %d out of range", pc, op.Value)
			}
		}

		switch op.Kind {
		case reconverge.OpElseMask:
			if top() != reconverge.OpIfMask {
				return fmt.Errorf("pc %d: elsemask outside ifmask", pc)
			}
		case reconverge.OpElseID:
			if top() != reconverge.OpIfID {
				return fmt.Errorf("pc %d: elseid outside ifid", pc)
			}
		case reconverge.OpElseLoopCount:
			if top() != reconverge.OpIfLoopCount {
				return fmt.Errorf("pc %d: elseloopcount outside ifloopcount", pc)
			}
		case reconverge.OpIfLoopCount:
			if loopsInFunction() == 0 {
				return fmt.Errorf("pc %d: ifloopcount outside a loop", pc)
			}
		case reconverge.OpSwitchLoopCount:
			if int(op.Value) >= loopsInFunction() {
				return fmt.Errorf("pc %d: switchloopcount selects loop %d of %d", pc, op.Value, loopsInFunction())
			}
		case reconverge.OpCaseMask:
			if t := top(); t != reconverge.OpSwitchUniform && t != reconverge.OpSwitchVar {
				return fmt.Errorf("pc %d: casemask outside a uniform or lane switch", pc)
			}
		case reconverge.OpCaseLoopCount:
			if top() != reconverge.OpSwitchLoopCount {
				return fmt.Errorf("pc %d: caseloopcount outside a loop-count switch", pc)
			}
		case reconverge.OpEndCase:
			if !top().IsSwitch() {
				return fmt.Errorf("pc %d: endcase outside a switch", pc)
			}
		case reconverge.OpBreak:
			if ok, _ := enclosing(func(k reconverge.OpKind) bool { return k.IsLoop() || k.IsSwitch() }); !ok {
				return fmt.Errorf("pc %d: break without enclosing loop or switch", pc)
			}
		case reconverge.OpContinue:
			if ok, _ := enclosing(isLoop); !ok {
				return fmt.Errorf("pc %d: continue without enclosing loop", pc)
			}
		case reconverge.OpElect:
			t := top()
			if (t == reconverge.OpForInf || t == reconverge.OpLoopInf) &&
				pc+2 < len(ops) &&
				ops[pc+1].Kind == reconverge.OpBreak &&
				ops[pc+2].Kind == reconverge.OpEndIf {
				stack[len(stack)-1].electBreak = true
			}
		}

		switch {
		case op.Kind.Opens():
			stack = append(stack, level{kind: op.Kind})
		case op.Kind.Closes():
			if len(stack) == 0 {
				return fmt.Errorf("pc %d: %s without open scope", pc, op.Kind)
			}
			l := stack[len(stack)-1]
			if l.kind.Closer() != op.Kind {
				return fmt.Errorf("pc %d: %s closes %s", pc, op.Kind, l.kind)
			}
			if (l.kind == reconverge.OpForInf || l.kind == reconverge.OpLoopInf) && !l.electBreak {
				return fmt.Errorf("pc %d: infinite loop has no elect-break", pc)
			}
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// Ops returns a copy of the instruction sequence.
func (p *Program) Ops() []reconverge.Op {
	return append([]reconverge.Op(nil), p.ops...)
}

// Masks returns a copy of the mask table.
func (p *Program) Masks() []reconverge.Mask {
	return append([]reconverge.Mask(nil), p.masks...)
}

// Options returns the options the program was created with.
func (p *Program) Options() Options {
	return p.opts
}

// Style returns the reconvergence style of the program.
func (p *Program) Style() reconverge.Style {
	return p.opts.Style
}

// Invocations returns the lane count.
func (p *Program) Invocations() int {
	return p.opts.Invocations
}

// MaxNesting returns the deepest scope nesting of the instruction sequence.
func (p *Program) MaxNesting() int {
	return p.depth
}

// Attempts returns how many candidate sequences Generate built.
func (p *Program) Attempts() int {
	return p.attempts
}

// UniformEvents returns the number of non-empty ballot executions the last
// simulation classified as uniform.
func (p *Program) UniformEvents() int {
	return p.uniformEvents
}

// RefData returns the reference snapshot buffer of the last full simulation.
// Location loc of lane occupies words [4*(loc*Invocations()+lane), +4).
func (p *Program) RefData() []uint32 {
	return p.refData
}

// RefLocations returns the number of locations per lane the reference buffer
// holds.
func (p *Program) RefLocations() int {
	return p.refLocs
}

// RefKind returns the kind of the event recorded for lane at loc.
func (p *Program) RefKind(lane, loc int) EventKind {
	if loc < 0 || loc >= p.refLocs || lane < 0 || lane >= p.opts.Invocations {
		return EventNone
	}
	return p.refKinds[loc*p.opts.Invocations+lane]
}

// String returns a one-line summary for debugging.
func (p *Program) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Program{style: %s, seed: %d, invocations: %d, ops: %d, nesting: %d}",
		p.opts.Style, p.opts.Seed, p.opts.Invocations, len(p.ops), p.depth)
}
