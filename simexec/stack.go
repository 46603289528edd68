package simexec

import "github.com/speakeasy-api/reconverge"

// frame is the simulation state of one open scope.
type frame struct {
	active    reconverge.Mask // lanes executing in this scope
	continues reconverge.Mask // lanes waiting for the next loop iteration
	header    int             // pc of the opening instruction
	tripCount int

	isLoop   bool
	isCall   bool
	isSwitch bool
	tainted  bool // loop lost its uniformity guarantee (StyleWGSLv1)
}

// frameStack is a fixed-depth arena of frames. Index 0 is the root scope.
// The arena is allocated once per program and reused by every simulation.
type frameStack struct {
	frames []frame
	top    int
}

// newFrameStack creates an arena that holds depth nested scopes below the root.
func newFrameStack(depth int) *frameStack {
	return &frameStack{
		frames: make([]frame, depth+1),
	}
}

// reset clears the arena and installs a root frame with the given mask.
func (s *frameStack) reset(root reconverge.Mask) {
	s.top = 0
	s.frames[0] = frame{active: root}
}

// push opens a scope whose active mask is active. Panics if the arena is
// exhausted.
func (s *frameStack) push(active reconverge.Mask, header int) *frame {
	if s.top+1 >= len(s.frames) {
		panic(&InternalError{PC: header, Msg: "frame stack overflow"})
	}
	s.top++
	s.frames[s.top] = frame{active: active, header: header}
	return &s.frames[s.top]
}

// pop closes the innermost scope and drops its taint.
// Panics if only the root is left.
func (s *frameStack) pop() {
	if s.top == 0 {
		panic(&InternalError{PC: -1, Msg: "frame stack underflow"})
	}
	s.frames[s.top].tainted = false
	s.top--
}

// cur returns the innermost frame.
func (s *frameStack) cur() *frame {
	return &s.frames[s.top]
}

// parent returns the frame enclosing the innermost one.
func (s *frameStack) parent() *frame {
	if s.top == 0 {
		panic(&InternalError{PC: -1, Msg: "root frame has no parent"})
	}
	return &s.frames[s.top-1]
}

// at returns the frame at depth n.
func (s *frameStack) at(n int) *frame {
	return &s.frames[n]
}

// depth returns the current nesting level; 0 is the root.
func (s *frameStack) depth() int {
	return s.top
}

// anyTainted reports whether any open frame is tainted.
func (s *frameStack) anyTainted() bool {
	for i := 0; i <= s.top; i++ {
		if s.frames[i].tainted {
			return true
		}
	}
	return false
}
