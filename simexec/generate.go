package simexec

import (
	"github.com/speakeasy-api/reconverge"
)

// Generate builds a random balanced instruction sequence.
//
// For every style except StyleMaximal the candidate is probe-simulated at
// ProbeSubgroupSize and regenerated until the probe records at least one
// uniform ballot, so each case exercises the guarantee it tests.
func (p *Program) Generate() {
	for {
		p.attempts++
		p.buildSequence()
		if p.opts.Style == reconverge.StyleMaximal {
			break
		}
		p.Simulate(true, ProbeSubgroupSize)
		if p.uniformEvents > 0 {
			break
		}
		p.logger.With(map[string]any{
			"seed":    p.opts.Seed,
			"attempt": p.attempts,
			"ops":     len(p.ops),
		}).Debugf("Rejected candidate without uniform ballot")
	}

	p.logger.With(map[string]any{
		"seed":     p.opts.Seed,
		"style":    p.opts.Style,
		"ops":      len(p.ops),
		"nesting":  p.depth,
		"attempts": p.attempts,
		"kinds":    opHistogram(p.ops, 6),
	}).Infof("Generated program")
}

// buildSequence produces one candidate into p.ops and sizes the frame arena.
func (p *Program) buildSequence() {
	p.ops = p.ops[:0]
	p.maxNesting = 6 + p.rng.IntN(8)

	g := &generator{
		p:      p,
		tasks:  make([]genTask, 0, 64),
		scopes: make([]genScope, 0, p.maxNesting+2),
	}
	for len(p.ops) < minCount {
		g.run(genTask{kind: taskPick, count: 1})
	}

	p.depth = g.deepest
	p.frames = newFrameStack(p.depth)
}

type taskKind int

const (
	taskPick        taskKind = iota // pick count more instructions
	taskBallotPoint                 // maybe emit ballot, store or noise
	taskChoose                      // emit one random construct
	taskEmit                        // append op
	taskOpen                        // append op and open a scope
	taskClose                       // append op and close the innermost scope
	taskElectBreak                  // append "if (elect) break;" for an infinite loop
)

type genTask struct {
	kind  taskKind
	op    reconverge.Op
	count int
}

// genScope tracks one open construct during generation.
type genScope struct {
	kind      reconverge.OpKind
	inf       bool // infinite loop
	breakDone bool // elect-break already emitted (infinite loops only)
}

// generator expands pick requests through an explicit task stack instead of
// recursion; scopes mirrors the nesting of the sequence built so far.
type generator struct {
	p       *Program
	tasks   []genTask
	scopes  []genScope
	deepest int
}

func (g *generator) push(t genTask) {
	g.tasks = append(g.tasks, t)
}

// pushPick queues a request for n more instructions.
func (g *generator) pushPick(n int) {
	g.push(genTask{kind: taskPick, count: n})
}

func (g *generator) run(t genTask) {
	g.push(t)
	for len(g.tasks) > 0 {
		t := g.tasks[len(g.tasks)-1]
		g.tasks = g.tasks[:len(g.tasks)-1]
		g.exec(t)
	}
}

func (g *generator) exec(t genTask) {
	switch t.kind {
	case taskPick:
		if t.count <= 0 {
			return
		}
		// Runs as: ballot point, construct, ballot point, remaining picks.
		g.pushPick(t.count - 1)
		g.push(genTask{kind: taskBallotPoint})
		g.push(genTask{kind: taskChoose})
		g.push(genTask{kind: taskBallotPoint})
	case taskBallotPoint:
		g.ballotPoint()
	case taskChoose:
		if len(g.scopes) >= g.p.maxNesting || len(g.p.ops) >= maxCount {
			return
		}
		g.choose()
	case taskEmit:
		g.emit(t.op)
	case taskOpen:
		g.open(t.op, false)
	case taskClose:
		g.close(t.op.Kind)
	case taskElectBreak:
		g.emit(reconverge.Op{Kind: reconverge.OpElect})
		g.deepest = max(g.deepest, len(g.scopes)+1)
		g.emit(reconverge.Op{Kind: reconverge.OpBreak})
		g.emit(reconverge.Op{Kind: reconverge.OpEndIf})
		g.scopes[len(g.scopes)-1].breakDone = true
	}
}

func (g *generator) emit(op reconverge.Op) {
	g.p.ops = append(g.p.ops, op)
}

func (g *generator) open(op reconverge.Op, inf bool) {
	g.emit(op)
	g.scopes = append(g.scopes, genScope{kind: op.Kind, inf: inf})
	g.deepest = max(g.deepest, len(g.scopes))
}

func (g *generator) close(kind reconverge.OpKind) {
	g.emit(reconverge.Op{Kind: kind})
	g.scopes = g.scopes[:len(g.scopes)-1]
}

// ballotPoint optionally emits a ballot, a store and noise. Outside
// StyleMaximal every ballot follows a store so results can be correlated.
func (g *generator) ballotPoint() {
	p := g.p
	if p.rng.Float64() < 0.2 {
		n := len(p.ops)
		afterBallot := n > 0 && p.ops[n-1].Kind == reconverge.OpBallot ||
			n > 1 && p.ops[n-1].Kind == reconverge.OpStore && p.ops[n-2].Kind == reconverge.OpBallot
		if !afterBallot {
			if p.opts.Style != reconverge.StyleMaximal {
				g.emit(reconverge.Op{Kind: reconverge.OpStore, Value: uint32(StoreBase + n)})
			}
			g.emit(reconverge.Op{Kind: reconverge.OpBallot})
		}
	}
	if p.rng.Float64() < 0.1 {
		g.emit(reconverge.Op{Kind: reconverge.OpStore, Value: uint32(StoreBase + len(p.ops))})
	}
	if p.rng.Float64() < 0.1 {
		g.emit(reconverge.Op{Kind: reconverge.OpNoise})
	}
}

// ----------------------------------------------------------------------------
// Construct selection
// ----------------------------------------------------------------------------

type candidate struct {
	weight int
	ok     func(g *generator) bool
	gen    func(g *generator)
}

func always(*generator) bool { return true }

var candidates = []candidate{
	{3, always, func(g *generator) { g.genIfMask(false) }},
	{1, always, (*generator).genIfID},
	{1, (*generator).inLoop, (*generator).genIfLoopCount},
	{1, always, (*generator).genElect},
	{1, (*generator).canLoop, func(g *generator) { g.genUniformLoop(reconverge.OpForUniform) }},
	{1, (*generator).canLoop, func(g *generator) { g.genUniformLoop(reconverge.OpLoopUniform) }},
	{1, (*generator).canLongLoop, (*generator).genForVar},
	{1, (*generator).canLongLoop, func(g *generator) { g.genInfLoop(reconverge.OpForInf) }},
	{1, (*generator).canLongLoop, func(g *generator) { g.genInfLoop(reconverge.OpLoopInf) }},
	{2, (*generator).canBreak, (*generator).genBreak},
	{2, (*generator).canContinue, (*generator).genContinue},
	{1, always, (*generator).genReturn},
	{1, (*generator).canCall, (*generator).genCall},
	{1, always, (*generator).genSwitchUniform},
	{1, always, (*generator).genSwitchVar},
	{1, (*generator).inLoop, (*generator).genSwitchLoopCount},
	{1, always, (*generator).genNoise},
}

// uniformCandidates never make lanes diverge.
var uniformCandidates = []candidate{
	{3, always, func(g *generator) { g.genIfMask(true) }},
	{1, (*generator).canLoop, func(g *generator) { g.genUniformLoop(reconverge.OpForUniform) }},
	{1, (*generator).canLoop, func(g *generator) { g.genUniformLoop(reconverge.OpLoopUniform) }},
	{1, (*generator).canBreak, (*generator).genBreak},
	{1, (*generator).canContinue, (*generator).genContinue},
	{1, always, (*generator).genReturn},
	{1, (*generator).canCall, (*generator).genCall},
	{1, always, (*generator).genSwitchUniform},
	{1, (*generator).inLoop, (*generator).genSwitchLoopCount},
	{1, always, (*generator).genNoise},
}

func (g *generator) choose() {
	table := candidates
	if g.p.opts.UniformOnly {
		table = uniformCandidates
	}
	total := 0
	for _, c := range table {
		if c.ok(g) {
			total += c.weight
		}
	}
	r := g.p.rng.IntN(total)
	for _, c := range table {
		if !c.ok(g) {
			continue
		}
		if r < c.weight {
			c.gen(g)
			return
		}
		r -= c.weight
	}
}

// ----------------------------------------------------------------------------
// Scope queries
// ----------------------------------------------------------------------------

// functionScopes returns the open scopes of the current function, innermost
// last.
func (g *generator) functionScopes() []genScope {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if g.scopes[i].kind == reconverge.OpCall {
			return g.scopes[i+1:]
		}
	}
	return g.scopes
}

func (g *generator) loopsInFunction() int {
	n := 0
	for _, s := range g.functionScopes() {
		if s.kind.IsLoop() {
			n++
		}
	}
	return n
}

func (g *generator) inLoop() bool {
	return g.loopsInFunction() > 0
}

func (g *generator) countScopes(pred func(genScope) bool) int {
	n := 0
	for _, s := range g.scopes {
		if pred(s) {
			n++
		}
	}
	return n
}

func (g *generator) canLoop() bool {
	return g.countScopes(func(s genScope) bool { return s.kind.IsLoop() }) < maxLoopNesting
}

// canLongLoop limits nesting of loops whose trip count grows with the
// subgroup size.
func (g *generator) canLongLoop() bool {
	long := g.countScopes(func(s genScope) bool {
		return s.inf || s.kind == reconverge.OpForVar
	})
	return g.canLoop() && long < 2
}

func (g *generator) canCall() bool {
	return g.countScopes(func(s genScope) bool { return s.kind == reconverge.OpCall }) < maxCallNesting
}

func (g *generator) canBreak() bool {
	scopes := g.functionScopes()
	for i := len(scopes) - 1; i >= 0; i-- {
		if scopes[i].kind.IsLoop() || scopes[i].kind.IsSwitch() {
			return true
		}
	}
	return false
}

// canContinue requires an enclosing loop in this function; an infinite loop
// must already contain its elect-break.
func (g *generator) canContinue() bool {
	scopes := g.functionScopes()
	for i := len(scopes) - 1; i >= 0; i-- {
		if scopes[i].kind.IsLoop() {
			return !scopes[i].inf || scopes[i].breakDone
		}
	}
	return false
}

// ----------------------------------------------------------------------------
// Constructs. Tasks are pushed in reverse execution order.
// ----------------------------------------------------------------------------

func (g *generator) bodySize() int {
	return 1 + g.p.rng.IntN(2)
}

// genIf opens op, with an optional else branch.
func (g *generator) genIf(op reconverge.Op, elseKind reconverge.OpKind) {
	g.open(op, false)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: reconverge.OpEndIf}})
	if g.p.rng.IntN(2) == 0 {
		g.pushPick(g.bodySize())
		g.push(genTask{kind: taskEmit, op: reconverge.Op{Kind: elseKind, Value: op.Value}})
	}
	g.pushPick(g.bodySize())
}

func (g *generator) genIfMask(uniform bool) {
	idx := uint32(0)
	if !uniform {
		idx = uint32(g.p.rng.IntN(len(g.p.masks)))
	}
	g.genIf(reconverge.Op{Kind: reconverge.OpIfMask, Value: idx}, reconverge.OpElseMask)
}

func (g *generator) genIfID() {
	threshold := uint32(g.p.rng.IntN(g.p.opts.Invocations + 1))
	g.genIf(reconverge.Op{Kind: reconverge.OpIfID, Value: threshold}, reconverge.OpElseID)
}

func (g *generator) genIfLoopCount() {
	g.genIf(reconverge.Op{Kind: reconverge.OpIfLoopCount}, reconverge.OpElseLoopCount)
}

func (g *generator) genElect() {
	g.open(reconverge.Op{Kind: reconverge.OpElect}, false)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: reconverge.OpEndIf}})
	g.pushPick(g.bodySize())
}

func (g *generator) genUniformLoop(kind reconverge.OpKind) {
	trips := uint32(1 + g.p.rng.IntN(4))
	g.open(reconverge.Op{Kind: kind, Value: trips}, false)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: kind.Closer()}})
	g.pushPick(g.bodySize())
}

func (g *generator) genForVar() {
	g.open(reconverge.Op{Kind: reconverge.OpForVar}, false)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: reconverge.OpEndForVar}})
	g.pushPick(g.bodySize())
}

// genInfLoop emits an infinite loop whose body always contains
// "if (elect) break;" at its top level.
func (g *generator) genInfLoop(kind reconverge.OpKind) {
	g.open(reconverge.Op{Kind: kind}, true)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: kind.Closer()}})
	g.pushPick(g.bodySize())
	g.push(genTask{kind: taskElectBreak})
	g.pushPick(g.bodySize())
}

func (g *generator) genBreak() {
	g.emit(reconverge.Op{Kind: reconverge.OpBreak})
}

func (g *generator) genContinue() {
	g.emit(reconverge.Op{Kind: reconverge.OpContinue})
}

func (g *generator) genReturn() {
	g.emit(reconverge.Op{Kind: reconverge.OpReturn})
}

func (g *generator) genNoise() {
	g.emit(reconverge.Op{Kind: reconverge.OpNoise})
}

func (g *generator) genCall() {
	g.open(reconverge.Op{Kind: reconverge.OpCall}, false)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: reconverge.OpEndCall}})
	g.pushPick(g.bodySize())
}

// pushCases queues one case per non-empty label set, in order.
func (g *generator) pushCases(kind reconverge.OpKind, cases []reconverge.Op) {
	for i := len(cases) - 1; i >= 0; i-- {
		g.push(genTask{kind: taskEmit, op: reconverge.Op{Kind: reconverge.OpEndCase}})
		g.pushPick(1)
		g.push(genTask{kind: taskEmit, op: cases[i]})
	}
}

// genSwitchUniform switches on a uniform value; the case whose label equals
// it takes every lane. A selector past the last label takes no case.
func (g *generator) genSwitchUniform() {
	labels := 1 + g.p.rng.IntN(4)
	sel := g.p.rng.IntN(labels + 1)
	cases := make([]reconverge.Op, 0, labels)
	for c := 0; c < labels; c++ {
		var lanes uint32
		if c == sel {
			lanes = ^uint32(0)
		}
		cases = append(cases, reconverge.Op{Kind: reconverge.OpCaseMask, Value: lanes, CaseValue: 1 << c})
	}
	g.open(reconverge.Op{Kind: reconverge.OpSwitchUniform, Value: uint32(sel)}, false)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: reconverge.OpEndSwitch}})
	g.pushCases(reconverge.OpCaseMask, cases)
}

// genSwitchVar switches on subgroup_id & 3; each residue is assigned to one
// case.
func (g *generator) genSwitchVar() {
	n := 1 + g.p.rng.IntN(4)
	labels := make([]uint32, n)
	for r := 0; r < 4; r++ {
		labels[g.p.rng.IntN(n)] |= 1 << r
	}
	cases := make([]reconverge.Op, 0, n)
	for _, l := range labels {
		if l == 0 {
			continue
		}
		cases = append(cases, reconverge.Op{Kind: reconverge.OpCaseMask, Value: l * 0x11111111, CaseValue: l})
	}
	g.open(reconverge.Op{Kind: reconverge.OpSwitchVar}, false)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: reconverge.OpEndSwitch}})
	g.pushCases(reconverge.OpCaseMask, cases)
}

// genSwitchLoopCount switches on the counter of an enclosing loop; trip
// counts 0..7 are spread over the cases, larger counts take no case.
func (g *generator) genSwitchLoopCount() {
	which := uint32(g.p.rng.IntN(g.loopsInFunction()))
	n := 1 + g.p.rng.IntN(3)
	trips := make([]uint32, n)
	for t := 0; t < 8; t++ {
		trips[g.p.rng.IntN(n)] |= 1 << t
	}
	cases := make([]reconverge.Op, 0, n)
	for _, t := range trips {
		if t == 0 {
			continue
		}
		cases = append(cases, reconverge.Op{Kind: reconverge.OpCaseLoopCount, Value: t, CaseValue: t})
	}
	g.open(reconverge.Op{Kind: reconverge.OpSwitchLoopCount, Value: which}, false)
	g.push(genTask{kind: taskClose, op: reconverge.Op{Kind: reconverge.OpEndSwitch}})
	g.pushCases(reconverge.OpCaseLoopCount, cases)
}
