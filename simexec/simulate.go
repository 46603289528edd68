package simexec

import (
	"fmt"

	"github.com/speakeasy-api/reconverge"
)

// Simulate replays the program once for the given subgroup size.
//
// With countOnly set, only the number of recorded locations is computed.
// Otherwise the reference buffer sized by SizeRefData is filled; entries past
// its capacity are dropped. Simulate returns the largest number of locations
// any lane recorded.
//
// Simulate panics with an *InternalError when the instruction sequence breaks
// the structural guarantees of the generator, and panics if subgroupSize is
// not a power of two in [1,128].
func (p *Program) Simulate(countOnly bool, subgroupSize int) int {
	if !validSubgroupSize(subgroupSize) {
		panic(fmt.Sprintf("invalid subgroup size %d", subgroupSize))
	}
	inv := p.opts.Invocations
	if p.frames == nil || len(p.frames.frames) < p.depth+1 {
		p.frames = newFrameStack(p.depth)
	}
	if cap(p.locs) < inv {
		p.locs = make([]int, inv)
	}
	p.locs = p.locs[:inv]
	clear(p.locs)
	if !countOnly {
		clear(p.refData)
		clear(p.refKinds)
		p.refSize = subgroupSize
	}
	p.uniformEvents = 0
	for i := range p.ops {
		p.ops[i].Uniform = true
	}

	fs := p.frames
	fs.reset(reconverge.LowMask(inv))
	size := subgroupSize
	iterations := 0

	for pc := 0; pc < len(p.ops); {
		op := &p.ops[pc]
		cur := fs.cur()

		switch op.Kind {
		case reconverge.OpBallot:
			p.recordBallot(op, cur.active, size, countOnly)

		case reconverge.OpStore:
			p.recordStore(op.Value, cur.active, countOnly)

		case reconverge.OpIfMask:
			fs.push(cur.active.And(p.laneMask(op.Value, size)), pc)

		case reconverge.OpElseMask:
			cur.active = fs.parent().active.AndNot(p.laneMask(op.Value, size))

		case reconverge.OpIfLoopCount:
			trip := fs.at(p.innermostLoop(pc)).tripCount
			fs.push(cur.active.And(loopCountMask(trip, size)), pc)

		case reconverge.OpElseLoopCount:
			trip := fs.at(p.innermostLoop(pc)).tripCount
			cur.active = fs.parent().active.AndNot(loopCountMask(trip, size))

		case reconverge.OpIfID:
			fs.push(cur.active.And(reconverge.LowMask(int(op.Value))), pc)

		case reconverge.OpElseID:
			cur.active = fs.parent().active.AndNot(reconverge.LowMask(int(op.Value)))

		case reconverge.OpElect:
			fs.push(reconverge.Elect(cur.active, size, reconverge.MaxInvocations), pc)

		case reconverge.OpEndIf, reconverge.OpEndCall, reconverge.OpEndSwitch:
			fs.pop()

		case reconverge.OpForUniform, reconverge.OpForInf, reconverge.OpForVar,
			reconverge.OpLoopUniform, reconverge.OpLoopInf:
			f := fs.push(cur.active, pc)
			f.isLoop = true

		case reconverge.OpEndForUniform, reconverge.OpEndLoopUniform:
			cur.tripCount++
			cur.active = cur.active.Or(cur.continues)
			cur.continues = reconverge.Mask{}
			if cur.tripCount < int(p.ops[cur.header].Value) && cur.active.Any() {
				p.noteIteration(cur, size)
				pc = cur.header + 1
				iterations++
				continue
			}
			fs.pop()

		case reconverge.OpEndForVar:
			cur.tripCount++
			cur.active = cur.active.Or(cur.continues)
			cur.continues = reconverge.Mask{}
			// for (i = 0; i < subgroup_id + 1; i++): lanes whose id is below
			// the trip count are done.
			done := reconverge.Replicate(reconverge.LowMask(cur.tripCount), size, reconverge.MaxInvocations)
			cur.active = cur.active.AndNot(done)
			if cur.active.Any() {
				p.noteIteration(cur, size)
				pc = cur.header + 1
				iterations++
				continue
			}
			fs.pop()

		case reconverge.OpEndForInf, reconverge.OpEndLoopInf:
			cur.tripCount++
			cur.active = cur.active.Or(cur.continues)
			cur.continues = reconverge.Mask{}
			if cur.active.Any() {
				p.noteIteration(cur, size)
				// The continuing block holds a ballot.
				p.recordBallot(op, cur.active, size, countOnly)
				pc = cur.header + 1
				iterations++
				continue
			}
			fs.pop()

		case reconverge.OpBreak:
			mask := cur.active
			for n := fs.depth(); ; n-- {
				if n < 0 {
					panic(&InternalError{PC: pc, Op: op.Kind.String(), Msg: "no enclosing loop or switch"})
				}
				f := fs.at(n)
				if f.isCall {
					panic(&InternalError{PC: pc, Op: op.Kind.String(), Msg: "break crosses a call boundary"})
				}
				f.active = f.active.AndNot(mask)
				if f.isLoop || f.isSwitch {
					break
				}
			}

		case reconverge.OpContinue:
			mask := cur.active
			for n := fs.depth(); ; n-- {
				if n < 0 {
					panic(&InternalError{PC: pc, Op: op.Kind.String(), Msg: "no enclosing loop"})
				}
				f := fs.at(n)
				if f.isCall {
					panic(&InternalError{PC: pc, Op: op.Kind.String(), Msg: "continue crosses a call boundary"})
				}
				f.active = f.active.AndNot(mask)
				if f.isLoop {
					f.continues = f.continues.Or(mask)
					if !p.isUniform(mask, size) {
						p.taintTo(n)
					}
					break
				}
			}

		case reconverge.OpReturn:
			mask := cur.active
			for n := fs.depth(); n >= 0; n-- {
				f := fs.at(n)
				f.active = f.active.AndNot(mask)
				if f.isCall {
					break
				}
			}

		case reconverge.OpCall:
			f := fs.push(cur.active, pc)
			f.isCall = true

		case reconverge.OpSwitchUniform, reconverge.OpSwitchVar, reconverge.OpSwitchLoopCount:
			f := fs.push(cur.active, pc)
			f.isSwitch = true

		case reconverge.OpCaseMask:
			cur.active = fs.parent().active.And(caseLaneMask(op.Value, size))

		case reconverge.OpCaseLoopCount:
			which := int(p.ops[cur.header].Value)
			trip := fs.at(p.enclosingLoop(pc, fs.depth()-1, which)).tripCount
			if trip < 32 && op.Value>>uint(trip)&1 == 1 {
				cur.active = fs.parent().active
			} else {
				cur.active = reconverge.Mask{}
			}

		case reconverge.OpEndCase, reconverge.OpNoise:

		default:
			panic(&InternalError{PC: pc, Msg: fmt.Sprintf("unknown op kind %d", int(op.Kind))})
		}
		pc++
	}

	if fs.depth() != 0 {
		panic(&InternalError{PC: len(p.ops), Msg: fmt.Sprintf("%d scopes left open", fs.depth())})
	}

	most := 0
	for _, n := range p.locs {
		if n > most {
			most = n
		}
	}
	p.logger.With(map[string]any{
		"seed":       p.opts.Seed,
		"size":       size,
		"countOnly":  countOnly,
		"locations":  most,
		"uniform":    p.uniformEvents,
		"iterations": iterations,
	}).Debugf("Simulation finished")
	return most
}

// SizeRefData allocates a zeroed reference buffer for the given number of
// locations per lane, capped at MaxLocations.
func (p *Program) SizeRefData(locations int) {
	n := max(0, min(locations, MaxLocations))
	inv := p.opts.Invocations
	p.refLocs = n
	p.refSize = 0
	p.refData = make([]uint32, 4*n*inv)
	p.refKinds = make([]EventKind, n*inv)
}

// noteIteration applies the StyleWGSLv1 rule that a loop whose next
// iteration starts non-uniform stays non-uniform until it exits.
func (p *Program) noteIteration(f *frame, size int) {
	if p.opts.Style == reconverge.StyleWGSLv1 && !p.isUniform(f.active, size) {
		f.tainted = true
	}
}

func (p *Program) recordStore(value uint32, active reconverge.Mask, countOnly bool) {
	if !active.Any() {
		return
	}
	for lane := range p.locs {
		if !active.TestBit(lane) {
			continue
		}
		if !countOnly {
			p.write(lane, Quad{value, value, value, value}, EventStore)
		}
		p.locs[lane]++
	}
}

func (p *Program) recordBallot(op *reconverge.Op, active reconverge.Mask, size int, countOnly bool) {
	if !active.Any() {
		return
	}
	uniform := p.eventUniform(active, size)
	if uniform {
		p.uniformEvents++
	} else {
		op.Uniform = false
	}
	for lane := range p.locs {
		if !active.TestBit(lane) {
			continue
		}
		if !countOnly {
			if uniform {
				p.write(lane, Quad(reconverge.SubgroupMask(active, size, lane).Words()), EventBallot)
			} else {
				p.write(lane, Quad{Unvalidated, Unvalidated, Unvalidated, Unvalidated}, EventUnvalidatedBallot)
			}
		}
		p.locs[lane]++
	}
}

// write stores q at the next location of lane if the buffer has room.
func (p *Program) write(lane int, q Quad, kind EventKind) {
	loc := p.locs[lane]
	if loc >= p.refLocs {
		return
	}
	entry := loc*p.opts.Invocations + lane
	copy(p.refData[4*entry:4*entry+4], q[:])
	p.refKinds[entry] = kind
}

// laneMask returns the lanes selected by mask table entry idx. Entry 0 is
// the uniformly true condition.
func (p *Program) laneMask(idx uint32, size int) reconverge.Mask {
	if idx == 0 {
		return reconverge.LowMask(reconverge.MaxInvocations)
	}
	if int(idx) >= len(p.masks) {
		panic(&InternalError{PC: -1, Msg: fmt.Sprintf("mask index %d out of range", idx)})
	}
	return reconverge.Replicate(p.masks[idx], size, reconverge.MaxInvocations)
}

// innermostLoop returns the depth of the innermost loop frame.
func (p *Program) innermostLoop(pc int) int {
	return p.enclosingLoop(pc, p.frames.depth(), 0)
}

// enclosingLoop returns the depth of the which-th loop frame (0 = innermost)
// found walking outward from depth from. Loops outside the current function
// are not visible.
func (p *Program) enclosingLoop(pc, from, which int) int {
	for n := from; n >= 0; n-- {
		f := p.frames.at(n)
		if f.isCall {
			break
		}
		if f.isLoop {
			if which == 0 {
				return n
			}
			which--
		}
	}
	panic(&InternalError{PC: pc, Op: p.ops[pc].Kind.String(), Msg: "no enclosing loop"})
}

// loopCountMask selects lanes whose subgroup invocation id equals trip.
func loopCountMask(trip, size int) reconverge.Mask {
	if trip >= size {
		return reconverge.Mask{}
	}
	return reconverge.Replicate(reconverge.Mask{}.SetBit(trip), size, reconverge.MaxInvocations)
}

// caseLaneMask expands a 32-bit pattern over subgroup invocation ids.
func caseLaneMask(pattern uint32, size int) reconverge.Mask {
	full := reconverge.Replicate(reconverge.MaskFromUint32(pattern), 32, reconverge.MaxInvocations)
	return reconverge.Replicate(full, size, reconverge.MaxInvocations)
}

func validSubgroupSize(size int) bool {
	return size > 0 && size <= reconverge.MaxInvocations && size&(size-1) == 0
}
