package simexec

import "github.com/speakeasy-api/reconverge"

// isUniform classifies an active mask under the program's style. size is the
// subgroup size of the current pass.
//
// StyleWGSLv1 shares the whole-group predicate; eventUniform adds its loop
// taint.
func (p *Program) isUniform(m reconverge.Mask, size int) bool {
	inv := p.opts.Invocations
	switch p.opts.Style {
	case reconverge.StyleWorkgroup, reconverge.StyleWGSLv1:
		return !m.Any() || m.All(inv)
	case reconverge.StyleSubgroup:
		for id := 0; id < inv; id += size {
			sub := reconverge.SubgroupMask(m, size, id)
			if sub.Any() && !sub.All(min(size, inv-id)) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// eventUniform classifies a snapshot taken with the innermost frame's mask,
// including loop taint for StyleWGSLv1.
func (p *Program) eventUniform(m reconverge.Mask, size int) bool {
	if !p.isUniform(m, size) {
		return false
	}
	if p.opts.Style == reconverge.StyleWGSLv1 && p.frames.anyTainted() {
		return false
	}
	return true
}

// taintTo marks frames from the innermost one down to depth n as tainted.
// Only StyleWGSLv1 tracks taint.
func (p *Program) taintTo(n int) {
	if p.opts.Style != reconverge.StyleWGSLv1 {
		return
	}
	for i := p.frames.depth(); i >= n; i-- {
		p.frames.at(i).tainted = true
	}
}
