package simexec

import (
	"fmt"

	"github.com/speakeasy-api/reconverge"
)

// CheckResults compares measured snapshots from a device against the
// reference of the last full simulation at the same subgroup size.
//
// measured uses the reference layout: location loc of lane occupies words
// [4*(loc*Invocations()+lane), +4). locations is the count returned by the
// count-only simulation the buffer was sized from.
//
// subgroupSize must match the last full simulation, otherwise a
// CheckStaleReference error is returned.
//
// A nil return means the data is consistent with the program's style.
// Inconsistencies are reported as *CheckError; CheckResults never panics on
// measured data.
func (p *Program) CheckResults(measured []uint32, subgroupSize, locations int) error {
	if p.refSize != subgroupSize {
		msg := fmt.Sprintf("reference was simulated at subgroup size %d, not %d", p.refSize, subgroupSize)
		if p.refSize == 0 {
			msg = fmt.Sprintf("no full simulation has filled the reference for subgroup size %d", subgroupSize)
		}
		return &CheckError{Kind: CheckStaleReference, Style: p.opts.Style.String(), Msg: msg}
	}
	inv := p.opts.Invocations
	effective := min(locations, p.refLocs)
	if len(measured) < 4*effective*inv {
		return &CheckError{
			Kind:  CheckShortBuffer,
			Style: p.opts.Style.String(),
			Msg: fmt.Sprintf("measured buffer holds %d words, need %d for %d locations",
				len(measured), 4*effective*inv, effective),
		}
	}

	var err error
	if p.opts.Style == reconverge.StyleMaximal {
		err = p.checkExact(measured, effective, locations)
	} else {
		err = p.checkTolerant(measured, effective, locations)
	}

	fields := map[string]any{
		"seed":      p.opts.Seed,
		"style":     p.opts.Style,
		"size":      subgroupSize,
		"locations": effective,
	}
	if err != nil {
		p.logger.With(fields).Warnf("Result check failed: %v", err)
	} else {
		p.logger.With(fields).Debugf("Result check passed")
	}
	return err
}

func quadAt(buf []uint32, inv, lane, loc int) Quad {
	i := 4 * (loc*inv + lane)
	return Quad{buf[i], buf[i+1], buf[i+2], buf[i+3]}
}

// checkExact requires every quad to equal the reference. Locations past the
// reference must be zero unless the reference was truncated at MaxLocations.
func (p *Program) checkExact(measured []uint32, effective, locations int) error {
	inv := p.opts.Invocations
	measuredLocs := len(measured) / (4 * inv)
	tail := measuredLocs
	if locations > p.refLocs {
		tail = effective
	}

	var mismatches []Mismatch
	for lane := 0; lane < inv; lane++ {
		for loc := 0; loc < tail; loc++ {
			var want Quad
			if loc < effective {
				want = quadAt(p.refData, inv, lane, loc)
			}
			got := quadAt(measured, inv, lane, loc)
			if got != want {
				mismatches = append(mismatches, Mismatch{Lane: lane, Location: loc, Expected: want, Actual: got})
				break
			}
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &CheckError{
		Kind:       CheckMismatch,
		Style:      p.opts.Style.String(),
		Msg:        fmt.Sprintf("%d of %d lanes differ from the reference", len(mismatches), inv),
		Mismatches: mismatches,
	}
}

// checkTolerant walks, per lane, every (store, uniform ballot) pair of the
// reference and searches the measured data forward, without rewinding, for
// the same two quads at consecutive locations. The measured data may hold
// more locations than the reference.
func (p *Program) checkTolerant(measured []uint32, effective, locations int) error {
	inv := p.opts.Invocations
	measuredLocs := min(locations, len(measured)/(4*inv))

	var mismatches []Mismatch
	matched := 0
	for lane := 0; lane < inv; lane++ {
		res := 1
		for ref := 1; ref < effective; ref++ {
			if p.RefKind(lane, ref) != EventBallot || p.RefKind(lane, ref-1) != EventStore {
				continue
			}
			store := quadAt(p.refData, inv, lane, ref-1)
			ballot := quadAt(p.refData, inv, lane, ref)
			for res < measuredLocs &&
				(quadAt(measured, inv, lane, res-1) != store || quadAt(measured, inv, lane, res) != ballot) {
				res++
			}
			if res >= measuredLocs {
				mismatches = append(mismatches, Mismatch{Lane: lane, Location: ref, Expected: ballot})
				break
			}
			matched++
			res += 2
		}
	}

	if len(mismatches) > 0 {
		return &CheckError{
			Kind:       CheckMissingMatch,
			Style:      p.opts.Style.String(),
			Msg:        fmt.Sprintf("%d of %d lanes miss a uniform store/ballot pair", len(mismatches), inv),
			Mismatches: mismatches,
		}
	}
	if matched == 0 {
		return &CheckError{
			Kind:  CheckNoUniform,
			Style: p.opts.Style.String(),
			Msg:   "expected some uniform condition",
		}
	}
	return nil
}
