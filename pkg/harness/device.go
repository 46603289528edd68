// Package harness runs generated programs against a device and checks the
// results against the simulated reference.
package harness

import (
	"context"
	"fmt"

	"github.com/speakeasy-api/reconverge"
	"github.com/speakeasy-api/reconverge/simexec"
)

// Request describes one dispatch of a program.
type Request struct {
	Ops          []reconverge.Op
	Masks        []reconverge.Mask
	Invocations  int
	SubgroupSize int
	Locations    int // snapshot locations per lane the output buffer holds
}

// Measurement is what a device reports back.
type Measurement struct {
	// Ballots uses the reference layout: location loc of lane occupies
	// words [4*(loc*Invocations+lane), +4).
	Ballots []uint32
	// SizeCheck holds the reported subgroup size and the population count
	// of an unconditional ballot.
	SizeCheck [2]uint32
	// SubgroupIDs holds the subgroup invocation id of every lane.
	SubgroupIDs []uint32
}

// Device executes programs. Implementations translate the instruction
// sequence into their own shader language.
type Device interface {
	Run(ctx context.Context, req Request) (*Measurement, error)
}

// EmulatedDevice produces maximally reconverged results by simulating the
// program under reconverge.StyleMaximal.
type EmulatedDevice struct {
	// Corrupt, if set, edits each measurement before it is returned.
	Corrupt func(req Request, m *Measurement)
}

func (d *EmulatedDevice) Run(ctx context.Context, req Request) (*Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := simexec.DefaultOptions()
	opts.Style = reconverge.StyleMaximal
	opts.Invocations = req.Invocations
	p, err := simexec.NewProgramFromOps(opts, req.Ops, req.Masks)
	if err != nil {
		return nil, fmt.Errorf("emulated device: %w", err)
	}

	p.SizeRefData(req.Locations)
	p.Simulate(false, req.SubgroupSize)

	m := &Measurement{
		Ballots:     make([]uint32, 4*req.Locations*req.Invocations),
		SizeCheck:   [2]uint32{uint32(req.SubgroupSize), uint32(min(req.SubgroupSize, req.Invocations))},
		SubgroupIDs: make([]uint32, req.Invocations),
	}
	copy(m.Ballots, p.RefData())
	for lane := range m.SubgroupIDs {
		m.SubgroupIDs[lane] = uint32(lane % req.SubgroupSize)
	}
	if d.Corrupt != nil {
		d.Corrupt(req, m)
	}
	return m, nil
}

// CheckSizes validates the size-check and id capture arrays of m.
func CheckSizes(req Request, m *Measurement) error {
	if got := int(m.SizeCheck[0]); got != req.SubgroupSize {
		return fmt.Errorf("device reported subgroup size %d, want %d", got, req.SubgroupSize)
	}
	if got, want := int(m.SizeCheck[1]), min(req.SubgroupSize, req.Invocations); got != want {
		return fmt.Errorf("unconditional ballot has %d lanes, want %d", got, want)
	}
	if len(m.SubgroupIDs) != req.Invocations {
		return fmt.Errorf("captured %d subgroup ids, want %d", len(m.SubgroupIDs), req.Invocations)
	}
	for lane, id := range m.SubgroupIDs {
		if int(id) != lane%req.SubgroupSize {
			return fmt.Errorf("lane %d has subgroup invocation id %d, want %d", lane, id, lane%req.SubgroupSize)
		}
	}
	return nil
}
