package simexec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/speakeasy-api/reconverge"
)

func newTestProgram(t *testing.T, style reconverge.Style, inv int, masks []reconverge.Mask, ops []reconverge.Op) *Program {
	t.Helper()
	if masks == nil {
		masks = []reconverge.Mask{reconverge.LowMask(reconverge.MaxInvocations)}
	}
	opts := DefaultOptions()
	opts.Style = style
	opts.Invocations = inv
	p, err := NewProgramFromOps(opts, ops, masks)
	if err != nil {
		t.Fatalf("NewProgramFromOps failed: %v", err)
	}
	return p
}

// simulateFull runs the count pass and the full pass and returns the
// location count.
func simulateFull(p *Program, size int) int {
	locs := p.Simulate(true, size)
	p.SizeRefData(locs)
	p.Simulate(false, size)
	return locs
}

// refQuads returns the reference quads of one lane.
func refQuads(p *Program, lane int) []Quad {
	var out []Quad
	for loc := 0; loc < p.RefLocations(); loc++ {
		if p.RefKind(lane, loc) == EventNone {
			break
		}
		out = append(out, quadAt(p.RefData(), p.Invocations(), lane, loc))
	}
	return out
}

func splat(v uint32) Quad {
	return Quad{v, v, v, v}
}

func TestSimulate_MaskedStore(t *testing.T) {
	masks := []reconverge.Mask{
		reconverge.LowMask(reconverge.MaxInvocations),
		reconverge.MaskFromUint32(0b1010),
	}
	ops := []reconverge.Op{
		{Kind: reconverge.OpIfMask, Value: 1},
		{Kind: reconverge.OpStore, Value: 100},
		{Kind: reconverge.OpEndIf},
	}
	p := newTestProgram(t, reconverge.StyleWorkgroup, 4, masks, ops)

	if got := simulateFull(p, 4); got != 1 {
		t.Fatalf("Simulate() = %d locations, want 1", got)
	}
	want := map[int][]Quad{
		0: nil,
		1: {splat(100)},
		2: nil,
		3: {splat(100)},
	}
	for lane, w := range want {
		if diff := cmp.Diff(w, refQuads(p, lane)); diff != "" {
			t.Errorf("lane %d mismatch (-want +got):\n%s", lane, diff)
		}
	}
	if got := p.RefKind(1, 0); got != EventStore {
		t.Errorf("RefKind(1, 0) = %s, want store", got)
	}
}

func TestSimulate_TopLevelBallot(t *testing.T) {
	ops := []reconverge.Op{{Kind: reconverge.OpBallot}}
	p := newTestProgram(t, reconverge.StyleWorkgroup, 4, nil, ops)

	if got := simulateFull(p, 4); got != 1 {
		t.Fatalf("Simulate() = %d locations, want 1", got)
	}
	for lane := 0; lane < 4; lane++ {
		if diff := cmp.Diff([]Quad{{0xF, 0, 0, 0}}, refQuads(p, lane)); diff != "" {
			t.Errorf("lane %d mismatch (-want +got):\n%s", lane, diff)
		}
		if got := p.RefKind(lane, 0); got != EventBallot {
			t.Errorf("lane %d: kind %s, want ballot", lane, got)
		}
	}
	if p.UniformEvents() != 1 {
		t.Errorf("UniformEvents() = %d, want 1", p.UniformEvents())
	}
	if !p.Ops()[0].Uniform {
		t.Error("ballot not marked uniform")
	}
}

func TestSimulate_Break(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpForUniform, Value: 3},
		{Kind: reconverge.OpIfID, Value: 2},
		{Kind: reconverge.OpBreak},
		{Kind: reconverge.OpEndIf},
		{Kind: reconverge.OpStore, Value: 7},
		{Kind: reconverge.OpEndForUniform},
	}
	p := newTestProgram(t, reconverge.StyleMaximal, 4, nil, ops)

	if got := simulateFull(p, 4); got != 3 {
		t.Fatalf("Simulate() = %d locations, want 3", got)
	}
	if got := refQuads(p, 0); len(got) != 0 {
		t.Errorf("lane 0 recorded %v after break", got)
	}
	want := []Quad{splat(7), splat(7), splat(7)}
	if diff := cmp.Diff(want, refQuads(p, 3)); diff != "" {
		t.Errorf("lane 3 mismatch (-want +got):\n%s", diff)
	}
}

func TestSimulate_Elect(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpIfID, Value: 6},
		{Kind: reconverge.OpElseID, Value: 6},
		{Kind: reconverge.OpElect},
		{Kind: reconverge.OpBallot},
		{Kind: reconverge.OpEndIf},
		{Kind: reconverge.OpEndIf},
	}
	p := newTestProgram(t, reconverge.StyleMaximal, 8, nil, ops)
	simulateFull(p, 4)

	// Lanes 6 and 7 take the else branch; lane 6 is elected in the second
	// subgroup.
	for lane := 0; lane < 8; lane++ {
		got := refQuads(p, lane)
		if lane == 6 {
			if diff := cmp.Diff([]Quad{{0b0100, 0, 0, 0}}, got); diff != "" {
				t.Errorf("lane 6 mismatch (-want +got):\n%s", diff)
			}
			continue
		}
		if len(got) != 0 {
			t.Errorf("lane %d recorded %v", lane, got)
		}
	}
}

func TestSimulate_InfiniteLoopTerminates(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpLoopInf},
		{Kind: reconverge.OpElect},
		{Kind: reconverge.OpBreak},
		{Kind: reconverge.OpEndIf},
		{Kind: reconverge.OpEndLoopInf},
	}
	p := newTestProgram(t, reconverge.StyleMaximal, 4, nil, ops)

	if got := simulateFull(p, 4); got != 3 {
		t.Fatalf("Simulate() = %d locations, want 3", got)
	}
	// Each iteration elects the lowest lane; survivors ballot in the
	// continuing block.
	want := [][]Quad{
		nil,
		{{0b1110, 0, 0, 0}},
		{{0b1110, 0, 0, 0}, {0b1100, 0, 0, 0}},
		{{0b1110, 0, 0, 0}, {0b1100, 0, 0, 0}, {0b1000, 0, 0, 0}},
	}
	for lane, w := range want {
		if diff := cmp.Diff(w, refQuads(p, lane)); diff != "" {
			t.Errorf("lane %d mismatch (-want +got):\n%s", lane, diff)
		}
	}
}

func TestSimulate_ForVar(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpForVar},
		{Kind: reconverge.OpStore, Value: 1},
		{Kind: reconverge.OpEndForVar},
	}
	p := newTestProgram(t, reconverge.StyleMaximal, 8, nil, ops)

	// Lane i iterates (i % size) + 1 times.
	if got := p.Simulate(true, 4); got != 4 {
		t.Fatalf("Simulate() = %d locations, want 4", got)
	}
	p.SizeRefData(4)
	p.Simulate(false, 4)
	for lane := 0; lane < 8; lane++ {
		if got, want := len(refQuads(p, lane)), lane%4+1; got != want {
			t.Errorf("lane %d iterated %d times, want %d", lane, got, want)
		}
	}
}

func TestSimulate_SwitchVar(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpSwitchVar},
		{Kind: reconverge.OpCaseMask, Value: 0x11111111, CaseValue: 0b0001},
		{Kind: reconverge.OpStore, Value: 1},
		{Kind: reconverge.OpEndCase},
		{Kind: reconverge.OpCaseMask, Value: 0xEEEEEEEE, CaseValue: 0b1110},
		{Kind: reconverge.OpStore, Value: 2},
		{Kind: reconverge.OpEndCase},
		{Kind: reconverge.OpEndSwitch},
	}
	p := newTestProgram(t, reconverge.StyleMaximal, 8, nil, ops)
	simulateFull(p, 4)

	for lane := 0; lane < 8; lane++ {
		want := splat(2)
		if lane%4 == 0 {
			want = splat(1)
		}
		if diff := cmp.Diff([]Quad{want}, refQuads(p, lane)); diff != "" {
			t.Errorf("lane %d mismatch (-want +got):\n%s", lane, diff)
		}
	}
}

func TestSimulate_SwitchLoopCount(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpForUniform, Value: 3},
		{Kind: reconverge.OpSwitchLoopCount, Value: 0},
		{Kind: reconverge.OpCaseLoopCount, Value: 0b010, CaseValue: 0b010},
		{Kind: reconverge.OpStore, Value: 9},
		{Kind: reconverge.OpEndCase},
		{Kind: reconverge.OpEndSwitch},
		{Kind: reconverge.OpEndForUniform},
	}
	p := newTestProgram(t, reconverge.StyleMaximal, 4, nil, ops)

	if got := p.Simulate(true, 4); got != 1 {
		t.Fatalf("Simulate() = %d locations, want 1 (only trip 1 selects the case)", got)
	}
}

func TestSimulate_ReturnLeavesCall(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpCall},
		{Kind: reconverge.OpIfID, Value: 1},
		{Kind: reconverge.OpReturn},
		{Kind: reconverge.OpEndIf},
		{Kind: reconverge.OpStore, Value: 3},
		{Kind: reconverge.OpEndCall},
		{Kind: reconverge.OpStore, Value: 4},
	}
	p := newTestProgram(t, reconverge.StyleMaximal, 2, nil, ops)
	simulateFull(p, 2)

	if diff := cmp.Diff([]Quad{splat(4)}, refQuads(p, 0)); diff != "" {
		t.Errorf("lane 0 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Quad{splat(3), splat(4)}, refQuads(p, 1)); diff != "" {
		t.Errorf("lane 1 mismatch (-want +got):\n%s", diff)
	}
}

func TestIsUniform(t *testing.T) {
	tests := []struct {
		name  string
		style reconverge.Style
		mask  uint32
		want  bool
	}{
		{"workgroup empty", reconverge.StyleWorkgroup, 0x00, true},
		{"workgroup full", reconverge.StyleWorkgroup, 0xFF, true},
		{"workgroup one subgroup", reconverge.StyleWorkgroup, 0x0F, false},
		{"subgroup empty", reconverge.StyleSubgroup, 0x00, true},
		{"subgroup one full subgroup", reconverge.StyleSubgroup, 0xF0, true},
		{"subgroup partial", reconverge.StyleSubgroup, 0x07, false},
		{"subgroup full and partial", reconverge.StyleSubgroup, 0x1F, false},
		{"wgslv1 follows workgroup", reconverge.StyleWGSLv1, 0x0F, false},
		{"maximal partial", reconverge.StyleMaximal, 0x07, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Program{opts: Options{Style: tt.style, Invocations: 8}}
			if got := p.isUniform(reconverge.MaskFromUint32(tt.mask), 4); got != tt.want {
				t.Errorf("isUniform(0x%02x) = %v, want %v", tt.mask, got, tt.want)
			}
		})
	}
}

func TestSimulate_WGSLv1LoopTaint(t *testing.T) {
	// The first iteration diverges through continue; the second starts with
	// every lane active again.
	ops := []reconverge.Op{
		{Kind: reconverge.OpLoopUniform, Value: 2},
		{Kind: reconverge.OpBallot},
		{Kind: reconverge.OpIfID, Value: 1},
		{Kind: reconverge.OpContinue},
		{Kind: reconverge.OpEndIf},
		{Kind: reconverge.OpEndLoopUniform},
		{Kind: reconverge.OpBallot},
	}
	tests := []struct {
		style       reconverge.Style
		wantUniform int
		wantKind    EventKind // second iteration ballot
	}{
		{reconverge.StyleWorkgroup, 3, EventBallot},
		{reconverge.StyleWGSLv1, 2, EventUnvalidatedBallot},
	}
	for _, tt := range tests {
		t.Run(tt.style.String(), func(t *testing.T) {
			p := newTestProgram(t, tt.style, 4, nil, ops)
			simulateFull(p, 4)
			if got := p.UniformEvents(); got != tt.wantUniform {
				t.Errorf("UniformEvents() = %d, want %d", got, tt.wantUniform)
			}
			if got := p.RefKind(0, 1); got != tt.wantKind {
				t.Errorf("RefKind(0, 1) = %s, want %s", got, tt.wantKind)
			}
			if got := p.RefKind(0, 2); got != EventBallot {
				t.Errorf("ballot after the loop = %s, want uniform", got)
			}
			if tt.wantKind == EventUnvalidatedBallot {
				if diff := cmp.Diff(splat(Unvalidated), quadAt(p.RefData(), 4, 0, 1)); diff != "" {
					t.Errorf("unvalidated quad mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestSimulate_WGSLv1IterationTaint(t *testing.T) {
	// Lane 0 breaks out during the first iteration, so the second one
	// starts with lanes 1..3 only.
	ops := []reconverge.Op{
		{Kind: reconverge.OpLoopUniform, Value: 2},
		{Kind: reconverge.OpBallot},
		{Kind: reconverge.OpIfID, Value: 1},
		{Kind: reconverge.OpBreak},
		{Kind: reconverge.OpEndIf},
		{Kind: reconverge.OpEndLoopUniform},
		{Kind: reconverge.OpBallot},
	}
	p := newTestProgram(t, reconverge.StyleWGSLv1, 4, nil, ops)
	simulateFull(p, 4)

	want := []EventKind{EventBallot, EventBallot}
	got := []EventKind{p.RefKind(0, 0), p.RefKind(0, 1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lane 0 kinds (-want +got):\n%s", diff)
	}
	want = []EventKind{EventBallot, EventUnvalidatedBallot, EventBallot}
	got = []EventKind{p.RefKind(1, 0), p.RefKind(1, 1), p.RefKind(1, 2)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lane 1 kinds (-want +got):\n%s", diff)
	}
	if p.frames.at(1).tainted || p.frames.anyTainted() {
		t.Error("loop taint survived the loop")
	}
}

func TestNoteIteration(t *testing.T) {
	full := reconverge.LowMask(4)
	tests := []struct {
		style       reconverge.Style
		active      reconverge.Mask
		wantTainted bool
	}{
		{reconverge.StyleWGSLv1, full.AndNot(reconverge.LowMask(1)), true},
		{reconverge.StyleWGSLv1, full, false},
		{reconverge.StyleWorkgroup, full.AndNot(reconverge.LowMask(1)), false},
	}
	for _, tt := range tests {
		t.Run(tt.style.String(), func(t *testing.T) {
			ops := []reconverge.Op{
				{Kind: reconverge.OpLoopUniform, Value: 2},
				{Kind: reconverge.OpEndLoopUniform},
			}
			p := newTestProgram(t, tt.style, 4, nil, ops)
			p.frames.reset(full)
			f := p.frames.push(tt.active, 0)
			f.isLoop = true

			p.noteIteration(f, 4)
			if f.tainted != tt.wantTainted {
				t.Fatalf("tainted = %v, want %v", f.tainted, tt.wantTainted)
			}
			// A tainted loop makes even a full mask non-uniform.
			if got := p.eventUniform(full, 4); got == tt.wantTainted {
				t.Errorf("eventUniform(full) = %v inside the loop", got)
			}

			p.frames.pop()
			if p.frames.at(1).tainted {
				t.Error("pop left the loop frame tainted")
			}
			if !p.eventUniform(full, 4) {
				t.Error("full mask not uniform after the loop")
			}
		})
	}
}

func TestSimulate_NonUniformBallotMarker(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpIfID, Value: 2},
		{Kind: reconverge.OpBallot},
		{Kind: reconverge.OpEndIf},
	}
	p := newTestProgram(t, reconverge.StyleWorkgroup, 4, nil, ops)
	simulateFull(p, 4)

	if p.Ops()[1].Uniform {
		t.Error("divergent ballot marked uniform")
	}
	if diff := cmp.Diff([]Quad{splat(Unvalidated)}, refQuads(p, 0)); diff != "" {
		t.Errorf("lane 0 mismatch (-want +got):\n%s", diff)
	}
}

func TestSimulate_TruncatedBuffer(t *testing.T) {
	ops := []reconverge.Op{
		{Kind: reconverge.OpStore, Value: 1},
		{Kind: reconverge.OpStore, Value: 2},
		{Kind: reconverge.OpStore, Value: 3},
	}
	p := newTestProgram(t, reconverge.StyleMaximal, 2, nil, ops)
	p.SizeRefData(2)
	if got := p.Simulate(false, 2); got != 3 {
		t.Fatalf("Simulate() = %d, want the uncapped count 3", got)
	}
	if diff := cmp.Diff([]Quad{splat(1), splat(2)}, refQuads(p, 1)); diff != "" {
		t.Errorf("lane 1 mismatch (-want +got):\n%s", diff)
	}
}

func TestSimulate_InternalErrorPanics(t *testing.T) {
	p := newTestProgram(t, reconverge.StyleWorkgroup, 4, nil, nil)
	p.ops = []reconverge.Op{{Kind: reconverge.OpBreak}}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok {
			t.Fatalf("expected error panic, got %v", r)
		}
		var ie *InternalError
		if !errors.As(err, &ie) {
			t.Fatalf("expected *InternalError, got %T", err)
		}
		if ie.PC != 0 || ie.Op != "break" {
			t.Errorf("unexpected location: %v", ie)
		}
	}()
	p.Simulate(true, 4)
}

func TestSimulate_InvalidSubgroupSizePanics(t *testing.T) {
	p := newTestProgram(t, reconverge.StyleWorkgroup, 4, nil, nil)
	for _, size := range []int{0, 3, 256} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Simulate(size=%d) did not panic", size)
				}
			}()
			p.Simulate(true, size)
		}()
	}
}

func TestNewProgramFromOps_Validation(t *testing.T) {
	tests := []struct {
		name string
		ops  []reconverge.Op
	}{
		{"break outside loop", []reconverge.Op{{Kind: reconverge.OpBreak}}},
		{"continue in switch only", []reconverge.Op{
			{Kind: reconverge.OpSwitchVar},
			{Kind: reconverge.OpContinue},
			{Kind: reconverge.OpEndSwitch},
		}},
		{"break across call", []reconverge.Op{
			{Kind: reconverge.OpForUniform, Value: 1},
			{Kind: reconverge.OpCall},
			{Kind: reconverge.OpBreak},
			{Kind: reconverge.OpEndCall},
			{Kind: reconverge.OpEndForUniform},
		}},
		{"else without if", []reconverge.Op{{Kind: reconverge.OpElseMask}}},
		{"mask index out of range", []reconverge.Op{
			{Kind: reconverge.OpIfMask, Value: 5},
			{Kind: reconverge.OpEndIf},
		}},
		{"infinite loop without elect-break", []reconverge.Op{
			{Kind: reconverge.OpForInf},
			{Kind: reconverge.OpEndForInf},
		}},
		{"loop count outside loop", []reconverge.Op{
			{Kind: reconverge.OpIfLoopCount},
			{Kind: reconverge.OpEndIf},
		}},
		{"unbalanced", []reconverge.Op{{Kind: reconverge.OpCall}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProgramFromOps(DefaultOptions(), tt.ops, []reconverge.Mask{{}})
			if err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
