package simexec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/speakeasy-api/reconverge"
)

func generate(t *testing.T, style reconverge.Style, seed uint64, uniformOnly bool) *Program {
	t.Helper()
	opts := DefaultOptions()
	opts.Style = style
	opts.Seed = seed
	opts.UniformOnly = uniformOnly
	p, err := NewProgram(opts)
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	p.Generate()
	return p
}

func TestGenerate_Balanced(t *testing.T) {
	for _, style := range reconverge.Styles() {
		for seed := uint64(1); seed <= 20; seed++ {
			p := generate(t, style, seed, seed%4 == 0)
			ops := p.Ops()

			if len(ops) < minCount {
				t.Errorf("%s seed %d: %d ops, want at least %d", style, seed, len(ops), minCount)
			}
			depth, err := reconverge.MaxNesting(ops)
			if err != nil {
				t.Fatalf("%s seed %d: %v", style, seed, err)
			}
			if depth > p.MaxNesting() {
				t.Errorf("%s seed %d: nesting %d exceeds recorded bound %d", style, seed, depth, p.MaxNesting())
			}
			if err := validateOps(ops, len(p.Masks())); err != nil {
				t.Errorf("%s seed %d: %v", style, seed, err)
			}
		}
	}
}

func TestGenerate_UniformGuarantee(t *testing.T) {
	for _, style := range []reconverge.Style{
		reconverge.StyleWorkgroup,
		reconverge.StyleSubgroup,
		reconverge.StyleWGSLv1,
	} {
		t.Run(style.String(), func(t *testing.T) {
			for seed := uint64(1); seed <= 10; seed++ {
				p := generate(t, style, seed, false)
				p.Simulate(true, ProbeSubgroupSize)
				if p.UniformEvents() == 0 {
					t.Errorf("seed %d: generated program has no uniform ballot after %d attempts", seed, p.Attempts())
				}
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := generate(t, reconverge.StyleSubgroup, 42, false)
	b := generate(t, reconverge.StyleSubgroup, 42, false)
	if diff := cmp.Diff(a.Ops(), b.Ops()); diff != "" {
		t.Fatalf("same seed produced different programs (-a +b):\n%s", diff)
	}
	for i, m := range a.Masks() {
		if !m.Equal(b.Masks()[i]) {
			t.Errorf("mask %d differs: %s vs %s", i, m, b.Masks()[i])
		}
	}

	c := generate(t, reconverge.StyleSubgroup, 43, false)
	if cmp.Equal(a.Ops(), c.Ops()) {
		t.Error("different seeds produced identical programs")
	}
}

func TestGenerate_MaximalNeverRetries(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		p := generate(t, reconverge.StyleMaximal, seed, false)
		if p.Attempts() != 1 {
			t.Errorf("seed %d: Attempts() = %d, want 1", seed, p.Attempts())
		}
	}
}

func TestGenerate_UniformOnly(t *testing.T) {
	divergent := map[reconverge.OpKind]bool{
		reconverge.OpIfID:        true,
		reconverge.OpIfLoopCount: true,
		reconverge.OpElect:       true,
		reconverge.OpForVar:      true,
		reconverge.OpForInf:      true,
		reconverge.OpLoopInf:     true,
		reconverge.OpSwitchVar:   true,
	}
	for seed := uint64(1); seed <= 10; seed++ {
		p := generate(t, reconverge.StyleWorkgroup, seed, true)
		for pc, op := range p.Ops() {
			if divergent[op.Kind] {
				t.Fatalf("seed %d pc %d: %s in uniform-only program", seed, pc, op.Kind)
			}
			if op.Kind == reconverge.OpIfMask && op.Value != 0 {
				t.Fatalf("seed %d pc %d: ifmask uses mask %d", seed, pc, op.Value)
			}
		}
		for _, size := range []int{1, 8, 128} {
			p.Simulate(true, size)
			for pc, op := range p.Ops() {
				if op.Kind == reconverge.OpBallot && !op.Uniform {
					t.Errorf("seed %d size %d pc %d: ballot not uniform", seed, size, pc)
				}
			}
		}
	}
}

func TestGenerate_SmallLaneCount(t *testing.T) {
	opts := DefaultOptions()
	opts.Invocations = 16
	opts.Style = reconverge.StyleMaximal
	opts.Seed = 5
	p, err := NewProgram(opts)
	if err != nil {
		t.Fatal(err)
	}
	p.Generate()
	for _, size := range []int{1, 2, 4, 8, 16, 32, 64, 128} {
		locs := simulateFull(p, size)
		if err := p.CheckResults(p.RefData(), size, locs); err != nil {
			t.Errorf("size %d: %v", size, err)
		}
	}
}
