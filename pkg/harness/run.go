package harness

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/speakeasy-api/reconverge"
	"github.com/speakeasy-api/reconverge/simexec"
	"golang.org/x/sync/errgroup"
)

// Case identifies one generated test case.
type Case struct {
	Style        reconverge.Style
	Seed         uint64
	SubgroupSize int
}

func (c Case) String() string {
	return fmt.Sprintf("%s/seed=%d/size=%d", c.Style, c.Seed, c.SubgroupSize)
}

// Status is the outcome of a case.
type Status int

const (
	StatusNotRun Status = iota
	StatusPass
	StatusFail
	// StatusInconclusive means the reference holds no uniform store/ballot
	// pair at this subgroup size, so nothing could be validated.
	StatusInconclusive
	// StatusError means the device or the size checks failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNotRun:
		return "not-run"
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusInconclusive:
		return "inconclusive"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of RunCase.
type Result struct {
	Case      Case
	Status    Status
	Err       error
	Ops       int
	Locations int
	Attempts  int

	// Program is kept for failing cases so they can be saved.
	Program *simexec.Program
}

// RunCase generates the program for c, simulates the reference, runs it on
// dev and checks the measurement. opts supplies invocations, mode and
// logging; style and seed come from c.
func RunCase(ctx context.Context, dev Device, c Case, opts simexec.Options) Result {
	opts.Style = c.Style
	opts.Seed = c.Seed
	res := Result{Case: c}

	p, err := simexec.NewProgram(opts)
	if err != nil {
		res.Status, res.Err = StatusError, err
		return res
	}
	p.Generate()
	res.Ops = len(p.Ops())
	res.Attempts = p.Attempts()

	locs := p.Simulate(true, c.SubgroupSize)
	p.SizeRefData(locs)
	p.Simulate(false, c.SubgroupSize)
	res.Locations = locs

	req := Request{
		Ops:          p.Ops(),
		Masks:        p.Masks(),
		Invocations:  p.Invocations(),
		SubgroupSize: c.SubgroupSize,
		Locations:    min(locs, simexec.MaxLocations),
	}
	m, err := dev.Run(ctx, req)
	if err != nil {
		res.Status, res.Err, res.Program = StatusError, fmt.Errorf("device run failed: %w", err), p
		return res
	}
	if err := CheckSizes(req, m); err != nil {
		res.Status, res.Err, res.Program = StatusError, err, p
		return res
	}

	err = p.CheckResults(m.Ballots, c.SubgroupSize, req.Locations)
	switch {
	case err == nil:
		res.Status = StatusPass
	case simexec.IsCheckError(err, simexec.CheckNoUniform):
		res.Status, res.Err = StatusInconclusive, err
	default:
		res.Status, res.Err, res.Program = StatusFail, err, p
	}
	return res
}

// SweepConfig selects the cases of a sweep.
type SweepConfig struct {
	Styles    []reconverge.Style
	FirstSeed uint64
	Seeds     int
	Sizes     []int
	Workers   int // defaults to GOMAXPROCS
	Options   simexec.Options
}

// Cases expands cfg into its case list, style-major then seed then size.
func (cfg SweepConfig) Cases() []Case {
	cases := make([]Case, 0, len(cfg.Styles)*cfg.Seeds*len(cfg.Sizes))
	for _, style := range cfg.Styles {
		for i := 0; i < cfg.Seeds; i++ {
			for _, size := range cfg.Sizes {
				cases = append(cases, Case{Style: style, Seed: cfg.FirstSeed + uint64(i), SubgroupSize: size})
			}
		}
	}
	return cases
}

// Sweep runs every case of cfg on dev in parallel. Results are returned in
// Cases order. progress, if non-nil, is called after each case from the
// worker that finished it.
//
// Cancelling ctx stops the sweep between cases; the results slice is still
// returned, with zero entries for cases that did not run, together with the
// context error.
func Sweep(ctx context.Context, dev Device, cfg SweepConfig, progress func(done, total int, r Result)) ([]Result, error) {
	for _, size := range cfg.Sizes {
		if size <= 0 || size > reconverge.MaxInvocations || size&(size-1) != 0 {
			return nil, fmt.Errorf("invalid subgroup size %d", size)
		}
	}
	cases := cfg.Cases()
	results := make([]Result, len(cases))
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var done atomic.Int64
	for i, c := range cases {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = RunCase(gctx, dev, c, cfg.Options)
			n := int(done.Add(1))
			if progress != nil {
				progress(n, len(cases), results[i])
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return results, err
}

// Summary counts results per status.
type Summary struct {
	Total        int
	Passed       int
	Failed       int
	Inconclusive int
	Errored      int
	NotRun       int
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusInconclusive:
			s.Inconclusive++
		case StatusError:
			s.Errored++
		default:
			s.NotRun++
		}
	}
	return s
}
