package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/itchyny/timefmt-go"
	"github.com/mattn/go-runewidth"
	"github.com/speakeasy-api/reconverge"
	"github.com/speakeasy-api/reconverge/pkg/harness"
)

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorGray  = "\x1b[90m"
)

type reporter struct {
	w     io.Writer
	color bool
}

func (r *reporter) paint(color, s string) string {
	if !r.color {
		return s
	}
	return color + s + colorReset
}

func (r *reporter) header(cfg Config, started time.Time) {
	fmt.Fprintf(r.w, "=== Reconvergence sweep %s ===\n", timefmt.Format(started, "%Y-%m-%d %H:%M:%S"))
	fmt.Fprintf(r.w, "styles: %s  seeds: %d..%d  sizes: %v  invocations: %d",
		strings.Join(cfg.Styles, ","), cfg.Seed, cfg.Seed+uint64(cfg.Seeds)-1, cfg.Sizes, cfg.Invocations)
	if cfg.UniformOnly {
		fmt.Fprint(r.w, "  uniform-only")
	}
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w)
}

type cell struct {
	pass, fail, inconclusive, errored int
}

// table prints one row per style and one column per subgroup size.
func (r *reporter) table(results []harness.Result, sizes []int) {
	cells := make(map[reconverge.Style]map[int]*cell)
	var styles []reconverge.Style
	for _, res := range results {
		if res.Status == harness.StatusNotRun {
			continue
		}
		row, ok := cells[res.Case.Style]
		if !ok {
			row = make(map[int]*cell)
			cells[res.Case.Style] = row
			styles = append(styles, res.Case.Style)
		}
		c, ok := row[res.Case.SubgroupSize]
		if !ok {
			c = &cell{}
			row[res.Case.SubgroupSize] = c
		}
		switch res.Status {
		case harness.StatusPass:
			c.pass++
		case harness.StatusFail:
			c.fail++
		case harness.StatusInconclusive:
			c.inconclusive++
		case harness.StatusError:
			c.errored++
		}
	}
	sort.Slice(styles, func(i, j int) bool { return styles[i] < styles[j] })

	const styleWidth = 10
	const cellWidth = 12
	fmt.Fprint(r.w, runewidth.FillRight("style", styleWidth))
	for _, size := range sizes {
		fmt.Fprint(r.w, runewidth.FillLeft(fmt.Sprintf("n=%d", size), cellWidth))
	}
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, strings.Repeat("─", styleWidth+cellWidth*len(sizes)))

	for _, style := range styles {
		fmt.Fprint(r.w, runewidth.FillRight(style.String(), styleWidth))
		for _, size := range sizes {
			c := cells[style][size]
			text, color := "-", colorGray
			if c != nil {
				text = fmt.Sprintf("%d/%d", c.pass, c.pass+c.fail+c.errored)
				if c.inconclusive > 0 {
					text += fmt.Sprintf("+%d", c.inconclusive)
				}
				color = colorGreen
				if c.fail+c.errored > 0 {
					color = colorRed
				}
			}
			// Pad before painting so escape codes do not count as width.
			fmt.Fprint(r.w, r.paint(color, runewidth.FillLeft(text, cellWidth)))
		}
		fmt.Fprintln(r.w)
	}
	fmt.Fprintln(r.w)
}

func (r *reporter) summary(s harness.Summary, elapsed time.Duration) {
	fmt.Fprintf(r.w, "Total cases: %d (%s)\n", s.Total, elapsed.Round(time.Millisecond))
	fmt.Fprintf(r.w, "  PASS:         %s\n", r.paint(colorGreen, fmt.Sprint(s.Passed)))
	fmt.Fprintf(r.w, "  FAIL:         %s\n", r.paint(colorRed, fmt.Sprint(s.Failed)))
	fmt.Fprintf(r.w, "  ERROR:        %d\n", s.Errored)
	fmt.Fprintf(r.w, "  INCONCLUSIVE: %d\n", s.Inconclusive)
	if s.NotRun > 0 {
		fmt.Fprintf(r.w, "  NOT RUN:      %d\n", s.NotRun)
	}
}

// failures lists failing and erroring cases with the first lines of their
// diagnostics.
func (r *reporter) failures(results []harness.Result, saved map[harness.Case]string, maxLines int) {
	first := true
	for _, res := range results {
		if res.Status != harness.StatusFail && res.Status != harness.StatusError {
			continue
		}
		if first {
			fmt.Fprintln(r.w)
			fmt.Fprintln(r.w, "FAILURES:")
			first = false
		}
		fmt.Fprintf(r.w, "  %s: %s\n", r.paint(colorRed, res.Case.String()), res.Status)
		lines := strings.Split(res.Err.Error(), "\n")
		for i, l := range lines {
			if i == maxLines {
				fmt.Fprintf(r.w, "    ... %d more\n", len(lines)-maxLines)
				break
			}
			fmt.Fprintf(r.w, "    %s\n", strings.TrimSpace(l))
		}
		if path, ok := saved[res.Case]; ok {
			fmt.Fprintf(r.w, "    saved to %s\n", path)
		}
	}
}
