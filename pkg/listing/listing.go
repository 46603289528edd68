// Package listing renders an instruction sequence as indented pseudo-code
// for diagnostics.
package listing

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/speakeasy-api/reconverge"
)

type Cfg struct {
	Indent  int  // spaces per nesting level
	PC      bool // prefix each line with its instruction index
	Uniform bool // annotate ballots that were not classified uniform
}

// DefaultCfg prints two-space indentation with instruction indices.
func DefaultCfg() Cfg {
	return Cfg{Indent: 2, PC: true, Uniform: true}
}

func ValidateConfig(cfg Cfg) (Cfg, error) {
	if cfg.Indent < 0 || cfg.Indent > 8 {
		return cfg, fmt.Errorf("invalid indent %d; must be between 0 and 8", cfg.Indent)
	}
	return cfg, nil
}

type line struct {
	pc    int
	depth int
	text  string
	note  string
}

// Format renders ops. The sequence must be balanced.
func Format(ops []reconverge.Op, cfg Cfg) (string, error) {
	cfg, err := ValidateConfig(cfg)
	if err != nil {
		return "", err
	}
	if _, err := reconverge.MaxNesting(ops); err != nil {
		return "", fmt.Errorf("could not format program: %w", err)
	}

	lines := make([]line, 0, len(ops))
	depth := 0
	for pc, op := range ops {
		l := line{pc: pc, text: statement(op)}
		switch {
		case op.Kind.Opens():
			l.depth = depth
			depth++
		case op.Kind.Closes():
			depth--
			l.depth = depth
		case op.Kind == reconverge.OpCaseMask || op.Kind == reconverge.OpCaseLoopCount:
			l.depth = depth
			depth++
		case op.Kind == reconverge.OpEndCase:
			depth--
			l.depth = depth
		case isElse(op.Kind):
			l.depth = depth - 1
		default:
			l.depth = depth
		}
		if cfg.Uniform && op.Kind == reconverge.OpBallot && !op.Uniform {
			l.note = "// unvalidated"
		}
		lines = append(lines, l)
	}

	width := 0
	for i := range lines {
		lines[i].text = strings.Repeat(" ", lines[i].depth*cfg.Indent) + lines[i].text
		width = max(width, runewidth.StringWidth(lines[i].text))
	}
	pcWidth := len(fmt.Sprint(len(ops)))

	var b strings.Builder
	for _, l := range lines {
		if cfg.PC {
			fmt.Fprintf(&b, "%*d: ", pcWidth, l.pc)
		}
		if l.note == "" {
			b.WriteString(l.text)
		} else {
			b.WriteString(runewidth.FillRight(l.text, width))
			b.WriteString("  ")
			b.WriteString(l.note)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Masks renders the mask table, one entry per line.
func Masks(masks []reconverge.Mask) string {
	var b strings.Builder
	for i, m := range masks {
		if i == 0 {
			fmt.Fprintf(&b, "mask[%d] = true\n", i)
			continue
		}
		fmt.Fprintf(&b, "mask[%d] = %s\n", i, m)
	}
	return b.String()
}

func isElse(k reconverge.OpKind) bool {
	return k == reconverge.OpElseMask || k == reconverge.OpElseID || k == reconverge.OpElseLoopCount
}

func statement(op reconverge.Op) string {
	switch op.Kind {
	case reconverge.OpBallot:
		return "ballot();"
	case reconverge.OpStore:
		return fmt.Sprintf("store(0x%x);", op.Value)
	case reconverge.OpIfMask:
		if op.Value == 0 {
			return "if (true) {"
		}
		return fmt.Sprintf("if (mask[%d]) {", op.Value)
	case reconverge.OpIfID:
		return fmt.Sprintf("if (id < %d) {", op.Value)
	case reconverge.OpIfLoopCount:
		return "if (subgroup_id == i) {"
	case reconverge.OpElseMask, reconverge.OpElseID, reconverge.OpElseLoopCount:
		return "} else {"
	case reconverge.OpElect:
		return "if (elect()) {"
	case reconverge.OpEndIf, reconverge.OpEndCall, reconverge.OpEndSwitch, reconverge.OpEndCase,
		reconverge.OpEndForUniform, reconverge.OpEndForVar, reconverge.OpEndForInf,
		reconverge.OpEndLoopUniform:
		return "}"
	case reconverge.OpEndLoopInf:
		return "} continuing { ballot(); }"
	case reconverge.OpForUniform:
		return fmt.Sprintf("for (var i = 0; i < %d; i++) {", op.Value)
	case reconverge.OpForVar:
		return "for (var i = 0; i < subgroup_id + 1; i++) {"
	case reconverge.OpForInf:
		return "for (var i = 0; ; i++) {"
	case reconverge.OpLoopUniform:
		return fmt.Sprintf("loop { // %d iterations", op.Value)
	case reconverge.OpLoopInf:
		return "loop {"
	case reconverge.OpBreak:
		return "break;"
	case reconverge.OpContinue:
		return "continue;"
	case reconverge.OpReturn:
		return "return;"
	case reconverge.OpCall:
		return "call {"
	case reconverge.OpSwitchUniform:
		return fmt.Sprintf("switch (%d) {", op.Value)
	case reconverge.OpSwitchVar:
		return "switch (subgroup_id & 3) {"
	case reconverge.OpSwitchLoopCount:
		return fmt.Sprintf("switch (loop[%d].i) {", op.Value)
	case reconverge.OpCaseMask, reconverge.OpCaseLoopCount:
		return "case " + labels(op.CaseValue) + ": {"
	case reconverge.OpNoise:
		return "noise();"
	}
	return op.String()
}

// labels lists the set bits of v.
func labels(v uint32) string {
	if v == 0 {
		return "none"
	}
	items := make([]string, 0, bits.OnesCount32(v))
	for v != 0 {
		b := bits.TrailingZeros32(v)
		items = append(items, fmt.Sprint(b))
		v &^= 1 << b
	}
	return strings.Join(items, ", ")
}
