package reconverge

import (
	"fmt"
	"strings"
)

// Style selects the reconvergence model a program is simulated under.
type Style int

const (
	// StyleWorkgroup guarantees reconvergence only where control flow is
	// uniform across the whole lane set.
	StyleWorkgroup Style = iota
	// StyleSubgroup guarantees reconvergence where every subgroup is
	// independently uniform.
	StyleSubgroup
	// StyleMaximal requires maximal reconvergence; every snapshot is exact.
	StyleMaximal
	// StyleWGSLv1 is StyleWorkgroup, except that a loop loses its guarantee
	// for the rest of its lifetime once an iteration or continue diverges.
	StyleWGSLv1
)

func (s Style) String() string {
	switch s {
	case StyleWorkgroup:
		return "workgroup"
	case StyleSubgroup:
		return "subgroup"
	case StyleMaximal:
		return "maximal"
	case StyleWGSLv1:
		return "wgslv1"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

// Tolerant reports whether results are matched by forward search instead of
// literally.
func (s Style) Tolerant() bool {
	return s != StyleMaximal
}

// ParseStyle parses a style name. Aliases from the formal model names are
// accepted.
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "workgroup", "whole-group":
		return StyleWorkgroup, nil
	case "subgroup", "per-subgroup":
		return StyleSubgroup, nil
	case "maximal", "exact":
		return StyleMaximal, nil
	case "wgslv1", "relaxed":
		return StyleWGSLv1, nil
	}
	return 0, fmt.Errorf("unknown reconvergence style %q", s)
}

// Styles lists every style in declaration order.
func Styles() []Style {
	return []Style{StyleWorkgroup, StyleSubgroup, StyleMaximal, StyleWGSLv1}
}
