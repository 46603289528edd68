package simexec

import (
	"github.com/speakeasy-api/reconverge"
)

// Options configures program generation and simulation.
type Options struct {
	Style       reconverge.Style
	Seed        uint64
	Invocations int  // Lane count, at most reconverge.MaxInvocations (default: 128)
	UniformOnly bool // If true, only generate instructions whose conditions never diverge

	// Logging configuration
	LogLevel string // Log level: "error", "warn", "info", "debug"; empty disables logging
	Logger   Logger // Overrides LogLevel when set
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		Style:       reconverge.StyleWorkgroup,
		Seed:        1,
		Invocations: reconverge.MaxInvocations,
		UniformOnly: false,
		LogLevel:    "",
	}
}

// Generation and buffer limits.
const (
	// MaxLocations caps the number of snapshot locations per lane that a
	// reference buffer holds.
	MaxLocations = 0x1000

	// ProbeSubgroupSize is the subgroup size of the generator's self-check.
	ProbeSubgroupSize = 64

	// StoreBase is added to the instruction index to form store markers.
	StoreBase = 0x10000

	// Unvalidated fills all four words of a ballot snapshot that is not
	// uniform under the active style.
	Unvalidated = 0x12345678

	numMasks       = 10
	minCount       = 30
	maxCount       = 300
	maxLoopNesting = 3
	maxCallNesting = 2
)

// EventKind classifies a recorded reference entry.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventStore
	EventBallot            // uniform ballot, validated
	EventUnvalidatedBallot // non-uniform ballot, recorded as Unvalidated
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventStore:
		return "store"
	case EventBallot:
		return "ballot"
	case EventUnvalidatedBallot:
		return "unvalidated-ballot"
	default:
		return "unknown"
	}
}
