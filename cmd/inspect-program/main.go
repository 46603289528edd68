// Command inspect-program prints the listing of a generated or saved program
// and the reference it produces at one subgroup size.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/speakeasy-api/reconverge"
	"github.com/speakeasy-api/reconverge/pkg/casefile"
	"github.com/speakeasy-api/reconverge/pkg/listing"
	"github.com/speakeasy-api/reconverge/simexec"
)

func main() {
	var (
		caseFile    = flag.String("case", "", "Case file to load instead of generating")
		style       = flag.String("style", "workgroup", "Reconvergence style")
		seed        = flag.Uint64("seed", 1, "Seed")
		invocations = flag.Int("invocations", reconverge.MaxInvocations, "Lane count")
		uniformOnly = flag.Bool("uniform-only", false, "Only generate non-diverging conditions")
		size        = flag.Int("size", simexec.ProbeSubgroupSize, "Subgroup size to simulate")
		lanes       = flag.Int("lanes", 4, "Lanes whose reference is dumped")
		indent      = flag.Int("indent", 2, "Listing indentation")
		save        = flag.String("save", "", "Write the program to this case file")
		logLevel    = flag.String("log-level", "", "Generator log level")
	)
	flag.Parse()

	opts := simexec.DefaultOptions()
	opts.LogLevel = *logLevel

	var prog *simexec.Program
	if *caseFile != "" {
		c, err := casefile.Load(*caseFile)
		if err != nil {
			log.Fatal(err)
		}
		if c.Note != "" {
			fmt.Printf("# %s\n", c.Note)
		}
		if prog, err = c.Program(opts); err != nil {
			log.Fatal(err)
		}
	} else {
		s, err := reconverge.ParseStyle(*style)
		if err != nil {
			log.Fatal(err)
		}
		opts.Style = s
		opts.Seed = *seed
		opts.Invocations = *invocations
		opts.UniformOnly = *uniformOnly
		if prog, err = simexec.NewProgram(opts); err != nil {
			log.Fatal(err)
		}
		prog.Generate()
	}

	locs := prog.Simulate(true, *size)
	prog.SizeRefData(locs)
	prog.Simulate(false, *size)

	fmt.Printf("=== %s ===\n", prog)
	fmt.Printf("attempts: %d  locations: %d  uniform ballots: %d\n\n",
		prog.Attempts(), locs, prog.UniformEvents())
	fmt.Print(listing.Masks(prog.Masks()))
	fmt.Println()

	text, err := listing.Format(prog.Ops(), listing.Cfg{Indent: *indent, PC: true, Uniform: true})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(text)

	for lane := 0; lane < min(*lanes, prog.Invocations()); lane++ {
		fmt.Printf("\nlane %d:\n", lane)
		for loc := 0; loc < prog.RefLocations(); loc++ {
			kind := prog.RefKind(lane, loc)
			if kind == simexec.EventNone {
				break
			}
			i := 4 * (loc*prog.Invocations() + lane)
			q := simexec.Quad(prog.RefData()[i : i+4])
			fmt.Printf("%4d: %-12s %s\n", loc, kind, q)
		}
	}

	if *save != "" {
		if err := casefile.Save(*save, casefile.FromProgram(prog, *size, "")); err != nil {
			log.Fatal(err)
		}
		fmt.Fprintf(os.Stderr, "saved %s\n", *save)
	}
}
