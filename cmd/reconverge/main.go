// Command reconverge sweeps generated reconvergence programs over seeds and
// subgroup sizes, checks them against the emulated device and saves failing
// cases for reproduction.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/speakeasy-api/reconverge/pkg/casefile"
	"github.com/speakeasy-api/reconverge/pkg/harness"
	"github.com/speakeasy-api/reconverge/simexec"
)

func main() {
	var (
		configFile  = flag.String("config", "", "YAML config file")
		styles      = flag.String("styles", "", "Comma-separated styles (workgroup, subgroup, maximal, wgslv1)")
		seed        = flag.Uint64("seed", 0, "First seed")
		seeds       = flag.Int("seeds", 0, "Number of seeds per style")
		sizes       = flag.String("sizes", "", "Comma-separated subgroup sizes")
		invocations = flag.Int("invocations", 0, "Lane count (at most 128)")
		uniformOnly = flag.Bool("uniform-only", false, "Only generate non-diverging conditions")
		workers     = flag.Int("workers", 0, "Parallel cases (default: GOMAXPROCS)")
		logLevel    = flag.String("log-level", "", "Generator log level (error, warn, info, debug)")
		saveDir     = flag.String("save-dir", "", "Directory for failing case files")
		color       = flag.String("color", "", "Colored output: auto, always or never")
		maxLines    = flag.Int("max-lines", 8, "Diagnostic lines shown per failure")
	)
	flag.Parse()

	cfg := defaultConfig()
	if *configFile != "" {
		if err := loadConfig(*configFile, &cfg); err != nil {
			log.Fatal(err)
		}
	}

	// Explicit flags win over the config file.
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "styles":
			cfg.Styles = splitList(*styles)
		case "seed":
			cfg.Seed = *seed
		case "seeds":
			cfg.Seeds = *seeds
		case "sizes":
			if cfg.Sizes, err = parseSizes(*sizes); err != nil {
				log.Fatal(err)
			}
		case "invocations":
			cfg.Invocations = *invocations
		case "uniform-only":
			cfg.UniformOnly = *uniformOnly
		case "workers":
			cfg.Workers = *workers
		case "log-level":
			cfg.LogLevel = *logLevel
		case "save-dir":
			cfg.SaveDir = *saveDir
		case "color":
			cfg.Color = *color
		}
	})
	if err := cfg.validate(); err != nil {
		log.Fatal(err)
	}
	styleList, err := cfg.styles()
	if err != nil {
		log.Fatal(err)
	}

	opts := simexec.DefaultOptions()
	opts.Invocations = cfg.Invocations
	opts.UniformOnly = cfg.UniformOnly
	opts.LogLevel = cfg.LogLevel

	r := &reporter{w: os.Stdout, color: useColor(cfg.Color)}
	started := time.Now()
	r.header(cfg, started)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sweep := harness.SweepConfig{
		Styles:    styleList,
		FirstSeed: cfg.Seed,
		Seeds:     cfg.Seeds,
		Sizes:     cfg.Sizes,
		Workers:   cfg.Workers,
		Options:   opts,
	}
	results, sweepErr := harness.Sweep(ctx, &harness.EmulatedDevice{}, sweep, nil)
	if results == nil {
		log.Fatal(sweepErr)
	}

	saved := make(map[harness.Case]string)
	if cfg.SaveDir != "" {
		if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
			log.Fatalf("Failed to create save dir: %v", err)
		}
		for _, res := range results {
			if res.Program == nil {
				continue
			}
			path := filepath.Join(cfg.SaveDir, fmt.Sprintf("%s-seed%d-n%d.yaml",
				res.Case.Style, res.Case.Seed, res.Case.SubgroupSize))
			c := casefile.FromProgram(res.Program, res.Case.SubgroupSize, firstLine(res.Err))
			if err := casefile.Save(path, c); err != nil {
				log.Printf("Failed to save %s: %v", res.Case, err)
				continue
			}
			saved[res.Case] = path
		}
	}

	summary := harness.Summarize(results)
	r.table(results, cfg.Sizes)
	r.summary(summary, time.Since(started))
	r.failures(results, saved, *maxLines)

	if sweepErr != nil {
		fmt.Fprintf(os.Stderr, "sweep interrupted: %v\n", sweepErr)
		os.Exit(2)
	}
	if summary.Failed+summary.Errored > 0 {
		os.Exit(1)
	}
}

func useColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func firstLine(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
