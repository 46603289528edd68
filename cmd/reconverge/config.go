package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/speakeasy-api/reconverge"
	"gopkg.in/yaml.v3"
)

// Config is the sweep configuration. It can be loaded from YAML; flags that
// are set explicitly override the file.
type Config struct {
	Styles      []string `yaml:"styles"`
	Seed        uint64   `yaml:"seed"`
	Seeds       int      `yaml:"seeds"`
	Sizes       []int    `yaml:"sizes"`
	Invocations int      `yaml:"invocations"`
	UniformOnly bool     `yaml:"uniform_only"`
	Workers     int      `yaml:"workers"`
	LogLevel    string   `yaml:"log_level"`
	SaveDir     string   `yaml:"save_dir"`
	Color       string   `yaml:"color"` // auto, always or never
}

func defaultConfig() Config {
	return Config{
		Styles:      []string{"workgroup", "subgroup", "maximal", "wgslv1"},
		Seed:        1,
		Seeds:       16,
		Sizes:       []int{4, 8, 16, 32, 64, 128},
		Invocations: reconverge.MaxInvocations,
		Color:       "auto",
	}
}

func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) styles() ([]reconverge.Style, error) {
	out := make([]reconverge.Style, 0, len(c.Styles))
	for _, s := range c.Styles {
		style, err := reconverge.ParseStyle(s)
		if err != nil {
			return nil, err
		}
		out = append(out, style)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no styles selected")
	}
	return out, nil
}

func (c Config) validate() error {
	if c.Seeds <= 0 {
		return fmt.Errorf("seeds must be positive, got %d", c.Seeds)
	}
	if len(c.Sizes) == 0 {
		return fmt.Errorf("no subgroup sizes selected")
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("invalid color mode %q; valid modes: auto, always, never", c.Color)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseSizes(s string) ([]int, error) {
	var out []int
	for _, f := range splitList(s) {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid subgroup size %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}
