// Package casefile saves generated programs as YAML so a failing case can be
// reproduced without regenerating it.
package casefile

import (
	"fmt"
	"os"
	"strings"

	"github.com/speakeasy-api/reconverge"
	"github.com/speakeasy-api/reconverge/simexec"
	"gopkg.in/yaml.v3"
)

// Case is the on-disk form of one program.
type Case struct {
	Style        string   `yaml:"style"`
	Seed         uint64   `yaml:"seed"`
	Invocations  int      `yaml:"invocations"`
	UniformOnly  bool     `yaml:"uniform_only,omitempty"`
	SubgroupSize int      `yaml:"subgroup_size,omitempty"` // size the case failed at, if any
	Note         string   `yaml:"note,omitempty"`
	Masks        []string `yaml:"masks"`
	Ops          []Op     `yaml:"ops"`
}

// Op is one instruction. Instructions without operands are written as a
// bare kind name; the rest as a mapping.
type Op struct {
	Kind      string `yaml:"kind"`
	Value     uint32 `yaml:"value,omitempty"`
	CaseValue uint32 `yaml:"case_value,omitempty"`
}

// MarshalYAML writes operand-free instructions as scalars.
func (o Op) MarshalYAML() (any, error) {
	if o.Value == 0 && o.CaseValue == 0 {
		return o.Kind, nil
	}
	type plain Op
	return plain(o), nil
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (o *Op) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*o = Op{Kind: strings.TrimSpace(node.Value)}
		return nil
	case yaml.MappingNode:
		type plain Op
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*o = Op(p)
		return nil
	}
	return fmt.Errorf("line %d: instruction must be a kind name or a mapping", node.Line)
}

// FromProgram captures p. subgroupSize and note are informational.
func FromProgram(p *simexec.Program, subgroupSize int, note string) *Case {
	opts := p.Options()
	c := &Case{
		Style:        opts.Style.String(),
		Seed:         opts.Seed,
		Invocations:  opts.Invocations,
		UniformOnly:  opts.UniformOnly,
		SubgroupSize: subgroupSize,
		Note:         note,
	}
	for _, m := range p.Masks() {
		c.Masks = append(c.Masks, m.String())
	}
	for _, op := range p.Ops() {
		c.Ops = append(c.Ops, Op{Kind: op.Kind.String(), Value: op.Value, CaseValue: op.CaseValue})
	}
	return c
}

// Program rebuilds the program. opts supplies logging configuration; its
// style, seed, lane count and mode are taken from the case.
func (c *Case) Program(opts simexec.Options) (*simexec.Program, error) {
	style, err := reconverge.ParseStyle(c.Style)
	if err != nil {
		return nil, err
	}
	opts.Style = style
	opts.Seed = c.Seed
	opts.Invocations = c.Invocations
	opts.UniformOnly = c.UniformOnly

	masks := make([]reconverge.Mask, 0, len(c.Masks))
	for i, s := range c.Masks {
		m, err := reconverge.ParseMask(s)
		if err != nil {
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}
		masks = append(masks, m)
	}

	ops := make([]reconverge.Op, 0, len(c.Ops))
	for pc, o := range c.Ops {
		kind, err := reconverge.ParseOpKind(o.Kind)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", pc, err)
		}
		ops = append(ops, reconverge.Op{Kind: kind, Value: o.Value, CaseValue: o.CaseValue})
	}

	return simexec.NewProgramFromOps(opts, ops, masks)
}

// Marshal encodes c as YAML.
func Marshal(c *Case) ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("could not encode case: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("could not encode case: %w", err)
	}
	return []byte(b.String()), nil
}

// Unmarshal decodes a case, rejecting unknown fields.
func Unmarshal(data []byte) (*Case, error) {
	var c Case
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("could not decode case: %w", err)
	}
	if len(c.Ops) == 0 {
		return nil, fmt.Errorf("could not decode case: no instructions")
	}
	return &c, nil
}

// Save writes c to path.
func Save(path string, c *Case) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write case file: %w", err)
	}
	return nil
}

// Load reads a case from path.
func Load(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read case file: %w", err)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
