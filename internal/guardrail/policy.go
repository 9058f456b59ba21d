package guardrail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy names the flags that abort each stage.
type Policy struct {
	InputHardFlags  []string `yaml:"input_hard_flags"`
	OutputHardFlags []string `yaml:"output_hard_flags"`
	SoftFlags       []string `yaml:"soft_flags"`
	BlockOnVague    bool     `yaml:"block_on_vague"`
}

// DefaultPolicy returns the built-in flag sets.
func DefaultPolicy() Policy {
	input := []string{"unsafe", "illegal", "pii", "adult", "private_data"}
	return Policy{
		InputHardFlags:  input,
		OutputHardFlags: append(append([]string(nil), input...), "speculative"),
		SoftFlags:       []string{"vague"},
	}
}

// LoadPolicy reads a YAML policy. An empty path yields DefaultPolicy; empty
// lists in the file fall back to the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	path = strings.TrimSpace(path)
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Policy{}, fmt.Errorf("read guardrail policy: %w", err)
	}
	var fromFile Policy
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Policy{}, fmt.Errorf("parse guardrail policy: %w", err)
	}
	if len(fromFile.InputHardFlags) > 0 {
		p.InputHardFlags = fromFile.InputHardFlags
	}
	if len(fromFile.OutputHardFlags) > 0 {
		p.OutputHardFlags = fromFile.OutputHardFlags
	}
	if len(fromFile.SoftFlags) > 0 {
		p.SoftFlags = fromFile.SoftFlags
	}
	p.BlockOnVague = fromFile.BlockOnVague
	return p.normalize(), nil
}

func (p Policy) normalize() Policy {
	p.InputHardFlags = Verdict{Flags: p.InputHardFlags}.Normalize().Flags
	p.OutputHardFlags = Verdict{Flags: p.OutputHardFlags}.Normalize().Flags
	p.SoftFlags = Verdict{Flags: p.SoftFlags}.Normalize().Flags
	return p
}

// HardHits returns the verdict flags that abort the given stage.
func (p Policy) HardHits(stage Stage, v Verdict) []string {
	set := p.InputHardFlags
	if stage == StageOutput {
		set = p.OutputHardFlags
	}
	return intersect(v.Flags, set)
}

// SoftHits returns the verdict flags that only warrant clarification.
func (p Policy) SoftHits(v Verdict) []string {
	return intersect(v.Flags, p.SoftFlags)
}

func intersect(flags, set []string) []string {
	var out []string
	for _, f := range flags {
		for _, s := range set {
			if f == s {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
