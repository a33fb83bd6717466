// Package simconfig holds the simulation parameters of spec.md §6's CLI
// surface, layered the way the teacher's config package layers its own
// settings: built-in defaults, an optional file overlay, then a final
// CLI overlay, followed by one Validate pass.
package simconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SimConfig holds the six positional parameters of spec.md §6, plus the
// opt-in cold-archive tier of SPEC_FULL.md §3.
type SimConfig struct {
	Cycles       int     `yaml:"cycles"`
	TransSize    int     `yaml:"trans_size"`
	StartProb    float64 `yaml:"start_prob"`
	WriteProb    float64 `yaml:"write_prob"`
	RollbackProb float64 `yaml:"rollback_prob"`
	Timeout      int     `yaml:"timeout"`
	ColdArchive  bool    `yaml:"cold_archive"`
	ColdEvery    int     `yaml:"cold_archive_every"`
}

// Default returns the built-in defaults: every parameter zero, which
// runs zero cycles and never starts a transaction.
func Default() SimConfig {
	return SimConfig{}
}

// LoadFile overlays cfg with the contents of a YAML scenario file. A
// zero-valued field in the file is indistinguishable from "not set" —
// callers that need per-field precedence should not rely on zero as a
// sentinel; this mirrors the teacher's struct-tag overlay, not a
// merge-by-presence scheme.
func LoadFile(cfg SimConfig, path string) (SimConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("simconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("simconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects negative cycle/size/timeout counts and probabilities
// outside [0,1], in the teacher's Validate() style: fmt.Errorf per
// offending field, first failure wins.
func (c SimConfig) Validate() error {
	if c.Cycles < 0 {
		return fmt.Errorf("simconfig: cycles must be non-negative, got %d", c.Cycles)
	}
	if c.TransSize < 0 {
		return fmt.Errorf("simconfig: trans_size must be non-negative, got %d", c.TransSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("simconfig: timeout must be non-negative, got %d", c.Timeout)
	}
	if err := validateProb("start_prob", c.StartProb); err != nil {
		return err
	}
	if err := validateProb("write_prob", c.WriteProb); err != nil {
		return err
	}
	if err := validateProb("rollback_prob", c.RollbackProb); err != nil {
		return err
	}
	return nil
}

func validateProb(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("simconfig: %s must be within [0,1], got %v", name, v)
	}
	return nil
}
