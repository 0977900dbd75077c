// Package pricing resolves the price per 1K tokens for a model. Prices come
// from a small YAML table with wildcard patterns, falling back to a default
// when no entry matches.
package pricing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps a model pattern (exact name, or prefix ending in "*") to a
// price per 1K tokens.
type Rule struct {
	Pattern string  `yaml:"pattern"`
	Per1K   float64 `yaml:"per_1k"`
}

// Table answers price lookups. Rules are evaluated in declaration order;
// the first match wins.
type Table struct {
	rules        []Rule
	defaultPer1K float64
}

type tableFile struct {
	DefaultPer1K float64 `yaml:"default_per_1k"`
	Models       []Rule  `yaml:"models"`
}

// NewStatic builds a table with no model-specific rules.
func NewStatic(defaultPer1K float64) *Table {
	return &Table{defaultPer1K: defaultPer1K}
}

// Load reads a YAML price table. The defaultPer1K argument is used when the
// file does not set its own default.
func Load(path string, defaultPer1K float64) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	var parsed tableFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse price table %s: %w", path, err)
	}
	for i, r := range parsed.Models {
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("price table %s: rule %d has empty pattern", path, i)
		}
		if r.Per1K < 0 {
			return nil, fmt.Errorf("price table %s: rule %q has negative price", path, r.Pattern)
		}
	}
	if parsed.DefaultPer1K <= 0 {
		parsed.DefaultPer1K = defaultPer1K
	}
	return &Table{rules: parsed.Models, defaultPer1K: parsed.DefaultPer1K}, nil
}

// Per1K returns the price per 1K tokens for the model.
func (t *Table) Per1K(model string) float64 {
	for _, r := range t.rules {
		if matchPattern(r.Pattern, model) {
			return r.Per1K
		}
	}
	return t.defaultPer1K
}

func matchPattern(pattern, model string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == model
}
