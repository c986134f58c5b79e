// Package mapper derives form-specific values from an extracted record using
// a declarative rule table.
package mapper

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
	"github.com/a3tai/mcp-form-assistant/internal/record"
)

//go:embed rules.yaml
var defaultRules []byte

// Kind identifies how a rule computes its output.
type Kind string

const (
	// KindEquals picks Then when the source equals a literal, Else otherwise.
	KindEquals Kind = "equals"
	// KindConstant always yields Value.
	KindConstant Kind = "constant"
	// KindLookup translates the source through a named table.
	KindLookup Kind = "lookup"
)

// Rule is one entry of the rule table.
type Rule struct {
	Output string `yaml:"output"`
	Kind   Kind   `yaml:"kind"`
	Source string `yaml:"source,omitempty"`

	// equals
	Equals string  `yaml:"equals,omitempty"`
	Then   *string `yaml:"then,omitempty"`

	// constant
	Value *string `yaml:"value,omitempty"`

	// lookup
	Table    string `yaml:"table,omitempty"`
	Override string `yaml:"override,omitempty"`

	// Else is a pointer so an explicit "" default is distinguishable from a
	// missing one.
	Else *string `yaml:"else,omitempty"`
}

// RuleSet is a parsed, validated rule table.
type RuleSet struct {
	Version string                       `yaml:"version"`
	Tables  map[string]map[string]string `yaml:"tables,omitempty"`
	Rules   []Rule                       `yaml:"rules"`
}

// Derived maps rule outputs to their computed values.
type Derived map[string]string

// Parse parses and validates a YAML rule table.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, assisterrors.Wrap(assisterrors.ErrorTypeInvalidSchema, "failed to parse rule YAML", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// LoadFile reads a rule table from disk.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in rule table.
func Default() *RuleSet {
	rs, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("built-in rule table: %v", err))
	}
	return rs
}

// Validate checks the rule table is complete enough for Map to be total.
func (rs *RuleSet) Validate() error {
	var problems []string
	if rs.Version == "" {
		problems = append(problems, "version is required")
	}

	seen := make(map[string]struct{}, len(rs.Rules))
	for i, r := range rs.Rules {
		where := fmt.Sprintf("rule %d", i)
		if r.Output == "" {
			problems = append(problems, where+": output is required")
		} else {
			where = fmt.Sprintf("rule %q", r.Output)
			if _, dup := seen[r.Output]; dup {
				problems = append(problems, where+": duplicate output")
			}
			seen[r.Output] = struct{}{}
		}

		switch r.Kind {
		case KindConstant:
			if r.Value == nil {
				problems = append(problems, where+": constant rule needs value")
			}
		case KindEquals:
			if r.Source == "" {
				problems = append(problems, where+": equals rule needs source")
			}
			if r.Then == nil {
				problems = append(problems, where+": equals rule needs then")
			}
			if r.Else == nil {
				problems = append(problems, where+": equals rule needs else")
			}
		case KindLookup:
			if r.Source == "" && r.Override == "" {
				problems = append(problems, where+": lookup rule needs source or override")
			}
			if r.Source != "" {
				if r.Table == "" {
					problems = append(problems, where+": lookup rule needs table")
				} else if _, ok := rs.Tables[r.Table]; !ok {
					problems = append(problems, fmt.Sprintf("%s: unknown table %q", where, r.Table))
				}
			}
			if r.Else == nil {
				problems = append(problems, where+": lookup rule needs else")
			}
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown kind %q", where, r.Kind))
		}
	}

	if len(problems) > 0 {
		return assisterrors.New(assisterrors.ErrorTypeInvalidSchema, "invalid rule table").
			WithContext(strings.Join(problems, "; "))
	}
	return nil
}

// Outputs returns the output keys in declaration order.
func (rs *RuleSet) Outputs() []string {
	out := make([]string, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		out = append(out, r.Output)
	}
	return out
}

// Map evaluates every rule against rec. Each rule reads only the record, so
// evaluation order does not matter.
func (rs *RuleSet) Map(rec record.Record) Derived {
	d := make(Derived, len(rs.Rules))
	for _, r := range rs.Rules {
		d[r.Output] = rs.eval(r, rec)
	}
	return d
}

func (rs *RuleSet) eval(r Rule, rec record.Record) string {
	switch r.Kind {
	case KindConstant:
		return deref(r.Value)
	case KindEquals:
		if v, ok := rec.Lookup(r.Source); ok && v.String() == r.Equals {
			return deref(r.Then)
		}
		return deref(r.Else)
	case KindLookup:
		if r.Override != "" {
			if v, ok := rec.Lookup(r.Override); ok && v.String() != "" {
				return v.String()
			}
		}
		if r.Source != "" {
			if v, ok := rec.Lookup(r.Source); ok {
				if mapped, ok := rs.Tables[r.Table][v.String()]; ok {
					return mapped
				}
			}
		}
		return deref(r.Else)
	}
	return ""
}

// Keys returns the derived keys sorted.
func (d Derived) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
