// Package manifest builds the ordered list of form fields shown to the
// operator, resolving each entry from derived values, the record or a default.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/a3tai/mcp-form-assistant/internal/bulk"
	assisterrors "github.com/a3tai/mcp-form-assistant/internal/errors"
	"github.com/a3tai/mcp-form-assistant/internal/mapper"
	"github.com/a3tai/mcp-form-assistant/internal/record"
)

//go:embed schema.yaml
var defaultSchema []byte

// Kind is how the target form presents a field.
type Kind string

const (
	KindText   Kind = "text"
	KindSelect Kind = "select"
)

// Origin records which input produced an entry's value.
type Origin string

const (
	OriginDerived Origin = "derived"
	OriginRecord  Origin = "record"
	OriginDefault Origin = "default"
)

// Descriptor declares one manifest entry.
type Descriptor struct {
	Key     string  `yaml:"key"`
	Label   string  `yaml:"label"`
	Source  string  `yaml:"source,omitempty"`
	Derived string  `yaml:"derived,omitempty"`
	Default *string `yaml:"default,omitempty"`
	Kind    Kind    `yaml:"kind,omitempty"`
	Section string  `yaml:"section,omitempty"`

	// Placeholder marks a default that stands in for missing data and must
	// be confirmed by the operator.
	Placeholder bool `yaml:"placeholder,omitempty"`

	// Highlight marks fields emphasised in the form window.
	Highlight bool `yaml:"highlight,omitempty"`
}

// DefaultValue returns the declared default, or "".
func (d Descriptor) DefaultValue() string {
	if d.Default == nil {
		return ""
	}
	return *d.Default
}

// Schema is a versioned, ordered list of descriptors.
type Schema struct {
	Version string       `yaml:"version"`
	Fields  []Descriptor `yaml:"fields"`
}

// Entry is a resolved manifest line.
type Entry struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	Value        string `json:"value"`
	DefaultValue string `json:"defaultValue"`
	Kind         Kind   `json:"kind"`
	Section      string `json:"section,omitempty"`
	Origin       Origin `json:"origin"`
	NeedsReview  bool   `json:"needsReview,omitempty"`
}

// Manifest is the ordered result of Build.
type Manifest struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Parse parses and validates a YAML schema.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, assisterrors.Wrap(assisterrors.ErrorTypeInvalidSchema, "failed to parse schema YAML", err)
	}
	for i := range s.Fields {
		if s.Fields[i].Kind == "" {
			s.Fields[i].Kind = KindText
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads a schema from disk.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in schema.
func Default() *Schema {
	s, err := Parse(defaultSchema)
	if err != nil {
		panic(fmt.Sprintf("built-in schema: %v", err))
	}
	return s
}

// LoadDefinitions returns the rule table and schema, reading either from
// disk when its path is set and using the built-in one otherwise. The schema
// must only reference outputs the rules produce.
func LoadDefinitions(rulesPath, schemaPath string) (*mapper.RuleSet, *Schema, error) {
	rules := mapper.Default()
	if rulesPath != "" {
		loaded, err := mapper.LoadFile(rulesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load rules: %w", err)
		}
		rules = loaded
	}

	schema := Default()
	if schemaPath != "" {
		loaded, err := LoadFile(schemaPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load schema: %w", err)
		}
		schema = loaded
	}

	if err := schema.CheckRules(rules); err != nil {
		return nil, nil, fmt.Errorf("schema does not match rules: %w", err)
	}
	return rules, schema, nil
}

// Validate checks descriptor consistency.
func (s *Schema) Validate() error {
	var problems []string
	if s.Version == "" {
		problems = append(problems, "version is required")
	}

	seen := make(map[string]struct{}, len(s.Fields))
	for i, d := range s.Fields {
		where := fmt.Sprintf("field %d", i)
		if d.Key == "" {
			problems = append(problems, where+": key is required")
		} else {
			where = fmt.Sprintf("field %q", d.Key)
			if _, dup := seen[d.Key]; dup {
				problems = append(problems, where+": duplicate key")
			}
			seen[d.Key] = struct{}{}
		}
		if d.Label == "" {
			problems = append(problems, where+": label is required")
		}
		if (d.Source == "") == (d.Derived == "") {
			problems = append(problems, where+": exactly one of source or derived is required")
		}
		if d.Kind != KindText && d.Kind != KindSelect {
			problems = append(problems, fmt.Sprintf("%s: unknown kind %q", where, d.Kind))
		}
		if d.Placeholder && d.Default == nil {
			problems = append(problems, where+": placeholder needs a default")
		}
	}

	if len(problems) > 0 {
		return assisterrors.New(assisterrors.ErrorTypeInvalidSchema, "invalid schema").
			WithContext(strings.Join(problems, "; "))
	}
	return nil
}

// Len returns the number of descriptors.
func (s *Schema) Len() int {
	return len(s.Fields)
}

// CheckRules reports derived keys that no rule in rs produces.
func (s *Schema) CheckRules(rs *mapper.RuleSet) error {
	outputs := make(map[string]struct{})
	for _, o := range rs.Outputs() {
		outputs[o] = struct{}{}
	}
	var missing []string
	for _, d := range s.Fields {
		if d.Derived == "" {
			continue
		}
		if _, ok := outputs[d.Derived]; !ok {
			missing = append(missing, d.Derived)
		}
	}
	if len(missing) > 0 {
		return assisterrors.New(assisterrors.ErrorTypeInvalidSchema, "schema references unknown rule outputs").
			WithContext(strings.Join(missing, ", "))
	}
	return nil
}

// HighlightKeys returns the keys of highlighted fields in order.
func (s *Schema) HighlightKeys() []string {
	var keys []string
	for _, d := range s.Fields {
		if d.Highlight {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// Build resolves every descriptor. The result always has one entry per
// descriptor, in declaration order.
func (s *Schema) Build(rec record.Record, derived mapper.Derived) Manifest {
	m := Manifest{Version: s.Version, Entries: make([]Entry, 0, len(s.Fields))}
	for _, d := range s.Fields {
		e := Entry{
			Key:          d.Key,
			Label:        d.Label,
			DefaultValue: d.DefaultValue(),
			Kind:         d.Kind,
			Section:      d.Section,
		}

		switch {
		case d.Derived != "" && hasKey(derived, d.Derived):
			e.Value, e.Origin = derived[d.Derived], OriginDerived
		case d.Source != "" && rec.Has(d.Source):
			v, _ := rec.Lookup(d.Source)
			e.Value, e.Origin = v.String(), OriginRecord
		default:
			e.Value, e.Origin = d.DefaultValue(), OriginDefault
			e.NeedsReview = d.Placeholder
		}

		m.Entries = append(m.Entries, e)
	}
	return m
}

func hasKey(d mapper.Derived, k string) bool {
	_, ok := d[k]
	return ok
}

// Len returns the number of entries.
func (m Manifest) Len() int {
	return len(m.Entries)
}

// Lookup returns the entry for key.
func (m Manifest) Lookup(key string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Defaulted returns entries whose value came from the schema default.
func (m Manifest) Defaulted() []Entry {
	var out []Entry
	for _, e := range m.Entries {
		if e.Origin == OriginDefault {
			out = append(out, e)
		}
	}
	return out
}

// Select returns the entries of the given kind, in order.
func (m Manifest) Select(kind Kind) []Entry {
	var out []Entry
	for _, e := range m.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Pairs returns the entries as bulk pairs in manifest order.
func (m Manifest) Pairs() []bulk.Pair {
	pairs := make([]bulk.Pair, 0, len(m.Entries))
	for _, e := range m.Entries {
		pairs = append(pairs, bulk.Pair{Key: e.Key, Label: e.Label, Value: e.Value})
	}
	return pairs
}
