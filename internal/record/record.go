// Package record holds the flat record handed over by the upstream
// extraction step, and the sources it can be read from.
package record

import (
	"sort"
	"strings"

	"github.com/a3tai/mcp-form-assistant/internal/bulk"
)

// SequenceSeparator joins sequence values into their scalar form.
const SequenceSeparator = "\n"

// Value is either a scalar string or an ordered sequence of strings
// (multi-line fields such as cargo descriptions).
type Value struct {
	scalar string
	items  []string
	seq    bool
}

// Scalar returns a single-string Value.
func Scalar(s string) Value {
	return Value{scalar: s}
}

// Sequence returns a sequence Value. The items are copied.
func Sequence(items ...string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{items: cp, seq: true}
}

// IsSequence reports whether the value was supplied as a sequence.
func (v Value) IsSequence() bool {
	return v.seq
}

// Items returns the sequence elements, or a single element for a scalar.
func (v Value) Items() []string {
	if !v.seq {
		return []string{v.scalar}
	}
	cp := make([]string, len(v.items))
	copy(cp, v.items)
	return cp
}

// String returns the scalar form; sequences are joined with SequenceSeparator.
func (v Value) String() string {
	if v.seq {
		return strings.Join(v.items, SequenceSeparator)
	}
	return v.scalar
}

// Record is an immutable field-name to Value mapping. The zero value is an
// empty record.
type Record struct {
	fields map[string]Value
}

// New builds a Record from the given fields. The map is copied.
func New(fields map[string]Value) Record {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		if v.seq {
			v = Sequence(v.items...)
		}
		cp[k] = v
	}
	return Record{fields: cp}
}

// FromStrings is a convenience constructor for scalar-only records.
func FromStrings(fields map[string]string) Record {
	values := make(map[string]Value, len(fields))
	for k, v := range fields {
		values[k] = Scalar(v)
	}
	return Record{fields: values}
}

// Empty returns a record with no fields.
func Empty() Record {
	return Record{}
}

// Lookup returns the value for key and whether the key is present.
func (r Record) Lookup(key string) (Value, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (r Record) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Len returns the number of present fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Keys returns the present keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pairs returns the record as bulk pairs ordered by key.
func (r Record) Pairs() []bulk.Pair {
	keys := r.Keys()
	pairs := make([]bulk.Pair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, bulk.Pair{Key: k, Value: r.fields[k].String()})
	}
	return pairs
}
