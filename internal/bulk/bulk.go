// Package bulk implements the human-readable key/value block used when the
// whole manifest, or the raw record, is copied in one go.
//
// The block is a YAML mapping. Each key carries its label as a head comment
// and multi-line values are written as literal blocks where YAML can carry
// them unchanged, double-quoted otherwise, so the text stays easy to read and
// paste while still parsing back to the same pairs.
package bulk

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pair is a single key/value line of a bulk block.
type Pair struct {
	Key   string
	Label string
	Value string
}

// Source is anything that can be flattened into ordered pairs.
type Source interface {
	Pairs() []Pair
}

// Format renders pairs as a bulk block, preserving pair order.
func Format(pairs []Pair) (string, error) {
	seen := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		if p.Key == "" {
			return "", fmt.Errorf("bulk pair with empty key")
		}
		if _, dup := seen[p.Key]; dup {
			return "", fmt.Errorf("duplicate bulk key %q", p.Key)
		}
		seen[p.Key] = struct{}{}
	}

	styles := make([]yaml.Style, len(pairs))
	for i, p := range pairs {
		styles[i] = valueStyle(p.Value)
	}

	text, err := encode(pairs, styles)
	if err != nil {
		return "", err
	}

	// Literal blocks the parser reads differently fall back to quoted scalars.
	back, err := Parse(text)
	if err == nil && len(back) == len(pairs) {
		changed := false
		for i, p := range pairs {
			if back[i].Value != p.Value && styles[i] != yaml.DoubleQuotedStyle {
				styles[i] = yaml.DoubleQuotedStyle
				changed = true
			}
		}
		if !changed {
			return text, nil
		}
	} else {
		for i, p := range pairs {
			if strings.Contains(p.Value, "\n") {
				styles[i] = yaml.DoubleQuotedStyle
			}
		}
	}
	return encode(pairs, styles)
}

func encode(pairs []Pair, styles []yaml.Style) (string, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i, p := range pairs {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Key}
		if p.Label != "" {
			key.HeadComment = "# " + p.Label
		}
		val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Value, Style: styles[i]}
		root.Content = append(root.Content, key, val)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", fmt.Errorf("failed to encode bulk block: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode bulk block: %w", err)
	}
	return buf.String(), nil
}

// valueStyle picks a literal block for multi-line values that survive one.
// Leading newlines, tab-indented lines and newline-only values do not, so
// they are double-quoted with escapes instead.
func valueStyle(v string) yaml.Style {
	if !strings.Contains(v, "\n") {
		return 0
	}
	if strings.HasPrefix(v, "\n") || strings.Trim(v, "\n") == "" {
		return yaml.DoubleQuotedStyle
	}
	for _, line := range strings.Split(v, "\n") {
		if strings.HasPrefix(line, "\t") {
			return yaml.DoubleQuotedStyle
		}
	}
	return yaml.LiteralStyle
}

// FormatSource is Format applied to src.Pairs().
func FormatSource(src Source) (string, error) {
	if src == nil {
		return Format(nil)
	}
	return Format(src.Pairs())
}

// Parse reads a bulk block back into pairs, in document order.
func Parse(text string) ([]Pair, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse bulk block: %w", err)
	}

	root := &doc
	if root.Kind == 0 {
		return []Pair{}, nil
	}
	// A comment at the very top may be attached to the document or the
	// mapping rather than the first key.
	leading := ""
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return []Pair{}, nil
		}
		leading = root.HeadComment
		root = root.Content[0]
	}
	if root.HeadComment != "" {
		leading = root.HeadComment
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("bulk block must be a mapping")
	}

	pairs := make([]Pair, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("bulk value for %q is not a scalar", k.Value)
		}
		value := v.Value
		if v.Tag == "!!null" {
			value = ""
		}
		label := commentText(k.HeadComment)
		if i == 0 && label == "" {
			label = commentText(leading)
		}
		pairs = append(pairs, Pair{
			Key:   k.Value,
			Label: label,
			Value: value,
		})
	}
	return pairs, nil
}

func commentText(c string) string {
	c = strings.TrimSpace(c)
	c = strings.TrimPrefix(c, "#")
	return strings.TrimSpace(c)
}
