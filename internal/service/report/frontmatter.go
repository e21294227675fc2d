package report

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter represents YAML frontmatter for markdown files. Keys render
// in insertion order.
type Frontmatter struct {
	fields map[string]interface{}
	order  []string
}

// NewFrontmatter creates an empty frontmatter.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{fields: make(map[string]interface{})}
}

// Set adds or updates a field.
func (f *Frontmatter) Set(key string, value interface{}) {
	if _, exists := f.fields[key]; !exists {
		f.order = append(f.order, key)
	}
	f.fields[key] = value
}

// Get retrieves a field value.
func (f *Frontmatter) Get(key string) (interface{}, bool) {
	v, ok := f.fields[key]
	return v, ok
}

// Render produces the YAML frontmatter with delimiters, or an empty
// string when no field is set.
func (f *Frontmatter) Render() (string, error) {
	if len(f.order) == 0 {
		return "", nil
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range f.order {
		var value yaml.Node
		if err := value.Encode(f.fields[key]); err != nil {
			return "", fmt.Errorf("encoding frontmatter field %s: %w", key, err)
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &value)
	}

	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return "---\n" + sb.String() + "---\n\n", nil
}

// ParseFrontmatter splits a markdown document into its frontmatter fields
// and body. Documents without frontmatter return nil fields.
func ParseFrontmatter(doc string) (map[string]interface{}, string, error) {
	rest, ok := strings.CutPrefix(doc, "---\n")
	if !ok {
		return nil, doc, nil
	}
	head, body, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return nil, doc, fmt.Errorf("unterminated frontmatter")
	}
	fields := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(head), &fields); err != nil {
		return nil, doc, fmt.Errorf("parsing frontmatter: %w", err)
	}
	return fields, strings.TrimPrefix(body, "\n"), nil
}
