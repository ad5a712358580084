package document

import (
	"bytes"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// Document is an ordered mapping of string keys to YAML values.
type Document struct {
	root *yaml.Node
}

// New returns an empty document.
func New() *Document {
	return &Document{root: newMapping()}
}

// Parse decodes YAML source into a document. Empty or null input yields an empty
// document. Aliases and merge keys are expanded so the result owns every node.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDocument, "invalid yaml").Fatal().Build()
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return New(), nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null" {
		return New(), nil
	}
	expanded, err := expand(root, 0, &expandBudget{remaining: MaxNodes})
	if err != nil {
		return nil, err
	}
	if expanded.Kind != yaml.MappingNode {
		return nil, ferrors.DocumentError("document root must be a mapping").
			WithContext("kind", kindName(expanded.Kind)).
			Build()
	}
	d := &Document{root: expanded}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// FromNode builds a document from a mapping node. The node is copied.
func FromNode(n *yaml.Node) (*Document, error) {
	if n == nil {
		return New(), nil
	}
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	expanded, err := expand(n, 0, &expandBudget{remaining: MaxNodes})
	if err != nil {
		return nil, err
	}
	if expanded.Kind != yaml.MappingNode {
		return nil, ferrors.DocumentError("document root must be a mapping").
			WithContext("kind", kindName(expanded.Kind)).
			Build()
	}
	d := &Document{root: expanded}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Node returns a copy of the root mapping node.
func (d *Document) Node() *yaml.Node {
	return cloneNode(d.root)
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	return &Document{root: cloneNode(d.root)}
}

// Len returns the number of top-level keys.
func (d *Document) Len() int {
	return len(d.root.Content) / 2
}

// Keys returns the top-level keys in document order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.Len())
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		keys = append(keys, d.root.Content[i].Value)
	}
	return keys
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	return indexOf(d.root, key) >= 0
}

// Get decodes the value stored under key into plain Go values
// (map[string]any, []any, string, int, float64, bool, nil).
func (d *Document) Get(key string) (any, bool) {
	n, ok := d.lookup(key)
	if !ok {
		return nil, false
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// Mapping returns the mapping stored under key as its own document. The second
// return is false when the key is absent or holds a non-mapping value.
func (d *Document) Mapping(key string) (*Document, bool) {
	n, ok := d.lookup(key)
	if !ok || n.Kind != yaml.MappingNode {
		return nil, false
	}
	return &Document{root: cloneNode(n)}, true
}

// Set stores value under key, overwriting in place or appending a new key.
// value may be a *Document, a *yaml.Node or any plain Go value.
func (d *Document) Set(key string, value any) error {
	n, err := nodeFromAny(value, nil, 1)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDocument, "cannot set value").
			WithContext("key", key).
			Build()
	}
	setNode(d.root, key, n)
	return nil
}

// Delete removes key. It reports whether the key was present.
func (d *Document) Delete(key string) bool {
	i := indexOf(d.root, key)
	if i < 0 {
		return false
	}
	d.root.Content = append(d.root.Content[:i], d.root.Content[i+2:]...)
	return true
}

func (d *Document) lookup(key string) (*yaml.Node, bool) {
	i := indexOf(d.root, key)
	if i < 0 {
		return nil, false
	}
	return d.root.Content[i+1], true
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func newKey(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

// indexOf returns the content index of key in mapping m, or -1.
func indexOf(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// setNode takes ownership of value.
func setNode(m *yaml.Node, key string, value *yaml.Node) {
	if i := indexOf(m, key); i >= 0 {
		m.Content[i+1] = value
		return
	}
	m.Content = append(m.Content, newKey(key), value)
}
