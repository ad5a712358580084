package document

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// ToMap decodes the document into plain Go values. The result shares nothing with d.
func (d *Document) ToMap() (map[string]any, error) {
	out := make(map[string]any, d.Len())
	if err := d.root.Decode(&out); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDocument, "cannot decode document").Build()
	}
	return out, nil
}

// FromMap builds a document from plain Go values. Keys that also exist in ref keep
// ref's order (at every depth); new keys are appended in sorted order, so the
// same map always produces the same document. ref may be nil.
func FromMap(m map[string]any, ref *Document) (*Document, error) {
	var refNode *yaml.Node
	if ref != nil {
		refNode = ref.root
	}
	n, err := nodeFromAny(m, refNode, 0)
	if err != nil {
		return nil, err
	}
	if n.Kind != yaml.MappingNode {
		return nil, ferrors.DocumentError("document root must be a mapping").Build()
	}
	d := &Document{root: n}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// nodeFromAny converts v into a node. A scalar equal in value to its ref keeps
// ref's spelling, so values a script passes through untouched (0x1F, 1.0,
// quoted numbers) come back byte for byte.
func nodeFromAny(v any, ref *yaml.Node, depth int) (*yaml.Node, error) {
	n, err := buildNode(v, ref, depth)
	if err != nil {
		return nil, err
	}
	if ref != nil && ref.Kind == yaml.ScalarNode && n.Kind == yaml.ScalarNode && nodeEqual(n, ref) {
		return cloneNode(ref), nil
	}
	return n, nil
}

func buildNode(v any, ref *yaml.Node, depth int) (*yaml.Node, error) {
	if depth > MaxDepth {
		return nil, ferrors.DocumentError("value nesting exceeds limit").
			WithContext("max_depth", MaxDepth).
			Build()
	}
	switch vv := v.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case *Document:
		if vv == nil {
			return nodeFromAny(nil, ref, depth)
		}
		return cloneNode(vv.root), nil
	case *yaml.Node:
		if vv == nil {
			return nodeFromAny(nil, ref, depth)
		}
		return expand(vv, depth, &expandBudget{remaining: MaxNodes})
	case string:
		return stringNode(vv), nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(vv)}, nil
	case float64:
		return floatNode(vv), nil
	case float32:
		return floatNode(float64(vv)), nil
	case time.Time:
		return encodeScalar(vv)
	case time.Duration:
		return stringNode(vv.String()), nil
	case map[string]any:
		return mappingFromStringMap(vv, ref, depth)
	case []any:
		return sequenceFrom(len(vv), func(i int) any { return vv[i] }, ref, depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nodeFromAny(nil, ref, depth)
		}
		return nodeFromAny(rv.Elem().Interface(), ref, depth)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(rv.Int(), 10)}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatUint(rv.Uint(), 10)}, nil
	case reflect.Float32, reflect.Float64:
		return floatNode(rv.Float()), nil
	case reflect.String:
		return stringNode(rv.String()), nil
	case reflect.Bool:
		return nodeFromAny(rv.Bool(), ref, depth)
	case reflect.Map:
		converted := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key()
			for k.Kind() == reflect.Interface && !k.IsNil() {
				k = k.Elem()
			}
			if k.Kind() != reflect.String {
				return nil, ferrors.DocumentError("mapping keys must be strings").
					WithContext("key_type", k.Type().String()).
					Build()
			}
			converted[k.String()] = iter.Value().Interface()
		}
		return mappingFromStringMap(converted, ref, depth)
	case reflect.Slice, reflect.Array:
		return sequenceFrom(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, ref, depth)
	default:
		return nil, ferrors.DocumentError("unsupported value type").
			WithContext("type", fmt.Sprintf("%T", v)).
			Build()
	}
}

func mappingFromStringMap(m map[string]any, ref *yaml.Node, depth int) (*yaml.Node, error) {
	if ref != nil && ref.Kind != yaml.MappingNode {
		ref = nil
	}
	keys := make([]string, 0, len(m))
	placed := make(map[string]struct{}, len(m))
	if ref != nil {
		for i := 0; i+1 < len(ref.Content); i += 2 {
			k := ref.Content[i].Value
			if _, ok := m[k]; ok {
				keys = append(keys, k)
				placed[k] = struct{}{}
			}
		}
	}
	var fresh []string
	for k := range m {
		if _, ok := placed[k]; !ok {
			fresh = append(fresh, k)
		}
	}
	sort.Strings(fresh)
	keys = append(keys, fresh...)

	n := newMapping()
	for _, k := range keys {
		var childRef *yaml.Node
		if ref != nil {
			if i := indexOf(ref, k); i >= 0 {
				childRef = ref.Content[i+1]
			}
		}
		child, err := nodeFromAny(m[k], childRef, depth+1)
		if err != nil {
			return nil, err
		}
		if childRef != nil && child.Kind != yaml.ScalarNode && child.Kind == childRef.Kind {
			child.Style = childRef.Style
		}
		n.Content = append(n.Content, newKey(k), child)
	}
	return n, nil
}

func sequenceFrom(n int, at func(int) any, ref *yaml.Node, depth int) (*yaml.Node, error) {
	if ref != nil && ref.Kind != yaml.SequenceNode {
		ref = nil
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for i := 0; i < n; i++ {
		var childRef *yaml.Node
		if ref != nil && i < len(ref.Content) {
			childRef = ref.Content[i]
		}
		child, err := nodeFromAny(at(i), childRef, depth+1)
		if err != nil {
			return nil, err
		}
		seq.Content = append(seq.Content, child)
	}
	return seq, nil
}

// stringNode lets the encoder pick quoting so that strings such as "true" or
// "8080" do not turn into other types on the next parse.
func stringNode(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	var probe yaml.Node
	if err := yaml.Unmarshal([]byte(s), &probe); err != nil ||
		len(probe.Content) != 1 || probe.Content[0].Kind != yaml.ScalarNode || probe.Content[0].ShortTag() != "!!str" {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

// floatNode spells integral floats with a fraction so they parse back as
// floats rather than ints.
func floatNode(f float64) *yaml.Node {
	var v string
	switch {
	case math.IsNaN(f):
		v = ".nan"
	case math.IsInf(f, 1):
		v = ".inf"
	case math.IsInf(f, -1):
		v = "-.inf"
	default:
		v = strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(v, ".eE") {
			v += ".0"
		}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: v}
}

// encodeScalar falls back to yaml's own encoding for uncommon scalar types.
func encodeScalar(v any) (*yaml.Node, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		_ = enc.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryDocument, "cannot encode scalar").Build()
	}
	_ = enc.Close()
	var node yaml.Node
	if err := yaml.Unmarshal(buf.Bytes(), &node); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDocument, "cannot encode scalar").Build()
	}
	if len(node.Content) == 0 {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	return node.Content[0], nil
}
