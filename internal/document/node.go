package document

import (
	"reflect"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

const (
	// MaxDepth bounds mapping/sequence nesting.
	MaxDepth = 64
	// MaxNodes bounds the node count after alias expansion.
	MaxNodes = 1 << 20
)

const mergeTag = "!!merge"

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Content != nil {
		cp.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			cp.Content[i] = cloneNode(c)
		}
	}
	return &cp
}

type expandBudget struct {
	remaining int
}

// expand returns a copy of n with aliases replaced by copies of their anchors and
// YAML merge keys ("<<") folded into the enclosing mapping.
func expand(n *yaml.Node, depth int, budget *expandBudget) (*yaml.Node, error) {
	if depth > MaxDepth {
		return nil, ferrors.DocumentError("document nesting exceeds limit").
			WithContext("max_depth", MaxDepth).
			Build()
	}
	budget.remaining--
	if budget.remaining < 0 {
		return nil, ferrors.DocumentError("document exceeds node limit after alias expansion").
			WithContext("max_nodes", MaxNodes).
			Build()
	}

	switch n.Kind {
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, ferrors.DocumentError("dangling alias").WithContext("alias", n.Value).Build()
		}
		out, err := expand(n.Alias, depth+1, budget)
		if err != nil {
			return nil, err
		}
		out.Anchor = ""
		return out, nil
	case yaml.MappingNode:
		return expandMapping(n, depth, budget)
	case yaml.SequenceNode, yaml.DocumentNode:
		cp := *n
		cp.Anchor = ""
		cp.Content = make([]*yaml.Node, 0, len(n.Content))
		for _, c := range n.Content {
			ec, err := expand(c, depth+1, budget)
			if err != nil {
				return nil, err
			}
			cp.Content = append(cp.Content, ec)
		}
		return &cp, nil
	default:
		cp := *n
		cp.Anchor = ""
		return &cp, nil
	}
}

func expandMapping(n *yaml.Node, depth int, budget *expandBudget) (*yaml.Node, error) {
	out := *n
	out.Anchor = ""
	out.Content = make([]*yaml.Node, 0, len(n.Content))
	var merged []*yaml.Node

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		ev, err := expand(v, depth+1, budget)
		if err != nil {
			return nil, err
		}
		if k.Kind == yaml.ScalarNode && k.ShortTag() == mergeTag {
			switch ev.Kind {
			case yaml.MappingNode:
				merged = append(merged, ev)
			case yaml.SequenceNode:
				for _, item := range ev.Content {
					if item.Kind != yaml.MappingNode {
						return nil, ferrors.DocumentError("merge key sequence must contain mappings").Build()
					}
					merged = append(merged, item)
				}
			default:
				return nil, ferrors.DocumentError("merge key value must be a mapping").Build()
			}
			continue
		}
		ek := *k
		ek.Anchor = ""
		out.Content = append(out.Content, &ek, ev)
	}

	// Explicit keys win over merged ones; earlier merge sources win over later ones.
	for _, src := range merged {
		for i := 0; i+1 < len(src.Content); i += 2 {
			key := src.Content[i].Value
			if indexOf(&out, key) >= 0 {
				continue
			}
			out.Content = append(out.Content, cloneNode(src.Content[i]), cloneNode(src.Content[i+1]))
		}
	}
	return &out, nil
}

// nodeEqual compares two nodes semantically: styles, comments and positions are
// ignored, mapping key order is ignored, sequence order is not.
func nodeEqual(a, b *yaml.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case yaml.ScalarNode:
		if a.ShortTag() == b.ShortTag() && a.Value == b.Value {
			return true
		}
		var av, bv any
		if a.Decode(&av) != nil || b.Decode(&bv) != nil {
			return false
		}
		return reflect.DeepEqual(av, bv)
	case yaml.MappingNode:
		if len(a.Content) != len(b.Content) {
			return false
		}
		for i := 0; i+1 < len(a.Content); i += 2 {
			j := indexOf(b, a.Content[i].Value)
			if j < 0 || !nodeEqual(a.Content[i+1], b.Content[j+1]) {
				return false
			}
		}
		return true
	default:
		if len(a.Content) != len(b.Content) {
			return false
		}
		for i := range a.Content {
			if !nodeEqual(a.Content[i], b.Content[i]) {
				return false
			}
		}
		return true
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
