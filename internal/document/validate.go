package document

import (
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// Validate checks the structural invariants: a mapping root, scalar keys that are
// unique within each mapping, no unresolved aliases and nesting within MaxDepth.
func (d *Document) Validate() error {
	if d == nil || d.root == nil || d.root.Kind != yaml.MappingNode {
		return ferrors.DocumentError("document root must be a mapping").Build()
	}
	return validateNode(d.root, "", 0)
}

func validateNode(n *yaml.Node, path string, depth int) error {
	if depth > MaxDepth {
		return ferrors.DocumentError("document nesting exceeds limit").
			WithContext("path", path).
			WithContext("max_depth", MaxDepth).
			Build()
	}
	switch n.Kind {
	case yaml.AliasNode:
		return ferrors.DocumentError("unresolved alias").WithContext("path", path).Build()
	case yaml.MappingNode:
		if len(n.Content)%2 != 0 {
			return ferrors.DocumentError("mapping has a dangling key").WithContext("path", path).Build()
		}
		seen := make(map[string]struct{}, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode {
				return ferrors.DocumentError("mapping keys must be scalars").WithContext("path", path).Build()
			}
			if _, dup := seen[k.Value]; dup {
				return ferrors.DocumentError("duplicate mapping key").
					WithContext("path", path).
					WithContext("key", k.Value).
					Build()
			}
			seen[k.Value] = struct{}{}
			if err := validateNode(n.Content[i+1], joinPath(path, k.Value), depth+1); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, c := range n.Content {
			if err := validateNode(c, path+"[]", depth+1); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
	default:
		return ferrors.DocumentError("unexpected node kind").
			WithContext("path", path).
			WithContext("kind", kindName(n.Kind)).
			Build()
	}
	return nil
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
