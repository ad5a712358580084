package document

import "gopkg.in/yaml.v3"

// MergeMapping merges patch into d. For each patch key: when both sides hold a
// mapping the two are merged recursively, otherwise the patch value replaces the
// current one entirely. Sequences are never concatenated. patch is not modified.
func (d *Document) MergeMapping(patch *Document) {
	if patch == nil {
		return
	}
	mergeInto(d.root, patch.root)
}

func mergeInto(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		key, val := src.Content[i].Value, src.Content[i+1]
		j := indexOf(dst, key)
		if j < 0 {
			dst.Content = append(dst.Content, newKey(key), cloneNode(val))
			continue
		}
		cur := dst.Content[j+1]
		if cur.Kind == yaml.MappingNode && val.Kind == yaml.MappingNode {
			mergeInto(cur, val)
			continue
		}
		dst.Content[j+1] = cloneNode(val)
	}
}

// FillDefaults is the inverse of MergeMapping: values from defaults are only
// written where d has no value. Nested mappings are filled recursively.
func (d *Document) FillDefaults(defaults *Document) {
	if defaults == nil {
		return
	}
	fillInto(d.root, defaults.root)
}

func fillInto(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		key, val := src.Content[i].Value, src.Content[i+1]
		j := indexOf(dst, key)
		if j < 0 {
			dst.Content = append(dst.Content, newKey(key), cloneNode(val))
			continue
		}
		cur := dst.Content[j+1]
		if cur.Kind == yaml.MappingNode && val.Kind == yaml.MappingNode {
			fillInto(cur, val)
		}
	}
}

// Equal reports whether d and other hold semantically equal trees.
func (d *Document) Equal(other *Document) bool {
	if other == nil {
		return false
	}
	return nodeEqual(d.root, other.root)
}

// ChangedKeys returns, in after's key order, the top-level keys of after that are
// absent from before or hold a different value there.
func ChangedKeys(before, after *Document) []string {
	var changed []string
	for i := 0; i+1 < len(after.root.Content); i += 2 {
		key := after.root.Content[i].Value
		prev, ok := before.lookup(key)
		if !ok || !nodeEqual(prev, after.root.Content[i+1]) {
			changed = append(changed, key)
		}
	}
	return changed
}
