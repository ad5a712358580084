package profile

import (
	"git.home.luguber.info/inful/clashchain/internal/chain"
	"git.home.luguber.info/inful/clashchain/internal/foundation/normalization"
)

// Implicit items provisioned on first start.
const (
	MergeUID  = "Merge"
	ScriptUID = "Script"
)

// Item is the persistent record of one chain unit.
type Item struct {
	UID     string     `yaml:"uid" json:"uid"`
	Name    string     `yaml:"name" json:"name"`
	Type    chain.Kind `yaml:"type" json:"type"`
	File    string     `yaml:"file" json:"file"`
	Desc    string     `yaml:"desc,omitempty" json:"desc,omitempty"`
	Updated int64      `yaml:"updated" json:"updated"`
}

// UnitName is the name the item's unit carries in a registry.
func (i Item) UnitName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.UID
}

// Implicit reports whether the item is one of the provisioned items.
func (i Item) Implicit() bool {
	return i.UID == MergeUID || i.UID == ScriptUID
}

var typeNormalizer = normalization.NewNormalizer(map[string]chain.Kind{
	"merge":  chain.KindMerge,
	"script": chain.KindScript,
}, "")

// ParseType normalizes a user supplied item type.
func ParseType(raw string) (chain.Kind, error) {
	return typeNormalizer.NormalizeWithError(raw)
}

// Template returns the starter source for a new item of kind k.
func Template(k chain.Kind) []byte {
	if k == chain.KindScript {
		return []byte(scriptTemplate)
	}
	return []byte(mergeTemplate)
}

func extensionFor(k chain.Kind) string {
	if k == chain.KindScript {
		return ".go"
	}
	return ".yaml"
}

// index is the on-disk shape of profiles.yaml.
type index struct {
	Chain []string `yaml:"chain"`
	Items []Item   `yaml:"items"`
}

func (x *index) find(uid string) int {
	for i := range x.Items {
		if x.Items[i].UID == uid {
			return i
		}
	}
	return -1
}

const mergeTemplate = `# Merge template.
# Top-level keys listed here replace or extend the generated configuration.
# Nested mappings merge key by key; lists and scalars replace the old value.
#
# mode: rule
# dns:
#   nameserver:
#     - 1.1.1.1
`

const scriptTemplate = `// Script template.
// Main receives the generated configuration and returns the one to use.
// Import "chain" to log with chain.Info, chain.Warn and chain.Error.
package main

func Main(config map[string]interface{}) (map[string]interface{}, error) {
	return config, nil
}
`
