package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type itemType string

const (
	itemMerge  itemType = "merge"
	itemScript itemType = "script"
)

func newItemNormalizer() *Normalizer[itemType] {
	return NewNormalizer(map[string]itemType{
		"merge":  itemMerge,
		"Script": itemScript,
	}, itemMerge)
}

func TestNormalize(t *testing.T) {
	n := newItemNormalizer()
	tests := []struct {
		input string
		want  itemType
	}{
		{"merge", itemMerge},
		{"SCRIPT", itemScript},
		{"  script  ", itemScript},
		{"unknown", itemMerge},
		{"", itemMerge},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.input))
		})
	}
}

func TestNormalizeWithError(t *testing.T) {
	n := newItemNormalizer()

	got, err := n.NormalizeWithError(" Merge ")
	require.NoError(t, err)
	assert.Equal(t, itemMerge, got)

	_, err = n.NormalizeWithError("lua")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge, script")
}

func TestValidAndKeys(t *testing.T) {
	n := newItemNormalizer()
	assert.True(t, n.Valid("MERGE"))
	assert.False(t, n.Valid("builtin"))

	keys := n.ValidKeys()
	assert.Equal(t, []string{"merge", "script"}, keys)
	keys[0] = "mutated"
	assert.Equal(t, "merge", n.ValidKeys()[0])
}
