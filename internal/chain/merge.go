package chain

import (
	"context"

	"git.home.luguber.info/inful/clashchain/internal/document"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// Merge applies a structural patch.
type Merge struct {
	name  string
	patch *document.Document
}

// NewMerge parses source as the unit's patch. A malformed patch is a load error.
func NewMerge(name string, source []byte) (*Merge, error) {
	patch, err := document.Parse(source)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryChain, "invalid merge source").
			Warning().
			WithContext("unit", name).
			Build()
	}
	return &Merge{name: name, patch: patch}, nil
}

func (m *Merge) Name() string { return m.name }
func (m *Merge) Kind() Kind   { return KindMerge }

// Apply merges the patch into doc. It never fails.
func (m *Merge) Apply(_ context.Context, doc *document.Document, rec *Recorder) (*document.Document, error) {
	doc.MergeMapping(m.patch)
	rec.Info("merged %d top-level keys", m.patch.Len())
	return doc, nil
}
