package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/clashchain/internal/chain"
	"git.home.luguber.info/inful/clashchain/internal/document"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "profiles.yaml"), filepath.Join(dir, "profiles"))
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestEmptyStore(t *testing.T) {
	s := newStore(t)
	items, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.Get("nope")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestProvisionIsIdempotent(t *testing.T) {
	s := newStore(t)

	changed, err := s.Provision()
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Provision()
	require.NoError(t, err)
	assert.False(t, changed)

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, MergeUID, items[0].UID)
	assert.Equal(t, "Merge.yaml", items[0].File)
	assert.Equal(t, ScriptUID, items[1].UID)
	assert.Equal(t, "Script.go", items[1].File)
	assert.Equal(t, int64(1700000000), items[0].Updated)
}

func TestProvisionDoesNotOverwrite(t *testing.T) {
	s := newStore(t)
	_, err := s.Provision()
	require.NoError(t, err)
	_, err = s.Update(MergeUID, []byte("mode: global\n"))
	require.NoError(t, err)
	require.NoError(t, s.SetChain([]string{ScriptUID}))

	_, err = s.Provision()
	require.NoError(t, err)

	item, err := s.Get(MergeUID)
	require.NoError(t, err)
	src, err := s.Read(item)
	require.NoError(t, err)
	assert.Equal(t, "mode: global\n", string(src))

	chainItems, err := s.Chain()
	require.NoError(t, err)
	require.Len(t, chainItems, 1, "provision must not re-add items the user took out of the chain")
}

func TestProvisionedItemsRunAsIdentity(t *testing.T) {
	s := newStore(t)
	_, err := s.Provision()
	require.NoError(t, err)

	res, err := s.Load(chain.ScriptOptions{})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, 2, res.Registry.Len())

	doc, err := document.Parse([]byte("mode: rule\n"))
	require.NoError(t, err)
	for _, u := range res.Registry.Units() {
		doc, err = u.Apply(context.Background(), doc, chain.NewRecorder())
		require.NoError(t, err, u.Name())
	}
	assert.Equal(t, []string{"mode"}, doc.Keys())
}

func TestAppendAndRemove(t *testing.T) {
	s := newStore(t)

	item, err := s.Append(Item{Name: "ads", Type: "MERGE"}, []byte("rules: [MATCH,DIRECT]\n"))
	require.NoError(t, err)
	assert.NotEmpty(t, item.UID)
	assert.Equal(t, chain.KindMerge, item.Type)
	assert.Equal(t, item.UID+".yaml", item.File)
	assert.FileExists(t, filepath.Join(s.Dir(), item.File))

	_, err = s.Append(Item{Name: "ads", Type: chain.KindScript}, []byte("package main\n"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAlreadyExists))

	_, err = s.Append(Item{UID: item.UID, Name: "other", Type: chain.KindMerge}, []byte("a: 1\n"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAlreadyExists))

	require.NoError(t, s.Remove(item.UID))
	assert.NoFileExists(t, filepath.Join(s.Dir(), item.File))
	chainItems, err := s.Chain()
	require.NoError(t, err)
	assert.Empty(t, chainItems)

	assert.True(t, ferrors.HasCategory(s.Remove(item.UID), ferrors.CategoryNotFound))
}

func TestAppendValidates(t *testing.T) {
	s := newStore(t)

	_, err := s.Append(Item{Name: "x", Type: "lua"}, []byte("a: 1\n"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = s.Append(Item{Name: chain.TunName, Type: chain.KindMerge}, []byte("a: 1\n"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = s.Append(Item{Name: "broken", Type: chain.KindMerge}, []byte("- not a mapping\n"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryChain))

	items, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestImplicitItemsCannotBeRemoved(t *testing.T) {
	s := newStore(t)
	_, err := s.Provision()
	require.NoError(t, err)
	assert.True(t, ferrors.HasCategory(s.Remove(MergeUID), ferrors.CategoryValidation))
}

func TestSetChain(t *testing.T) {
	s := newStore(t)
	a, err := s.Append(Item{Name: "a", Type: chain.KindMerge}, []byte("a: 1\n"))
	require.NoError(t, err)
	b, err := s.Append(Item{Name: "b", Type: chain.KindMerge}, []byte("b: 1\n"))
	require.NoError(t, err)

	require.NoError(t, s.SetChain([]string{b.UID, a.UID}))
	items, err := s.Chain()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, []string{items[0].Name, items[1].Name})

	assert.Error(t, s.SetChain([]string{a.UID, a.UID}))
	assert.True(t, ferrors.HasCategory(s.SetChain([]string{"ghost"}), ferrors.CategoryNotFound))
}

func TestLoadExcludesBrokenItems(t *testing.T) {
	s := newStore(t)
	good, err := s.Append(Item{Name: "good", Type: chain.KindMerge}, []byte("a: 1\n"))
	require.NoError(t, err)
	bad, err := s.Append(Item{Name: "bad", Type: chain.KindMerge}, []byte("b: 1\n"))
	require.NoError(t, err)
	gone, err := s.Append(Item{Name: "gone", Type: chain.KindScript}, []byte("package main\n"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), bad.File), []byte("b: [1\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(s.Dir(), gone.File)))

	res, err := s.Load(chain.ScriptOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Registry.Len())
	assert.Equal(t, good.Name, res.Registry.Units()[0].Name())
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.True(t, ferrors.HasCategory(e, ferrors.CategoryChain))
	}
}

func TestMalformedIndex(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.IndexPath(), []byte("items: {"), 0o644))
	_, err := s.List()
	require.Error(t, err)
	_, err = s.Load(chain.ScriptOptions{})
	require.Error(t, err)
}

func TestTemplatesAreAcceptedByAppend(t *testing.T) {
	s := newStore(t)
	for _, kind := range []chain.Kind{chain.KindMerge, chain.KindScript} {
		item, err := s.Append(Item{Name: "from-" + string(kind), Type: kind}, Template(kind))
		require.NoError(t, err)
		src, err := s.Read(item)
		require.NoError(t, err)
		assert.Equal(t, Template(kind), src)
	}
	res, err := s.Load(chain.ScriptOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
}
