package document

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	d, err := Parse([]byte(src))
	require.NoError(t, err)
	return d
}

func asMap(t *testing.T, d *Document) map[string]any {
	t.Helper()
	m, err := d.ToMap()
	require.NoError(t, err)
	return m
}

func TestParse(t *testing.T) {
	t.Run("empty input is an empty mapping", func(t *testing.T) {
		for _, src := range []string{"", "   \n", "~\n", "null"} {
			d, err := Parse([]byte(src))
			require.NoError(t, err, "source %q", src)
			assert.Equal(t, 0, d.Len())
		}
	})

	t.Run("non-mapping root is rejected", func(t *testing.T) {
		_, err := Parse([]byte("- a\n- b\n"))
		require.Error(t, err)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDocument))
	})

	t.Run("syntax error is rejected", func(t *testing.T) {
		_, err := Parse([]byte("a: [1, 2\n"))
		require.Error(t, err)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDocument))
	})

	t.Run("duplicate keys are rejected", func(t *testing.T) {
		_, err := Parse([]byte("a: 1\na: 2\n"))
		require.Error(t, err)
	})

	t.Run("keys keep source order", func(t *testing.T) {
		d := mustParse(t, "port: 7890\nmode: rule\nallow-lan: false\n")
		assert.Equal(t, []string{"port", "mode", "allow-lan"}, d.Keys())
	})

	t.Run("aliases and merge keys are expanded", func(t *testing.T) {
		d := mustParse(t, `
base: &base
  type: select
  url: http://test
groups:
  - <<: *base
    name: auto
    type: url-test
  - *base
`)
		want := map[string]any{
			"base": map[string]any{"type": "select", "url": "http://test"},
			"groups": []any{
				map[string]any{"name": "auto", "type": "url-test", "url": "http://test"},
				map[string]any{"type": "select", "url": "http://test"},
			},
		}
		if diff := cmp.Diff(want, asMap(t, d)); diff != "" {
			t.Fatalf("expanded document mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestGetSetDelete(t *testing.T) {
	d := mustParse(t, "mode: rule\ndns:\n  enable: false\n")

	v, ok := d.Get("mode")
	require.True(t, ok)
	assert.Equal(t, "rule", v)

	_, ok = d.Get("missing")
	assert.False(t, ok)

	require.NoError(t, d.Set("mode", "global"))
	require.NoError(t, d.Set("log-level", "info"))
	assert.Equal(t, []string{"mode", "dns", "log-level"}, d.Keys())

	dns, ok := d.Mapping("dns")
	require.True(t, ok)
	require.NoError(t, dns.Set("enable", true))
	// Mapping returns a copy; d is unchanged until the copy is stored.
	v, _ = d.Get("dns")
	assert.Equal(t, map[string]any{"enable": false}, v)
	require.NoError(t, d.Set("dns", dns))
	v, _ = d.Get("dns")
	assert.Equal(t, map[string]any{"enable": true}, v)

	_, ok = d.Mapping("mode")
	assert.False(t, ok, "scalar values are not mappings")

	assert.True(t, d.Delete("log-level"))
	assert.False(t, d.Delete("log-level"))
	assert.False(t, d.Has("log-level"))
}

func TestSetStringStaysString(t *testing.T) {
	d := New()
	require.NoError(t, d.Set("a", "true"))
	require.NoError(t, d.Set("b", "7890"))
	require.NoError(t, d.Set("c", "plain"))

	out, err := d.Marshal("")
	require.NoError(t, err)
	back := mustParse(t, string(out))

	assert.Equal(t, map[string]any{"a": "true", "b": "7890", "c": "plain"}, asMap(t, back))
}

func TestCloneIsIndependent(t *testing.T) {
	d := mustParse(t, "a:\n  b: 1\n")
	cp := d.Clone()
	patch := mustParse(t, "a:\n  b: 2\n")
	cp.MergeMapping(patch)

	v, _ := d.Get("a")
	assert.Equal(t, map[string]any{"b": 1}, v)
	assert.False(t, d.Equal(cp))
}

func TestMergeMapping(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		patch string
		want  map[string]any
	}{
		{
			name:  "nested mappings merge recursively",
			base:  "a: {x: 0, z: 3}",
			patch: "a: {x: 1, y: 2}",
			want:  map[string]any{"a": map[string]any{"x": 1, "y": 2, "z": 3}},
		},
		{
			name:  "sequences are replaced, not concatenated",
			base:  "rules: [a, b]\n",
			patch: "rules: [b, c]\n",
			want:  map[string]any{"rules": []any{"b", "c"}},
		},
		{
			name:  "scalar replaces mapping",
			base:  "dns: {enable: true}\n",
			patch: "dns: off\n",
			want:  map[string]any{"dns": "off"},
		},
		{
			name:  "mapping replaces sequence",
			base:  "proxies: [a]\n",
			patch: "proxies: {a: 1}\n",
			want:  map[string]any{"proxies": map[string]any{"a": 1}},
		},
		{
			name:  "merge holds at depth",
			base:  "l1: {l2: {l3: {keep: 1, seq: [1, 2], over: a}}}\n",
			patch: "l1: {l2: {l3: {seq: [3], over: b, add: true}}}\n",
			want: map[string]any{"l1": map[string]any{"l2": map[string]any{"l3": map[string]any{
				"keep": 1, "seq": []any{3}, "over": "b", "add": true,
			}}}},
		},
		{
			name:  "null patch value replaces",
			base:  "a: {b: 1}\n",
			patch: "a: ~\n",
			want:  map[string]any{"a": nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustParse(t, tt.base)
			patch := mustParse(t, tt.patch)
			d.MergeMapping(patch)
			if diff := cmp.Diff(tt.want, asMap(t, d)); diff != "" {
				t.Fatalf("merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeMappingIsOrderSensitive(t *testing.T) {
	a := mustParse(t, "k: {v: 1}\n")
	b := mustParse(t, "k: {v: 2}\n")

	ab := New()
	ab.MergeMapping(a)
	ab.MergeMapping(b)

	ba := New()
	ba.MergeMapping(b)
	ba.MergeMapping(a)

	assert.Equal(t, map[string]any{"k": map[string]any{"v": 2}}, asMap(t, ab))
	assert.Equal(t, map[string]any{"k": map[string]any{"v": 1}}, asMap(t, ba))
}

func TestMergeMappingDoesNotAliasPatch(t *testing.T) {
	d := New()
	patch := mustParse(t, "a: {b: 1}\n")
	d.MergeMapping(patch)
	d.MergeMapping(mustParse(t, "a: {b: 2}\n"))

	v, _ := patch.Get("a")
	assert.Equal(t, map[string]any{"b": 1}, v)
}

func TestFillDefaults(t *testing.T) {
	d := mustParse(t, "mixed-port: 7890\ndns: {enable: false}\n")
	defaults := mustParse(t, "mixed-port: 1080\nmode: rule\ndns: {enable: true, listen: ':53'}\n")
	d.FillDefaults(defaults)

	want := map[string]any{
		"mixed-port": 7890,
		"mode":       "rule",
		"dns":        map[string]any{"enable": false, "listen": ":53"},
	}
	if diff := cmp.Diff(want, asMap(t, d)); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestChangedKeys(t *testing.T) {
	before := mustParse(t, "a: 1\nb: {x: 1, y: 2}\nc: [1]\nd: gone\n")
	after := mustParse(t, "b: {y: 2, x: 1}\na: 2\nc: [1]\ne: new\n")

	assert.Equal(t, []string{"a", "e"}, ChangedKeys(before, after))
	assert.Empty(t, ChangedKeys(after, after.Clone()))
}

func TestEqualIgnoresStyleAndKeyOrder(t *testing.T) {
	a := mustParse(t, "m: {x: 1, y: [a, b]}\nflag: true\n")
	b := mustParse(t, "flag: True\nm:\n  y:\n    - a\n    - b\n  x: 0x1\n")
	assert.True(t, a.Equal(b))

	c := mustParse(t, "m: {x: 1, y: [b, a]}\nflag: true\n")
	assert.False(t, a.Equal(c), "sequence order is significant")
}

func TestFromMap(t *testing.T) {
	ref := mustParse(t, "port: 7890\ndns:\n  enable: true\n  ipv6: false\nmode: rule\n")

	m := asMap(t, ref)
	m["dns"].(map[string]any)["nameserver"] = []any{"1.1.1.1"}
	m["allow-lan"] = true
	m["alpha"] = 1
	delete(m, "port")

	d, err := FromMap(m, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"dns", "mode", "allow-lan", "alpha"}, d.Keys())

	dns, ok := d.Mapping("dns")
	require.True(t, ok)
	assert.Equal(t, []string{"enable", "ipv6", "nameserver"}, dns.Keys())
}

func TestFromMapKeepsScalarSpelling(t *testing.T) {
	ref := mustParse(t, "ratio: 1.0\nhex: 0x1F\nport: \"8080\"\nlimits: [2.0, 3]\n")

	d, err := FromMap(asMap(t, ref), ref)
	require.NoError(t, err)
	assert.Empty(t, ChangedKeys(ref, d))
	want, err := ref.Marshal("")
	require.NoError(t, err)
	got, err := d.Marshal("")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	fresh, err := FromMap(map[string]any{"whole": 3.0, "half": 0.5, "big": 1e21}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"whole": 3.0, "half": 0.5, "big": 1e21}, asMap(t, fresh))

	changed, err := FromMap(map[string]any{"ratio": 1}, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"ratio"}, ChangedKeys(mustParse(t, "ratio: 1.0\n"), changed))
}

func TestFromMapRejectsInvalidValues(t *testing.T) {
	_, err := FromMap(map[string]any{"f": func() {}}, nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDocument))

	_, err = FromMap(map[string]any{"m": map[int]any{1: "a"}}, nil)
	require.Error(t, err)

	deep := map[string]any{}
	cur := deep
	for i := 0; i < MaxDepth+5; i++ {
		next := map[string]any{}
		cur["n"] = next
		cur = next
	}
	_, err = FromMap(deep, nil)
	require.Error(t, err)

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	_, err = FromMap(cyclic, nil)
	require.Error(t, err)
}

func TestMarshal(t *testing.T) {
	d := mustParse(t, "mode: rule\ntun:\n  enable: true\n")

	out, err := d.Marshal("Generated by clashchain")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "# Generated by clashchain\n"))

	out2, err := d.Marshal("# already a comment")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out2), "# already a comment\nmode: rule\n"))

	back := mustParse(t, string(out))
	assert.True(t, d.Equal(back))
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a := mustParse(t, "a: 1\nb: [x]\n")
	b := a.Clone()

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)

	require.NoError(t, b.Set("a", 2))
	fb2, err := b.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb2)
}
