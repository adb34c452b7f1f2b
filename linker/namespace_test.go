package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-embed/errors"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want Version
		ok   bool
	}{
		{"0.2.0", Version{0, 2, 0}, true},
		{"1.2", Version{1, 2, 0}, true},
		{"3", Version{3, 0, 0}, true},
		{"", Version{}, false},
		{"1.2.3.4", Version{}, false},
		{"1.x", Version{}, false},
		{"+1", Version{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseVersion(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
				assert.Equal(t, tt.want.String(), got.String())
			}
		})
	}
}

func TestVersionCompatible(t *testing.T) {
	tests := []struct {
		have, want string
		ok         bool
	}{
		{"0.2.0", "0.2.0", true},
		{"0.2.3", "0.2.0", true},
		{"0.2.0", "0.2.3", false},
		{"0.3.0", "0.2.0", false},
		{"1.4.0", "1.2.9", true},
		{"1.2.0", "1.4.0", false},
		{"2.0.0", "1.0.0", false},
	}
	for _, tt := range tests {
		have, _ := ParseVersion(tt.have)
		want, _ := ParseVersion(tt.want)
		assert.Equal(t, tt.ok, have.Compatible(want), "%s satisfies %s", tt.have, tt.want)
	}
}

func TestParseNamespacePath(t *testing.T) {
	segs := parseNamespacePath("wasi:io/streams@0.2.0")
	require.Len(t, segs, 2)
	assert.Equal(t, "wasi:io", segs[0].name)
	assert.Nil(t, segs[0].version)
	assert.Equal(t, "streams", segs[1].name)
	require.NotNil(t, segs[1].version)
	assert.Equal(t, Version{0, 2, 0}, *segs[1].version)

	segs = parseNamespacePath("env")
	require.Len(t, segs, 1)
	assert.Equal(t, "env", segs[0].name)

	segs = parseNamespacePath("example:host")
	require.Len(t, segs, 1)
	assert.Equal(t, "example:host", segs[0].name)
}

func TestNamespaceFullPath(t *testing.T) {
	root := NewNamespace()
	assert.Equal(t, "example:host/host", root.Instance("example:host/host").FullPath())
	assert.Equal(t, "wasi:io/streams@0.2.0", root.Instance("wasi:io/streams@0.2.0").FullPath())
	assert.Equal(t, "env", root.Instance("env").FullPath())
	assert.Same(t, root.Instance("env"), root.Instance("env"))
}

func TestNamespaceResolve(t *testing.T) {
	root := NewNamespace()
	old := root.Instance("wasi:io/streams@0.2.1")
	newer := root.Instance("wasi:io/streams@0.2.3")
	root.Instance("wasi:io/streams@0.3.0")

	assert.Same(t, newer, root.Resolve("wasi:io/streams@0.2.0"))
	assert.Same(t, old, root.Resolve("wasi:io/streams@0.2.1"))
	assert.Same(t, newer, root.Resolve("wasi:io/streams@0.2.2"))
	assert.Nil(t, root.Resolve("wasi:io/streams@0.2.4"))
	assert.Nil(t, root.Resolve("wasi:io/streams"))
	assert.Nil(t, root.Resolve("wasi:io/poll@0.2.0"))
}

func TestNamespaceDefine(t *testing.T) {
	ns := NewNamespace().Instance("env")
	require.NoError(t, ns.Define(&FuncDef{Name: "f"}))

	err := ns.Define(&FuncDef{Name: "f"})
	assert.True(t, errors.IsKind(err, errors.KindLinkDuplicate))

	ns.seal()
	err = ns.Define(&FuncDef{Name: "g"})
	assert.True(t, errors.IsKind(err, errors.KindLinkFrozen))

	assert.Equal(t, 1, ns.Len())
	assert.NotNil(t, ns.Func("f"))
	assert.Nil(t, ns.Func("g"))
	assert.Len(t, ns.Funcs(), 1)
}

func TestNamespaceWalk(t *testing.T) {
	root := NewNamespace()
	root.Instance("b:x/y")
	root.Instance("a:x/y")

	var paths []string
	root.Walk(func(n *Namespace) { paths = append(paths, n.FullPath()) })
	assert.Equal(t, []string{"", "a:x", "a:x/y", "b:x", "b:x/y"}, paths)
}
