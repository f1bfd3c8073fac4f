package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

func testDefaults() Defaults {
	return Defaults{UID: 0, GID: 0, Mode: 0755, MTime: 0}
}

func TestAddSortsChildren(t *testing.T) {
	tr := New(testDefaults())
	for _, name := range []string{"/zeta", "/alpha", "/mid"} {
		_, err := tr.Add(name, types.FormatFile|0644, 0, 0, 0)
		require.NoError(t, err)
	}
	root := tr.Root()
	var names []string
	for _, c := range root.Children {
		names = append(names, tr.Nodes[c].Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestAddRejectsDuplicates(t *testing.T) {
	tr := New(testDefaults())
	_, err := tr.Add("/a", types.FormatFile|0644, 0, 0, 0)
	require.NoError(t, err)
	_, err = tr.Add("/a", types.FormatFile|0644, 0, 0, 0)
	assert.ErrorIs(t, err, types.ErrTreeInvariant)
}

func TestAddCreatesImplicitDirs(t *testing.T) {
	tr := New(testDefaults())
	_, err := tr.Add("/usr/share/doc/readme", types.FormatFile|0644, 1, 1, 0)
	require.NoError(t, err)

	usr, ok := tr.Lookup("/usr")
	require.True(t, ok)
	assert.True(t, usr.IsDir())
	assert.Equal(t, types.FormatDir|uint16(0755), usr.Mode)

	// An explicit entry for an implicit directory updates its attributes.
	_, err = tr.Add("/usr", types.FormatDir|0700, 5, 5, 99)
	require.NoError(t, err)
	usr, _ = tr.Lookup("/usr")
	assert.Equal(t, types.FormatDir|uint16(0700), usr.Mode)
	assert.Equal(t, uint32(5), usr.UID)

	// A second explicit entry is a duplicate.
	_, err = tr.Add("/usr", types.FormatDir|0755, 0, 0, 0)
	assert.ErrorIs(t, err, types.ErrTreeInvariant)
}

func TestAddRejectsFileAsParent(t *testing.T) {
	tr := New(testDefaults())
	_, err := tr.Add("/a", types.FormatFile|0644, 0, 0, 0)
	require.NoError(t, err)
	_, err = tr.Add("/a/b", types.FormatFile|0644, 0, 0, 0)
	assert.ErrorIs(t, err, types.ErrTreeInvariant)
}

func TestAddRootUpdatesAttributes(t *testing.T) {
	tr := New(testDefaults())
	root, err := tr.Add("/", types.FormatDir|0700, 3, 4, 7)
	require.NoError(t, err)
	assert.Same(t, tr.Root(), root)
	assert.Equal(t, uint32(3), root.UID)
}

func TestNLink(t *testing.T) {
	tr := New(testDefaults())
	_, err := tr.Add("/a", types.FormatFile|0644, 0, 0, 0)
	require.NoError(t, err)
	_, err = tr.Add("/b", types.FormatDir|0755, 0, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, uint32(4), tr.NLink(tr.Root()), "two children plus dot entries")
	f, _ := tr.Lookup("/a")
	assert.Equal(t, uint32(1), tr.NLink(f))
}

func TestWalkFilesOrder(t *testing.T) {
	tr := New(testDefaults())
	for _, p := range []string{"/b/one", "/a/two", "/top"} {
		_, err := tr.Add(p, types.FormatFile|0644, 0, 0, 0)
		require.NoError(t, err)
	}
	var order []string
	err := tr.WalkFiles(func(n *Node) error {
		order = append(order, n.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "one", "top"}, order,
		"files are visited in sorted depth-first order")
}
