package blockproc

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

func TestFragmentPackerPacksTails(t *testing.T) {
	out := &memOutput{}
	p, err := New(testConfig(2), out)
	require.NoError(t, err)
	fp := NewFragmentPacker(p, testBlockSize)

	tr := tree.New(tree.Defaults{Mode: 0755})
	a := newFileNode(t, tr, "/a", 10)
	b := newFileNode(t, tr, "/b", 100)

	require.NoError(t, fp.AddTail(a, []byte("helloworld")))
	tail := make([]byte, 100)
	rand.New(rand.NewSource(4)).Read(tail)
	require.NoError(t, fp.AddTail(b, tail))

	require.NoError(t, fp.Flush())
	require.NoError(t, p.Finish())

	assert.Equal(t, uint32(0), a.File.FragmentIndex)
	assert.Equal(t, uint32(0), a.File.FragmentOffset)
	assert.Equal(t, uint32(10), a.File.TailSize)

	assert.Equal(t, uint32(0), b.File.FragmentIndex, "both tails fit one fragment block")
	assert.Equal(t, uint32(10), b.File.FragmentOffset)

	entries := p.FragmentEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(110), entries[0].Size&types.BlockSizeMask,
		"uncompressible fragment block stored raw")
}

func TestFragmentPackerDeduplicatesTails(t *testing.T) {
	out := &memOutput{}
	p, err := New(testConfig(2), out)
	require.NoError(t, err)
	fp := NewFragmentPacker(p, testBlockSize)

	tr := tree.New(tree.Defaults{Mode: 0755})
	a := newFileNode(t, tr, "/a", 50)
	b := newFileNode(t, tr, "/b", 50)

	tail := bytes.Repeat([]byte{0xAB}, 50)
	require.NoError(t, fp.AddTail(a, tail))
	require.NoError(t, fp.AddTail(b, tail))
	require.NoError(t, fp.Flush())
	require.NoError(t, p.Finish())

	assert.Equal(t, a.File.FragmentIndex, b.File.FragmentIndex)
	assert.Equal(t, a.File.FragmentOffset, b.File.FragmentOffset,
		"identical tails share one fragment slot")
	require.Len(t, p.FragmentEntries(), 1)
}

func TestFragmentPackerOverflowsToNewBlock(t *testing.T) {
	out := &memOutput{}
	p, err := New(testConfig(2), out)
	require.NoError(t, err)
	fp := NewFragmentPacker(p, testBlockSize)

	tr := tree.New(tree.Defaults{Mode: 0755})
	rng := rand.New(rand.NewSource(6))

	var nodes []*tree.Node
	for i := 0; i < 3; i++ {
		n := newFileNode(t, tr, "/f"+string(rune('a'+i)), testBlockSize/2+1)
		tail := make([]byte, testBlockSize/2+1)
		rng.Read(tail)
		require.NoError(t, fp.AddTail(n, tail))
		nodes = append(nodes, n)
	}
	require.NoError(t, fp.Flush())
	require.NoError(t, p.Finish())

	assert.Equal(t, uint32(0), nodes[0].File.FragmentIndex)
	assert.Equal(t, uint32(1), nodes[1].File.FragmentIndex,
		"a tail that does not fit starts a new fragment block")
	assert.Equal(t, uint32(2), nodes[2].File.FragmentIndex)
	require.Len(t, p.FragmentEntries(), 3)
	for _, n := range nodes {
		assert.Equal(t, uint32(0), n.File.FragmentOffset)
	}
}