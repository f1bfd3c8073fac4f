package blockproc

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

const testBlockSize = 4096

type memOutput struct {
	buf bytes.Buffer
}

func (m *memOutput) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *memOutput) Position() uint64            { return uint64(m.buf.Len()) }

type failOutput struct{}

func (failOutput) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failOutput) Position() uint64            { return 0 }

func testConfig(workers int) Config {
	return Config{
		Workers:    workers,
		BlockSize:  testBlockSize,
		Compressor: compression.DefaultConfig(types.CompGzip, testBlockSize),
	}
}

func newFileNode(t *testing.T, tr *tree.Tree, path string, size uint64) *tree.Node {
	t.Helper()
	n, err := tr.Add(path, types.FormatFile|0644, 0, 0, 0)
	require.NoError(t, err)
	n.File.Size = size
	return n
}

func randomBlocks(seed int64, count int) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	blocks := make([][]byte, count)
	for i := range blocks {
		blocks[i] = make([]byte, testBlockSize)
		rng.Read(blocks[i])
	}
	return blocks
}

func submitFile(t *testing.T, p *Processor, n *tree.Node, blocks [][]byte) {
	t.Helper()
	n.File.BlockSizes = make([]uint32, 0, len(blocks))
	for _, blk := range blocks {
		buf := make([]byte, len(blk))
		copy(buf, blk)
		require.NoError(t, p.SubmitFileBlock(n, buf))
	}
	require.NoError(t, p.EndFile(n))
}

func TestProcessorEmitsInSubmissionOrder(t *testing.T) {
	out := &memOutput{}
	p, err := New(testConfig(4), out)
	require.NoError(t, err)

	tr := tree.New(tree.Defaults{Mode: 0755})
	a := newFileNode(t, tr, "/a", 8*testBlockSize)
	b := newFileNode(t, tr, "/b", 4*testBlockSize)

	submitFile(t, p, a, randomBlocks(1, 8))
	submitFile(t, p, b, randomBlocks(2, 4))
	require.NoError(t, p.Finish())

	// Random data does not compress, so every block lands raw and the
	// layout is exactly predictable.
	assert.Equal(t, uint64(0), a.File.StartBlock)
	assert.Equal(t, uint64(8*testBlockSize), b.File.StartBlock)
	assert.Equal(t, 12*testBlockSize, out.buf.Len())
	for _, word := range append(a.File.BlockSizes, b.File.BlockSizes...) {
		assert.Equal(t, uint32(testBlockSize)|types.BlockUncompressed, word)
	}
}

func TestProcessorDeduplicatesIdenticalFiles(t *testing.T) {
	out := &memOutput{}
	p, err := New(testConfig(2), out)
	require.NoError(t, err)

	tr := tree.New(tree.Defaults{Mode: 0755})
	x := newFileNode(t, tr, "/x", 3*testBlockSize)
	y := newFileNode(t, tr, "/y", 3*testBlockSize)

	blocks := randomBlocks(7, 3)
	submitFile(t, p, x, blocks)
	submitFile(t, p, y, blocks)
	require.NoError(t, p.Finish())

	assert.Equal(t, x.File.StartBlock, y.File.StartBlock,
		"identical files must share their data blocks")
	assert.Equal(t, 3*testBlockSize, out.buf.Len(),
		"the data area must hold a single copy")
	assert.Equal(t, x.File.BlockSizes, y.File.BlockSizes)
}

func TestProcessorPrefixFileShares(t *testing.T) {
	out := &memOutput{}
	p, err := New(testConfig(2), out)
	require.NoError(t, err)

	tr := tree.New(tree.Defaults{Mode: 0755})
	long := newFileNode(t, tr, "/long", 4*testBlockSize)
	short := newFileNode(t, tr, "/short", 2*testBlockSize)

	blocks := randomBlocks(9, 4)
	submitFile(t, p, long, blocks)
	submitFile(t, p, short, blocks[:2])
	require.NoError(t, p.Finish())

	assert.Equal(t, long.File.StartBlock, short.File.StartBlock,
		"a file that is a block prefix of another shares its region")
	assert.Equal(t, 4*testBlockSize, out.buf.Len())
}

func TestProcessorSparseBlocks(t *testing.T) {
	out := &memOutput{}
	p, err := New(testConfig(2), out)
	require.NoError(t, err)

	tr := tree.New(tree.Defaults{Mode: 0755})
	n := newFileNode(t, tr, "/sparse", 3*testBlockSize)

	blocks := randomBlocks(3, 3)
	blocks[1] = make([]byte, testBlockSize)
	submitFile(t, p, n, blocks)
	require.NoError(t, p.Finish())

	require.Len(t, n.File.BlockSizes, 3)
	assert.NotZero(t, n.File.BlockSizes[0])
	assert.Zero(t, n.File.BlockSizes[1], "all-zero block must be marked sparse")
	assert.NotZero(t, n.File.BlockSizes[2])
	assert.Equal(t, 2*testBlockSize, out.buf.Len(),
		"sparse block must not reach the data area")
}

func TestProcessorDeterministicAcrossWorkerCounts(t *testing.T) {
	layouts := make([][]byte, 0, 2)
	for _, workers := range []int{1, 8} {
		out := &memOutput{}
		p, err := New(testConfig(workers), out)
		require.NoError(t, err)

		tr := tree.New(tree.Defaults{Mode: 0755})
		a := newFileNode(t, tr, "/a", 16*testBlockSize)
		submitFile(t, p, a, randomBlocks(11, 16))
		require.NoError(t, p.Finish())
		layouts = append(layouts, out.buf.Bytes())
	}
	assert.Equal(t, layouts[0], layouts[1],
		"worker count must not influence the emitted bytes")
}

func TestProcessorPoisonsOnWriteError(t *testing.T) {
	p, err := New(testConfig(2), failOutput{})
	require.NoError(t, err)

	tr := tree.New(tree.Defaults{Mode: 0755})
	n := newFileNode(t, tr, "/a", 64*testBlockSize)

	n.File.BlockSizes = make([]uint32, 0, 64)
	blocks := randomBlocks(5, 64)
	var submitErr error
	for _, blk := range blocks {
		if submitErr = p.SubmitFileBlock(n, blk); submitErr != nil {
			break
		}
	}
	finishErr := p.Finish()
	require.Error(t, finishErr, "a failing writer must poison the pipeline")
	if submitErr != nil {
		assert.ErrorContains(t, submitErr, "disk full")
	}
}
