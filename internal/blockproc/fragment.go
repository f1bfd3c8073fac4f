package blockproc

import (
	"hash/crc32"

	"github.com/deploymenttheory/go-squashfs/internal/tree"
)

// FragmentPacker collects file tails into shared fragment blocks. A full
// buffer is handed to the processor like any other data block, tagged as a
// fragment so the drain records a fragment table entry for it.
type FragmentPacker struct {
	p         *Processor
	blockSize uint32

	buf      []byte
	curIndex uint32
	active   bool

	// tails indexes every packed tail by content so identical tails
	// across files share one fragment slot.
	tails map[tailKey]tailRef
}

type tailKey struct {
	hash uint32
	size uint32
}

type tailRef struct {
	fragment uint32
	offset   uint32
}

// NewFragmentPacker creates a packer feeding the given processor.
func NewFragmentPacker(p *Processor, blockSize uint32) *FragmentPacker {
	return &FragmentPacker{
		p:         p,
		blockSize: blockSize,
		buf:       make([]byte, 0, blockSize),
		tails:     make(map[tailKey]tailRef),
	}
}

// AddTail records the tail of node. Identical tails resolve to the slot of
// their first occurrence; new tails append to the current fragment block,
// flushing it first if the tail does not fit.
func (f *FragmentPacker) AddTail(node *tree.Node, data []byte) error {
	key := tailKey{hash: crc32.ChecksumIEEE(data), size: uint32(len(data))}
	if ref, ok := f.tails[key]; ok {
		node.File.FragmentIndex = ref.fragment
		node.File.FragmentOffset = ref.offset
		node.File.TailSize = uint32(len(data))
		return nil
	}

	if uint32(len(f.buf))+uint32(len(data)) > f.blockSize {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if !f.active {
		f.curIndex = f.p.reserveFragment()
		f.active = true
	}

	ref := tailRef{fragment: f.curIndex, offset: uint32(len(f.buf))}
	f.buf = append(f.buf, data...)
	f.tails[key] = ref

	node.File.FragmentIndex = ref.fragment
	node.File.FragmentOffset = ref.offset
	node.File.TailSize = uint32(len(data))
	return nil
}

// Flush submits the current partial fragment block, if any.
func (f *FragmentPacker) Flush() error {
	if !f.active || len(f.buf) == 0 {
		f.active = false
		return nil
	}
	data := make([]byte, len(f.buf))
	copy(data, f.buf)
	err := f.p.submitFragment(f.curIndex, data)
	f.buf = f.buf[:0]
	f.active = false
	return err
}
