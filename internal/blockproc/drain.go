package blockproc

import (
	"hash/crc32"

	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// dedupKey identifies a block by content hash and on-disk size word, which
// carries both the byte count and the uncompressed flag.
type dedupKey struct {
	hash uint32
	word uint32
}

type dedupHit struct {
	offset uint64
}

// fileRun buffers the blocks of the file currently passing through the
// drain. While every block hits the dedup index at the offset that keeps
// the file contiguous, nothing is written; the first divergence flushes
// the buffered blocks to the image.
type fileRun struct {
	node *tree.Node

	blocks  []*block
	sharing bool
	started bool
	wrote   bool

	// shared-run bookkeeping: where the duplicate run starts and where
	// the next block must be found for the run to stay contiguous.
	shareStart uint64
	shareNext  uint64
}

// drain is the writer loop. It is the only goroutine that touches the
// output file and the dedup index.
func (p *Processor) drain() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.err == nil && p.done[p.nextEmit] == nil &&
			!(p.stopped && p.nextEmit == p.nextSeq) {
			p.ioAvail.Wait()
		}
		if p.err != nil {
			p.mu.Unlock()
			return
		}
		if p.stopped && p.nextEmit == p.nextSeq {
			p.mu.Unlock()
			if p.run != nil {
				// A missing end-of-file marker still flushes cleanly.
				if err := p.finishRun(); err != nil {
					p.poison(err)
				}
			}
			return
		}
		b := p.done[p.nextEmit]
		delete(p.done, p.nextEmit)
		p.nextEmit++
		p.ioAvail.Broadcast()
		p.mu.Unlock()

		if err := p.emit(b); err != nil {
			p.poison(err)
			return
		}
	}
}

// emit handles one block in submission order.
func (p *Processor) emit(b *block) error {
	if b.fragment {
		return p.emitFragment(b)
	}

	if p.run != nil && p.run.node != b.node {
		if err := p.finishRun(); err != nil {
			return err
		}
	}
	if p.run == nil {
		p.run = &fileRun{node: b.node, sharing: true}
	}

	if b.data == nil {
		return p.finishRun()
	}

	key := blockKey(b)
	if p.run.sharing {
		if hit, ok := p.dedup[key]; ok {
			if !p.run.started {
				p.run.started = true
				p.run.shareStart = hit.offset
				p.run.shareNext = hit.offset + uint64(onDiskSize(b))
				p.run.blocks = append(p.run.blocks, b)
				b.node.File.BlockSizes[b.index] = b.sizeWord()
				return nil
			}
			if hit.offset == p.run.shareNext {
				p.run.shareNext += uint64(onDiskSize(b))
				p.run.blocks = append(p.run.blocks, b)
				b.node.File.BlockSizes[b.index] = b.sizeWord()
				return nil
			}
		}
		// No contiguous duplicate; fall back to writing the whole file.
		if err := p.flushRun(); err != nil {
			return err
		}
	}
	return p.writeBlock(b)
}

// finishRun completes the current file. A fully shared run points the
// inode at the existing copy; otherwise everything was already written.
func (p *Processor) finishRun() error {
	run := p.run
	p.run = nil
	if run == nil {
		return nil
	}
	if run.sharing {
		if run.started {
			run.node.File.StartBlock = run.shareStart
		}
		return nil
	}
	return nil
}

// flushRun abandons sharing and writes the buffered blocks out.
func (p *Processor) flushRun() error {
	run := p.run
	run.sharing = false
	for _, b := range run.blocks {
		if err := p.writeBlock(b); err != nil {
			return err
		}
	}
	run.blocks = nil
	return nil
}

// writeBlock appends a block to the image and records it in the dedup
// index. The first written block of a file fixes the file's start offset.
func (p *Processor) writeBlock(b *block) error {
	run := p.run
	offset := p.out.Position()
	if !run.wrote {
		run.node.File.StartBlock = offset
		run.wrote = true
		run.started = true
	}
	if _, err := p.out.Write(b.emitted()); err != nil {
		return err
	}
	b.node.File.BlockSizes[b.index] = b.sizeWord()
	key := blockKey(b)
	if _, ok := p.dedup[key]; !ok {
		p.dedup[key] = dedupHit{offset: offset}
	}
	return nil
}

// emitFragment writes a packed fragment block, or points its table entry
// at an identical block emitted earlier.
func (p *Processor) emitFragment(b *block) error {
	key := blockKey(b)
	if hit, ok := p.dedup[key]; ok {
		p.setFragment(b.fragIndex, hit.offset, b.sizeWord())
		return nil
	}
	offset := p.out.Position()
	if _, err := p.out.Write(b.emitted()); err != nil {
		return err
	}
	p.dedup[key] = dedupHit{offset: offset}
	p.setFragment(b.fragIndex, offset, b.sizeWord())
	return nil
}

// setFragment fills a reserved fragment table slot. The mutex covers the
// slice against concurrent reservation by the submitter.
func (p *Processor) setFragment(idx uint32, offset uint64, word uint32) {
	p.mu.Lock()
	p.fragments[idx] = types.FragmentEntry{StartOffset: offset, Size: word}
	p.mu.Unlock()
}

func blockKey(b *block) dedupKey {
	return dedupKey{
		hash: crc32.ChecksumIEEE(b.emitted()),
		word: b.sizeWord(),
	}
}

// onDiskSize is the number of bytes the block occupies in the data area.
func onDiskSize(b *block) uint32 {
	return b.sizeWord() & types.BlockSizeMask
}
