// Package blockproc implements the parallel data block pipeline: blocks
// are submitted in file order, compressed by a bounded pool of workers,
// deduplicated and written to the image in submission order.
package blockproc

import (
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Output is the append-only sink the drain writes data blocks to.
type Output interface {
	io.Writer
	// Position returns the offset the next write lands at.
	Position() uint64
}

// Config tunes the processor.
type Config struct {
	// Workers is the number of compression workers; 0 means GOMAXPROCS.
	Workers int
	// Backlog is the maximum number of blocks in flight before Submit
	// blocks; 0 means 10 times the worker count.
	Backlog int
	// BlockSize is the data block size of the filesystem.
	BlockSize uint32
	// Compressor configures the codec; every worker gets its own
	// instance.
	Compressor compression.Config
}

type block struct {
	seq  uint64
	node *tree.Node

	// index of the block within the owning file's size table; unused for
	// fragment blocks.
	index int

	// fragIndex is the fragment table entry for fragment blocks.
	fragIndex uint32
	fragment  bool

	// data is nil for end-of-file markers, which pass through the queues
	// to keep completion ordered with the file's blocks.
	data   []byte
	packed []byte
}

func (b *block) emitted() []byte {
	if b.packed != nil {
		return b.packed
	}
	return b.data
}

func (b *block) sizeWord() uint32 {
	if b.packed != nil {
		return uint32(len(b.packed))
	}
	return uint32(len(b.data)) | types.BlockUncompressed
}

// Processor is the compress-and-dedupe engine. A single mutex guards the
// queues; workAvail wakes workers, ioAvail wakes the submitter (backlog)
// and the drain (next block completed).
type Processor struct {
	mu        sync.Mutex
	workAvail *sync.Cond
	ioAvail   *sync.Cond

	todo     []*block
	done     map[uint64]*block
	nextSeq  uint64
	nextEmit uint64
	backlog  int
	stopped  bool
	err      error

	out       Output
	dedup     map[dedupKey]dedupHit
	fragments []types.FragmentEntry
	run       *fileRun

	wg sync.WaitGroup
}

// New creates a processor and starts its workers and drain.
func New(cfg Config, out Output) (*Processor, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = workers * 10
	}
	p := &Processor{
		done:    make(map[uint64]*block),
		backlog: backlog,
		out:     out,
		dedup:   make(map[dedupKey]dedupHit),
	}
	p.workAvail = sync.NewCond(&p.mu)
	p.ioAvail = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		cmp, err := compression.New(cfg.Compressor)
		if err != nil {
			return nil, err
		}
		p.wg.Add(1)
		go p.worker(cmp)
	}
	p.wg.Add(1)
	go p.drain()
	return p, nil
}

// SubmitFileBlock hands one full data block of node to the pipeline,
// taking ownership of data. All-zero blocks are marked sparse right away
// and never enter the queue.
func (p *Processor) SubmitFileBlock(node *tree.Node, data []byte) error {
	idx := len(node.File.BlockSizes)
	node.File.BlockSizes = append(node.File.BlockSizes, 0)
	if allZero(data) {
		return nil
	}
	return p.submit(&block{node: node, index: idx, data: data})
}

// EndFile marks the end of a file's full blocks. The marker flows through
// the queues so the drain finalizes the file only after its last block.
func (p *Processor) EndFile(node *tree.Node) error {
	return p.submit(&block{node: node})
}

// submitFragment hands a packed fragment block to the pipeline.
func (p *Processor) submitFragment(fragIndex uint32, data []byte) error {
	return p.submit(&block{fragment: true, fragIndex: fragIndex, data: data})
}

func (p *Processor) submit(b *block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.err == nil && len(p.todo)+len(p.done) >= p.backlog {
		p.ioAvail.Wait()
	}
	if p.err != nil {
		return p.err
	}
	if p.stopped {
		return types.ErrCancelled
	}
	b.seq = p.nextSeq
	p.nextSeq++
	p.todo = append(p.todo, b)
	p.workAvail.Signal()
	return nil
}

// reserveFragment appends a fragment table slot and returns its index.
func (p *Processor) reserveFragment() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := uint32(len(p.fragments))
	p.fragments = append(p.fragments, types.FragmentEntry{})
	return idx
}

// FragmentEntries returns the fragment table collected during the data
// pass. Valid after Finish.
func (p *Processor) FragmentEntries() []types.FragmentEntry {
	return p.fragments
}

func (p *Processor) worker(cmp compression.Compressor) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.err == nil && len(p.todo) == 0 && !p.stopped {
			p.workAvail.Wait()
		}
		if p.err != nil || (p.stopped && len(p.todo) == 0) {
			p.mu.Unlock()
			return
		}
		b := p.todo[0]
		p.todo = p.todo[1:]
		p.mu.Unlock()

		if b.data != nil {
			packed, err := cmp.Compress(b.data)
			if err != nil {
				p.poison(err)
				return
			}
			b.packed = packed
		}

		p.mu.Lock()
		p.done[b.seq] = b
		p.ioAvail.Broadcast()
		p.mu.Unlock()
	}
}

// poison records the first error and wakes everything up; the queues are
// dead from here on.
func (p *Processor) poison(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.workAvail.Broadcast()
	p.ioAvail.Broadcast()
	p.mu.Unlock()
}

// Finish waits for every submitted block to be emitted, stops the workers
// and the drain, and returns the sticky error if the pipeline failed.
func (p *Processor) Finish() error {
	p.mu.Lock()
	p.stopped = true
	p.workAvail.Broadcast()
	p.ioAvail.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return fmt.Errorf("block processor: %w", p.err)
	}
	return nil
}

func allZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
