package builder

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-squashfs/internal/blockproc"
	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/idtable"
	"github.com/deploymenttheory/go-squashfs/internal/metadata"
	"github.com/deploymenttheory/go-squashfs/internal/serializer"
	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
	"github.com/deploymenttheory/go-squashfs/internal/xattrs"
)

// Config collects everything the assembly needs to know.
type Config struct {
	BlockSize    uint32
	DevBlockSize uint32
	Workers      int
	Backlog      int
	Compressor   compression.Config
	Exportable   bool
	// ModTime is written into the superblock; it comes from the default
	// attributes so identical inputs produce identical images.
	ModTime  uint32
	Progress *Progress
}

// Builder drives one image build. Create it with New, feed file data
// through PackFile or PackLocalFiles, then call FinishData and
// WriteMetadata.
type Builder struct {
	t   *tree.Tree
	xw  *xattrs.Writer
	out *OutputFile
	cfg Config

	cmp      compression.Compressor
	proc     *blockproc.Processor
	frag     *blockproc.FragmentPacker
	progress *Progress

	optionsBlock bool
}

// New writes the image header area and starts the block processor.
func New(t *tree.Tree, xw *xattrs.Writer, out *OutputFile, cfg Config) (*Builder, error) {
	if _, ok := types.BlockLog2(cfg.BlockSize); !ok {
		return nil, fmt.Errorf("%w: block size %d", types.ErrConfigInvalid, cfg.BlockSize)
	}
	cmp, err := compression.New(cfg.Compressor)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		t:        t,
		xw:       xw,
		out:      out,
		cfg:      cfg,
		cmp:      cmp,
		progress: cfg.Progress,
	}
	if b.progress == nil {
		b.progress = NewProgress(nil)
	}

	// Superblock placeholder; the real one lands here at the end.
	if _, err := out.Write(make([]byte, types.SuperBlockSize)); err != nil {
		return nil, err
	}
	if opts := cmp.Options(); opts != nil {
		b.optionsBlock = true
		var hdr [2]byte
		binary.LittleEndian.PutUint16(hdr[:], uint16(len(opts))|types.MetaBlockUncompressed)
		if _, err := out.Write(hdr[:]); err != nil {
			return nil, err
		}
		if _, err := out.Write(opts); err != nil {
			return nil, err
		}
	}

	b.proc, err = blockproc.New(blockproc.Config{
		Workers:    cfg.Workers,
		Backlog:    cfg.Backlog,
		BlockSize:  cfg.BlockSize,
		Compressor: cfg.Compressor,
	}, out)
	if err != nil {
		return nil, err
	}
	b.frag = blockproc.NewFragmentPacker(b.proc, cfg.BlockSize)
	return b, nil
}

// PackFile reads the content of node from r and runs it through the
// pipeline: full blocks to the processor, the tail to the fragment
// packer. The reader must deliver exactly node.File.Size bytes.
func (b *Builder) PackFile(node *tree.Node, r io.Reader) error {
	size := node.File.Size
	blockSize := uint64(b.cfg.BlockSize)
	fullBlocks := size / blockSize
	tail := size % blockSize

	// Fixed capacity up front: the drain writes completed size words into
	// this slice while later blocks are still being appended, so it must
	// never reallocate.
	node.File.BlockSizes = make([]uint32, 0, fullBlocks)

	for i := uint64(0); i < fullBlocks; i++ {
		buf := make([]byte, blockSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("reading block %d of %q: %w", i, node.Name, err)
		}
		if err := b.proc.SubmitFileBlock(node, buf); err != nil {
			return err
		}
	}
	if fullBlocks > 0 {
		if err := b.proc.EndFile(node); err != nil {
			return err
		}
	}
	if tail > 0 {
		buf := make([]byte, tail)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("reading tail of %q: %w", node.Name, err)
		}
		if err := b.frag.AddTail(node, buf); err != nil {
			return err
		}
	}
	b.progress.File(node.Name, size)
	return nil
}

// PackLocalFiles packs every file node that carries a host source path,
// in tree order.
func (b *Builder) PackLocalFiles() error {
	return b.t.WalkFiles(func(n *tree.Node) error {
		if n.File.Source == "" {
			return nil
		}
		f, err := os.Open(n.File.Source)
		if err != nil {
			return fmt.Errorf("opening input %q: %w", n.File.Source, err)
		}
		defer f.Close()
		return b.PackFile(n, f)
	})
}

// FinishData flushes the last fragment block and drains the processor.
// After it returns, every file node carries its final block layout.
func (b *Builder) FinishData() error {
	if err := b.frag.Flush(); err != nil {
		b.proc.Finish()
		return err
	}
	return b.proc.Finish()
}

// WriteMetadata serializes the tree and writes all tables and the final
// superblock. It must run after FinishData.
func (b *Builder) WriteMetadata() error {
	super := types.SuperBlock{
		Magic:         types.Magic,
		ModTime:       b.cfg.ModTime,
		BlockSize:     b.cfg.BlockSize,
		Compression:   b.cfg.Compressor.ID,
		VersionMajor:  types.VersionMajor,
		VersionMinor:  types.VersionMinor,
		FragmentCount: uint32(len(b.proc.FragmentEntries())),
	}
	super.BlockLog, _ = types.BlockLog2(b.cfg.BlockSize)

	// The directory table is produced while the inode table streams out,
	// so it goes to a scratch file first and is copied into place below.
	tmpPath := filepath.Join(os.TempDir(), "gosqfs-dirtable-"+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating directory table scratch file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	ids := idtable.New()
	im := metadata.NewWriter(b.out, b.cmp)
	dm := metadata.NewWriter(tmp, b.cmp)

	super.InodeTableStart = b.out.Position()
	ser := serializer.New(b.t, im, dm, ids, b.cfg.BlockSize)
	if err := ser.Serialize(); err != nil {
		return err
	}
	if err := im.Flush(); err != nil {
		return err
	}
	if err := dm.Flush(); err != nil {
		return err
	}
	super.InodeCount = uint32(b.t.Count())
	super.RootInodeRef = b.t.Root().InodeRef

	super.DirectoryTableStart = b.out.Position()
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding directory table scratch file: %w", err)
	}
	if err := copyRetry(b.out, tmp); err != nil {
		return fmt.Errorf("copying directory table: %w", err)
	}

	if err := b.writeFragmentTable(&super); err != nil {
		return err
	}
	if err := b.writeExportTable(&super, ser.InodeRefs()); err != nil {
		return err
	}
	if err := b.writeIDTable(&super, ids); err != nil {
		return err
	}
	super.XattrIDTableStart, err = b.xw.WriteTable(b.out, b.cmp)
	if err != nil {
		return err
	}
	if super.IDCount, err = idCount(ids); err != nil {
		return err
	}

	super.BytesUsed = b.out.Position()
	super.Flags = b.flags()
	if err := b.out.WriteAt(super.Marshal(), 0); err != nil {
		return err
	}
	if err := b.out.Pad(b.cfg.DevBlockSize); err != nil {
		return err
	}
	b.progress.Done(super.InodeCount, super.BytesUsed)
	return nil
}

func (b *Builder) flags() uint16 {
	flags := types.FlagDuplicates
	if b.cfg.Exportable {
		flags |= types.FlagExportable
	}
	if b.xw.Count() == 0 {
		flags |= types.FlagNoXattrs
	}
	if len(b.proc.FragmentEntries()) == 0 {
		flags |= types.FlagNoFragments
	}
	if b.optionsBlock {
		flags |= types.FlagCompressorOptions
	}
	return flags
}

func (b *Builder) writeFragmentTable(super *types.SuperBlock) error {
	entries := b.proc.FragmentEntries()
	if len(entries) == 0 {
		super.FragmentTableStart = types.RefTableAbsent
		return nil
	}
	start, err := writeIndexedTable(b.out, b.cmp, func(mw *metadata.Writer) error {
		var buf []byte
		for i := range entries {
			buf = entries[i].Marshal(buf[:0])
			if err := mw.Append(buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	super.FragmentTableStart = start
	return nil
}

func (b *Builder) writeExportTable(super *types.SuperBlock, refs []uint64) error {
	if !b.cfg.Exportable {
		super.ExportTableStart = types.RefTableAbsent
		return nil
	}
	start, err := writeIndexedTable(b.out, b.cmp, func(mw *metadata.Writer) error {
		var buf [8]byte
		for _, ref := range refs {
			binary.LittleEndian.PutUint64(buf[:], ref)
			if err := mw.Append(buf[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	super.ExportTableStart = start
	return nil
}

func (b *Builder) writeIDTable(super *types.SuperBlock, ids *idtable.Table) error {
	start, err := writeIndexedTable(b.out, b.cmp, func(mw *metadata.Writer) error {
		var buf [4]byte
		for _, id := range ids.IDs() {
			binary.LittleEndian.PutUint32(buf[:], id)
			if err := mw.Append(buf[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	super.IDTableStart = start
	return nil
}

func idCount(ids *idtable.Table) (uint16, error) {
	n := ids.Count()
	if n > 0xFFFF {
		return 0, fmt.Errorf("%w: id table holds %d entries", types.ErrOverflow, n)
	}
	return uint16(n), nil
}

// copyRetry copies the scratch stream into the image. A zero-length read
// before EOF is a truncation and fails the build.
func copyRetry(dst *OutputFile, src io.Reader) error {
	buf := make([]byte, types.MetaBlockSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("scratch file read returned no data")
		}
	}
}
