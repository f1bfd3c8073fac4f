// Package metadata implements the chained ≤8 KiB compressed metadata
// blocks that hold inodes, directory listings and the auxiliary tables.
// Positions inside the stream are expressed as references: the offset of
// the containing block within the stream, shifted left by 16, or-ed with
// the byte offset inside the uncompressed block.
package metadata

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Writer produces a stream of metadata blocks. Data appended through it is
// buffered until a full block is collected, then compressed and framed with
// the 16 bit length header.
type Writer struct {
	dst  io.Writer
	cmp  compression.Compressor
	buf  [types.MetaBlockSize]byte
	used int

	// blockOffset is the compressed size of the stream so far, i.e. the
	// offset the next flushed block will start at.
	blockOffset uint64
	blockStarts []uint64
}

// NewWriter creates a metadata writer emitting to dst.
func NewWriter(dst io.Writer, cmp compression.Compressor) *Writer {
	return &Writer{dst: dst, cmp: cmp}
}

// Append copies p into the stream, flushing blocks as they fill up.
func (w *Writer) Append(p []byte) error {
	for len(p) > 0 {
		n := copy(w.buf[w.used:], p)
		w.used += n
		p = p[n:]
		if w.used == types.MetaBlockSize {
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cursor returns the reference of the next byte Append would write: the
// stream offset of the current block and the byte offset within it.
func (w *Writer) Cursor() (block uint64, offset uint16) {
	return w.blockOffset, uint16(w.used)
}

// Ref returns the cursor packed into a 64 bit reference.
func (w *Writer) Ref() uint64 {
	block, offset := w.Cursor()
	return block<<16 | uint64(offset)
}

// Flush compresses and emits the current block, if any data is buffered.
func (w *Writer) Flush() error {
	if w.used == 0 {
		return nil
	}
	payload := w.buf[:w.used]
	packed, err := w.cmp.Compress(payload)
	if err != nil {
		return err
	}
	var header uint16
	if packed == nil {
		header = uint16(w.used) | types.MetaBlockUncompressed
		packed = payload
	} else {
		header = uint16(len(packed))
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], header)
	if _, err := w.dst.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing metadata block header: %w", err)
	}
	if _, err := w.dst.Write(packed); err != nil {
		return fmt.Errorf("writing metadata block: %w", err)
	}
	w.blockStarts = append(w.blockStarts, w.blockOffset)
	w.blockOffset += uint64(2 + len(packed))
	w.used = 0
	return nil
}

// BytesWritten returns the compressed size of the stream emitted so far.
func (w *Writer) BytesWritten() uint64 {
	return w.blockOffset
}

// BlockStarts returns the stream-relative start offsets of all flushed
// blocks, in order. The indirection tables store these, rebased to the
// absolute position the stream was written at.
func (w *Writer) BlockStarts() []uint64 {
	return w.blockStarts
}
