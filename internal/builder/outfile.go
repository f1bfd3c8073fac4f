// Package builder orchestrates image assembly: the data pass through the
// block processor, tree serialization, the auxiliary tables and the final
// superblock.
package builder

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// OutputFile is the append-only image file. All writes go through it so
// the current offset is always known; a short write of zero bytes is
// treated as fatal truncation rather than retried forever.
type OutputFile struct {
	f      *os.File
	offset uint64
}

// CreateOutput creates the image file. Without force an existing file is
// an error.
func CreateOutput(path string, force bool) (*OutputFile, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating %q: %w", path, err)
	}
	return &OutputFile{f: f}, nil
}

// Position returns the offset the next write lands at.
func (o *OutputFile) Position() uint64 {
	return o.offset
}

// Write appends p to the image.
func (o *OutputFile) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := o.f.Write(p)
		if err != nil {
			return total, fmt.Errorf("writing image: %w", err)
		}
		if n == 0 {
			return total, fmt.Errorf("writing image: truncated write")
		}
		o.offset += uint64(n)
		total += n
		p = p[n:]
	}
	return total, nil
}

// WriteAt rewrites already-emitted bytes, used for the final superblock.
// It does not move the append offset.
func (o *OutputFile) WriteAt(p []byte, off uint64) error {
	if off+uint64(len(p)) > o.offset {
		return fmt.Errorf("%w: WriteAt beyond written region", types.ErrInvalidFormat)
	}
	if _, err := o.f.WriteAt(p, int64(off)); err != nil {
		return fmt.Errorf("rewriting image at %d: %w", off, err)
	}
	return nil
}

// Pad extends the image with zeros to a multiple of the device block
// size. The padding is not part of the filesystem's bytes_used.
func (o *OutputFile) Pad(devBlockSize uint32) error {
	if devBlockSize == 0 {
		return nil
	}
	rem := o.offset % uint64(devBlockSize)
	if rem == 0 {
		return nil
	}
	pad := make([]byte, uint64(devBlockSize)-rem)
	_, err := o.Write(pad)
	return err
}

// Close closes the underlying file.
func (o *OutputFile) Close() error {
	return o.f.Close()
}
