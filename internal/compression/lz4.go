package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

const (
	lz4VersionLegacy = 1
	lz4FlagHC        = 1
)

type lz4Compressor struct {
	cfg Config
	c   lz4.Compressor
	hc  lz4.CompressorHC
}

func newLz4(cfg Config) (Compressor, error) {
	return &lz4Compressor{cfg: cfg}, nil
}

func (l *lz4Compressor) ID() types.CompressorID { return types.CompLz4 }

func (l *lz4Compressor) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, len(src))
	var (
		n   int
		err error
	)
	if l.cfg.HighCompression {
		n, err = l.hc.CompressBlock(src, dst)
	} else {
		n, err = l.c.CompressBlock(src, dst)
	}
	if err != nil {
		// The block API reports an error when the output buffer is too
		// small, which here just means the data is incompressible.
		return nil, nil
	}
	if n == 0 || n >= len(src) {
		return nil, nil
	}
	return dst[:n], nil
}

func (l *lz4Compressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	dst := make([]byte, maxSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	return dst[:n], nil
}

// Options always returns a block: the lz4 codec requires the version and
// flag words to be present in the image.
func (l *lz4Compressor) Options() []byte {
	buf := make([]byte, 8)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], lz4VersionLegacy)
	var flags uint32
	if l.cfg.HighCompression {
		flags |= lz4FlagHC
	}
	le.PutUint32(buf[4:8], flags)
	return buf
}
