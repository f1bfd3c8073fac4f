package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// gzipCompressor wraps the zlib stream format the SquashFS "gzip" codec
// actually uses.
type gzipCompressor struct {
	cfg Config
	buf bytes.Buffer
}

func newGzip(cfg Config) (Compressor, error) {
	if cfg.Level < 1 || cfg.Level > 9 {
		return nil, fmt.Errorf("%w: gzip level %d", types.ErrConfigInvalid, cfg.Level)
	}
	return &gzipCompressor{cfg: cfg}, nil
}

func (g *gzipCompressor) ID() types.CompressorID { return types.CompGzip }

func (g *gzipCompressor) Compress(src []byte) ([]byte, error) {
	g.buf.Reset()
	w, err := zlib.NewWriterLevel(&g.buf, g.cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if g.buf.Len() >= len(src) {
		return nil, nil
	}
	out := make([]byte, g.buf.Len())
	copy(out, g.buf.Bytes())
	return out, nil
}

func (g *gzipCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, int64(maxSize)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	return out, nil
}

func (g *gzipCompressor) Options() []byte {
	if g.cfg.Level == defaultGzipLevel && g.cfg.WindowSize == defaultGzipWindow {
		return nil
	}
	buf := make([]byte, 8)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], uint32(g.cfg.Level))
	le.PutUint16(buf[4:6], uint16(g.cfg.WindowSize))
	le.PutUint16(buf[6:8], 0)
	return buf
}
