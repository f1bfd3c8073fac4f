package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

type xzCompressor struct {
	cfg Config
}

func newXz(cfg Config) (Compressor, error) {
	if cfg.DictSize == 0 {
		cfg.DictSize = cfg.BlockSize
	}
	return &xzCompressor{cfg: cfg}, nil
}

func (x *xzCompressor) ID() types.CompressorID { return types.CompXz }

func (x *xzCompressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	wc := xz.WriterConfig{DictCap: int(x.cfg.DictSize)}
	w, err := wc.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if buf.Len() >= len(src) {
		return nil, nil
	}
	return buf.Bytes(), nil
}

func (x *xzCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	out, err := io.ReadAll(io.LimitReader(r, int64(maxSize)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	return out, nil
}

func (x *xzCompressor) Options() []byte {
	if x.cfg.DictSize == x.cfg.BlockSize {
		return nil
	}
	buf := make([]byte, 8)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], x.cfg.DictSize)
	le.PutUint32(buf[4:8], 0)
	return buf
}

// lzmaCompressor produces LZMA "alone" streams, the legacy codec id 2.
type lzmaCompressor struct{}

func newLzma(Config) (Compressor, error) {
	return &lzmaCompressor{}, nil
}

func (l *lzmaCompressor) ID() types.CompressorID { return types.CompLzma }

func (l *lzmaCompressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if buf.Len() >= len(src) {
		return nil, nil
	}
	return buf.Bytes(), nil
}

func (l *lzmaCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	out, err := io.ReadAll(io.LimitReader(r, int64(maxSize)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	return out, nil
}

func (l *lzmaCompressor) Options() []byte { return nil }
