package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

type zstdCompressor struct {
	cfg Config
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstd(cfg Config) (Compressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.Level)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	return &zstdCompressor{cfg: cfg, enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) ID() types.CompressorID { return types.CompZstd }

func (z *zstdCompressor) Compress(src []byte) ([]byte, error) {
	out := z.enc.EncodeAll(src, nil)
	if len(out) >= len(src) {
		return nil, nil
	}
	return out, nil
}

func (z *zstdCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, make([]byte, 0, maxSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	if len(out) > maxSize {
		return nil, fmt.Errorf("%w: output exceeds %d bytes", types.ErrCompression, maxSize)
	}
	return out, nil
}

func (z *zstdCompressor) Options() []byte {
	if z.cfg.Level == defaultZstdLevel {
		return nil
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(z.cfg.Level))
	return buf
}
