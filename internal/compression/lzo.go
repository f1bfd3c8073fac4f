package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rasky/go-lzo"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// lzoAlgorithm1X is the on-disk enumerator for the lzo1x_1 algorithm this
// implementation provides. The format default is lzo1x_999, so an options
// block is always emitted.
const lzoAlgorithm1X = 0

type lzoCompressor struct{}

func newLzo(Config) (Compressor, error) {
	return &lzoCompressor{}, nil
}

func (l *lzoCompressor) ID() types.CompressorID { return types.CompLzo }

func (l *lzoCompressor) Compress(src []byte) ([]byte, error) {
	out := lzo.Compress1X(src)
	if len(out) >= len(src) {
		return nil, nil
	}
	return out, nil
}

func (l *lzoCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	out, err := lzo.Decompress1X(bytes.NewReader(src), len(src), maxSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCompression, err)
	}
	return out, nil
}

func (l *lzoCompressor) Options() []byte {
	buf := make([]byte, 8)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], lzoAlgorithm1X)
	le.PutUint32(buf[4:8], 0)
	return buf
}
