// Package compression provides a uniform interface over the codecs a
// SquashFS image may use, together with command line option parsing and
// the on-disk compressor options block.
package compression

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

// Compressor compresses and decompresses individual blocks. Instances are
// not safe for concurrent use; the block processor creates one per worker
// through New.
type Compressor interface {
	// ID returns the codec identifier stored in the superblock.
	ID() types.CompressorID

	// Compress returns the compressed form of src, or nil if the result
	// would not be smaller than the input.
	Compress(src []byte) ([]byte, error)

	// Decompress expands src into at most maxSize bytes.
	Decompress(src []byte, maxSize int) ([]byte, error)

	// Options returns the payload of the compressor options block, or nil
	// if the configuration matches the format defaults and no block is
	// needed.
	Options() []byte
}

// Config selects a codec and its tunables. DefaultConfig fills in the
// default tunables; apart from a zero xz DictSize, which means the block
// size, zero values are used as given (New rejects a zero gzip level).
type Config struct {
	ID        types.CompressorID
	BlockSize uint32

	// Level is the compression level for gzip and zstd.
	Level int
	// WindowSize is the gzip window size exponent (8-15).
	WindowSize int
	// DictSize is the xz LZMA dictionary size in bytes.
	DictSize uint32
	// HighCompression selects the lz4 HC mode.
	HighCompression bool
}

const (
	defaultGzipLevel  = 9
	defaultGzipWindow = 15
	defaultZstdLevel  = 15
)

// DefaultConfig returns the default configuration for a codec.
func DefaultConfig(id types.CompressorID, blockSize uint32) Config {
	cfg := Config{ID: id, BlockSize: blockSize}
	switch id {
	case types.CompGzip:
		cfg.Level = defaultGzipLevel
		cfg.WindowSize = defaultGzipWindow
	case types.CompZstd:
		cfg.Level = defaultZstdLevel
	case types.CompXz:
		cfg.DictSize = blockSize
	}
	return cfg
}

// ParseExtra applies a comma separated key=value option string of the kind
// passed to --comp-extra.
func ParseExtra(cfg *Config, extra string) error {
	if extra == "" {
		return nil
	}
	for _, opt := range strings.Split(extra, ",") {
		key, value, _ := strings.Cut(opt, "=")
		switch {
		case key == "level" && (cfg.ID == types.CompGzip || cfg.ID == types.CompZstd):
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: level %q", types.ErrConfigInvalid, value)
			}
			cfg.Level = n
		case key == "window" && cfg.ID == types.CompGzip:
			n, err := strconv.Atoi(value)
			if err != nil || n < 8 || n > 15 {
				return fmt.Errorf("%w: window size %q", types.ErrConfigInvalid, value)
			}
			cfg.WindowSize = n
		case key == "dictsize" && cfg.ID == types.CompXz:
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil || n == 0 {
				return fmt.Errorf("%w: dictionary size %q", types.ErrConfigInvalid, value)
			}
			cfg.DictSize = uint32(n)
		case key == "hc" && cfg.ID == types.CompLz4:
			cfg.HighCompression = true
		default:
			return fmt.Errorf("%w: option %q not supported by %s",
				types.ErrConfigInvalid, opt, cfg.ID)
		}
	}
	if cfg.ID == types.CompGzip && (cfg.Level < 1 || cfg.Level > 9) {
		return fmt.Errorf("%w: gzip level %d out of range", types.ErrConfigInvalid, cfg.Level)
	}
	if cfg.ID == types.CompZstd && (cfg.Level < 1 || cfg.Level > 22) {
		return fmt.Errorf("%w: zstd level %d out of range", types.ErrConfigInvalid, cfg.Level)
	}
	return nil
}

// New creates a compressor for the given configuration. Call it once per
// worker; the returned instances are independent.
func New(cfg Config) (Compressor, error) {
	switch cfg.ID {
	case types.CompGzip:
		return newGzip(cfg)
	case types.CompLzma:
		return newLzma(cfg)
	case types.CompLzo:
		return newLzo(cfg)
	case types.CompXz:
		return newXz(cfg)
	case types.CompLz4:
		return newLz4(cfg)
	case types.CompZstd:
		return newZstd(cfg)
	}
	return nil, fmt.Errorf("%w: id %d", types.ErrUnsupportedCompressor, cfg.ID)
}
