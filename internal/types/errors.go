package types

import "errors"

// Error kinds surfaced by the toolkit. Lower layers wrap these with
// context so callers can both classify with errors.Is and report a full
// chain.
var (
	// ErrInvalidFormat indicates on-disk data that violates the format.
	ErrInvalidFormat = errors.New("invalid squashfs format")

	// ErrUnsupportedCompressor indicates an unknown or unavailable codec.
	ErrUnsupportedCompressor = errors.New("unsupported compressor")

	// ErrCompression indicates a codec failure while packing or unpacking.
	ErrCompression = errors.New("compression error")

	// ErrTreeInvariant indicates a filesystem tree rule violation, such as
	// a duplicate child name or a path escaping the root.
	ErrTreeInvariant = errors.New("filesystem tree invariant violated")

	// ErrOverflow indicates a value that does not fit any inode form.
	ErrOverflow = errors.New("field value out of range")

	// ErrCancelled indicates work submitted to a pipeline that has
	// already been stopped.
	ErrCancelled = errors.New("operation cancelled")

	// ErrConfigInvalid indicates a rejected configuration value.
	ErrConfigInvalid = errors.New("invalid configuration")
)
