package builder

import "go.uber.org/zap"

// Progress is the build-wide progress reporter. It is constructed by the
// caller and passed into the builder rather than being process global.
type Progress struct {
	log   *zap.Logger
	files uint64
	bytes uint64
}

// NewProgress creates a progress reporter emitting through log.
func NewProgress(log *zap.Logger) *Progress {
	if log == nil {
		log = zap.NewNop()
	}
	return &Progress{log: log}
}

// File records one packed input file.
func (p *Progress) File(path string, size uint64) {
	p.files++
	p.bytes += size
	p.log.Debug("packed file", zap.String("path", path), zap.Uint64("size", size))
}

// Done reports the final image statistics.
func (p *Progress) Done(inodes uint32, bytesUsed uint64) {
	p.log.Info("image complete",
		zap.Uint64("input_files", p.files),
		zap.Uint64("input_bytes", p.bytes),
		zap.Uint32("inodes", inodes),
		zap.Uint64("bytes_used", bytesUsed))
}
