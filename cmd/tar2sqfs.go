package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-squashfs/internal/builder"
	"github.com/deploymenttheory/go-squashfs/internal/tarball"
	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
	"github.com/deploymenttheory/go-squashfs/internal/xattrs"
)

var (
	tarInput        string
	tarCompressor   string
	tarCompExtra    string
	tarBlockSize    uint32
	tarDevBlockSize uint32
	tarNumJobs      int
	tarBacklog      int
	tarDefaults     string
	tarKeepTime     bool
	tarKeepXattr    bool
	tarExportable   bool
	tarForce        bool
)

var tarCmd = &cobra.Command{
	Use:   "tar2sqfs <squashfs-file>",
	Short: "Build a SquashFS image from a tar archive",
	Long: `tar2sqfs reads a tar archive and converts it into a SquashFS
image. The archive is read from standard input unless --input names a
file.

Hard links in the archive are stored as symbolic links to their target;
the image format writer does not support hard links.`,
	Args: cobra.ExactArgs(1),
	RunE: runTar,
}

func init() {
	f := tarCmd.Flags()
	f.StringVarP(&tarInput, "input", "i", "", "tar archive to read (default: stdin)")
	f.StringVarP(&tarCompressor, "compressor", "c", "gzip", "compressor to use (gzip, lzma, lzo, xz, lz4, zstd)")
	f.StringVarP(&tarCompExtra, "comp-extra", "X", "", "comma separated list of extra compressor options")
	f.Uint32VarP(&tarBlockSize, "block-size", "b", types.DefaultBlockSize, "data block size")
	f.Uint32VarP(&tarDevBlockSize, "dev-block-size", "B", types.DefaultDevBlockSize, "device block size to pad the image to")
	f.IntVarP(&tarNumJobs, "num-jobs", "j", 0, "number of compressor jobs (default: CPU count)")
	f.IntVarP(&tarBacklog, "queue-backlog", "Q", 0, "maximum blocks in flight (default: 10 times the job count)")
	f.StringVarP(&tarDefaults, "defaults", "d", "", "defaults for implicit directories (uid=,gid=,mode=,mtime=)")
	f.BoolVarP(&tarKeepTime, "keep-time", "k", false, "use the archive timestamps")
	f.BoolVarP(&tarKeepXattr, "keep-xattr", "x", false, "pack PAX extended attributes")
	f.BoolVarP(&tarExportable, "exportable", "e", false, "generate an export table for NFS support")
	f.BoolVarP(&tarForce, "force", "f", false, "overwrite the output file if it exists")
}

func runTar(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync()

	defaults, err := loadDefaults(tarDefaults)
	if err != nil {
		return err
	}
	compCfg, err := compressorConfig(tarCompressor, tarCompExtra, tarBlockSize)
	if err != nil {
		return err
	}

	var input io.Reader = os.Stdin
	if tarInput != "" {
		f, err := os.Open(tarInput)
		if err != nil {
			return err
		}
		defer f.Close()
		input = f
	}

	t := tree.New(defaults)
	xw := xattrs.NewWriter()

	out, err := builder.CreateOutput(args[0], tarForce)
	if err != nil {
		return err
	}
	defer out.Close()

	bld, err := builder.New(t, xw, out, builder.Config{
		BlockSize:    tarBlockSize,
		DevBlockSize: tarDevBlockSize,
		Workers:      tarNumJobs,
		Backlog:      tarBacklog,
		Compressor:   compCfg,
		Exportable:   tarExportable,
		ModTime:      defaults.MTime,
		Progress:     builder.NewProgress(log),
	})
	if err != nil {
		return err
	}
	opts := tarball.Options{KeepTime: tarKeepTime, KeepXattr: tarKeepXattr}
	if err := tarball.Ingest(input, t, bld, xw, opts); err != nil {
		bld.FinishData()
		return err
	}
	if err := bld.FinishData(); err != nil {
		return err
	}
	return bld.WriteMetadata()
}
