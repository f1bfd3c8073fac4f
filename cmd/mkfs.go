package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-squashfs/internal/builder"
	"github.com/deploymenttheory/go-squashfs/internal/compression"
	"github.com/deploymenttheory/go-squashfs/internal/packfile"
	"github.com/deploymenttheory/go-squashfs/internal/scanner"
	"github.com/deploymenttheory/go-squashfs/internal/tree"
	"github.com/deploymenttheory/go-squashfs/internal/types"
	"github.com/deploymenttheory/go-squashfs/internal/xattrs"
)

var (
	mkfsPackFile      string
	mkfsPackDir       string
	mkfsCompressor    string
	mkfsCompExtra     string
	mkfsBlockSize     uint32
	mkfsDevBlockSize  uint32
	mkfsNumJobs       int
	mkfsQueueBacklog  int
	mkfsDefaults      string
	mkfsKeepTime      bool
	mkfsKeepXattr     bool
	mkfsOneFileSystem bool
	mkfsExportable    bool
	mkfsForce         bool
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs <squashfs-file>",
	Short: "Build a SquashFS image from a directory or a pack file",
	Long: `mkfs packs an input description into a SquashFS image.

The input is either a directory (--pack-dir), whose contents become the
root of the filesystem, or a gen_init_cpio style pack file (--pack-file).
If both are given, the pack file is used and input file locations are
resolved relative to the pack directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runMkfs,
}

func init() {
	f := mkfsCmd.Flags()
	f.StringVarP(&mkfsPackFile, "pack-file", "F", "", "gen_init_cpio style description file")
	f.StringVarP(&mkfsPackDir, "pack-dir", "D", "", "directory to pack, or base directory for --pack-file")
	f.StringVarP(&mkfsCompressor, "compressor", "c", "gzip", "compressor to use (gzip, lzma, lzo, xz, lz4, zstd)")
	f.StringVarP(&mkfsCompExtra, "comp-extra", "X", "", "comma separated list of extra compressor options")
	f.Uint32VarP(&mkfsBlockSize, "block-size", "b", types.DefaultBlockSize, "data block size")
	f.Uint32VarP(&mkfsDevBlockSize, "dev-block-size", "B", types.DefaultDevBlockSize, "device block size to pad the image to")
	f.IntVarP(&mkfsNumJobs, "num-jobs", "j", 0, "number of compressor jobs (default: CPU count)")
	f.IntVarP(&mkfsQueueBacklog, "queue-backlog", "Q", 0, "maximum blocks in flight (default: 10 times the job count)")
	f.StringVarP(&mkfsDefaults, "defaults", "d", "", "defaults for implicit directories (uid=,gid=,mode=,mtime=)")
	f.BoolVarP(&mkfsKeepTime, "keep-time", "k", false, "use input file timestamps (--pack-dir only)")
	f.BoolVarP(&mkfsKeepXattr, "keep-xattr", "x", false, "pack extended attributes (--pack-dir only)")
	f.BoolVarP(&mkfsOneFileSystem, "one-file-system", "o", false, "do not cross mount points (--pack-dir only)")
	f.BoolVarP(&mkfsExportable, "exportable", "e", false, "generate an export table for NFS support")
	f.BoolVarP(&mkfsForce, "force", "f", false, "overwrite the output file if it exists")
}

func runMkfs(cmd *cobra.Command, args []string) error {
	if mkfsPackFile == "" && mkfsPackDir == "" {
		return fmt.Errorf("%w: one of --pack-file or --pack-dir is required", types.ErrConfigInvalid)
	}

	log := newLogger()
	defer log.Sync()

	defaults, err := loadDefaults(mkfsDefaults)
	if err != nil {
		return err
	}
	compCfg, err := compressorConfig(mkfsCompressor, mkfsCompExtra, mkfsBlockSize)
	if err != nil {
		return err
	}

	t := tree.New(defaults)
	xw := xattrs.NewWriter()

	if mkfsPackFile != "" {
		if err := packfile.ParseFile(mkfsPackFile, mkfsPackDir, t); err != nil {
			return err
		}
	} else {
		opts := scanner.Options{
			KeepTime:      mkfsKeepTime,
			KeepXattr:     mkfsKeepXattr,
			OneFileSystem: mkfsOneFileSystem,
		}
		if err := scanner.Scan(t, mkfsPackDir, opts, xw); err != nil {
			return err
		}
	}

	out, err := builder.CreateOutput(args[0], mkfsForce)
	if err != nil {
		return err
	}
	defer out.Close()

	bld, err := builder.New(t, xw, out, builder.Config{
		BlockSize:    mkfsBlockSize,
		DevBlockSize: mkfsDevBlockSize,
		Workers:      mkfsNumJobs,
		Backlog:      mkfsQueueBacklog,
		Compressor:   compCfg,
		Exportable:   mkfsExportable,
		ModTime:      defaults.MTime,
		Progress:     builder.NewProgress(log),
	})
	if err != nil {
		return err
	}
	if err := bld.PackLocalFiles(); err != nil {
		bld.FinishData()
		return err
	}
	if err := bld.FinishData(); err != nil {
		return err
	}
	return bld.WriteMetadata()
}

func compressorConfig(name, extra string, blockSize uint32) (compression.Config, error) {
	id, ok := types.CompressorIDByName(name)
	if !ok {
		return compression.Config{}, fmt.Errorf("%w: %q", types.ErrUnsupportedCompressor, name)
	}
	cfg := compression.DefaultConfig(id, blockSize)
	if err := compression.ParseExtra(&cfg, extra); err != nil {
		return compression.Config{}, err
	}
	return cfg, nil
}
