package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-squashfs/internal/types"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <squashfs-file>",
	Short: "Print the superblock of an existing image",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, types.SuperBlockSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("reading superblock: %w", err)
	}
	super, err := types.UnmarshalSuperBlock(buf)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "SquashFS %d.%d image\n", super.VersionMajor, super.VersionMinor)
	fmt.Fprintf(out, "  compression:     %s\n", super.Compression)
	fmt.Fprintf(out, "  block size:      %d\n", super.BlockSize)
	fmt.Fprintf(out, "  inodes:          %d\n", super.InodeCount)
	fmt.Fprintf(out, "  fragments:       %d\n", super.FragmentCount)
	fmt.Fprintf(out, "  ids:             %d\n", super.IDCount)
	fmt.Fprintf(out, "  bytes used:      %d\n", super.BytesUsed)
	fmt.Fprintf(out, "  root inode ref:  %#x\n", super.RootInodeRef)
	fmt.Fprintf(out, "  flags:           %s\n", flagNames(super.Flags))
	fmt.Fprintf(out, "  inode table:     %#x\n", super.InodeTableStart)
	fmt.Fprintf(out, "  directory table: %#x\n", super.DirectoryTableStart)
	if super.FragmentTableStart != types.RefTableAbsent {
		fmt.Fprintf(out, "  fragment table:  %#x\n", super.FragmentTableStart)
	}
	if super.ExportTableStart != types.RefTableAbsent {
		fmt.Fprintf(out, "  export table:    %#x\n", super.ExportTableStart)
	}
	fmt.Fprintf(out, "  id table:        %#x\n", super.IDTableStart)
	if super.XattrIDTableStart != types.RefTableAbsent {
		fmt.Fprintf(out, "  xattr table:     %#x\n", super.XattrIDTableStart)
	}
	return nil
}

func flagNames(flags uint16) string {
	names := ""
	add := func(bit uint16, name string) {
		if flags&bit != 0 {
			if names != "" {
				names += ","
			}
			names += name
		}
	}
	add(types.FlagUncompressedInodes, "uncompressed-inodes")
	add(types.FlagUncompressedData, "uncompressed-data")
	add(types.FlagUncompressedFragments, "uncompressed-fragments")
	add(types.FlagNoFragments, "no-fragments")
	add(types.FlagAlwaysFragments, "always-fragments")
	add(types.FlagDuplicates, "duplicates")
	add(types.FlagExportable, "exportable")
	add(types.FlagUncompressedXattrs, "uncompressed-xattrs")
	add(types.FlagNoXattrs, "no-xattrs")
	add(types.FlagCompressorOptions, "compressor-options")
	add(types.FlagUncompressedIDs, "uncompressed-ids")
	if names == "" {
		return "none"
	}
	return names
}
