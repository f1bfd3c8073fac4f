// Package cmd implements the gosquashfs command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global output flags only
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "gosquashfs",
	Short: "SquashFS image construction toolkit",
	Long: `gosquashfs produces and inspects SquashFS images: read-only,
compressed, block-based filesystem images used for firmware, live media
and container layers.

Commands:
  mkfs      Build an image from a directory tree or a pack file
  tar2sqfs  Build an image from a tar archive
  inspect   Print the superblock of an existing image`,
	Version: "0.1.0-dev",
}

// Execute runs the root command. On error it prints the error to stderr
// and exits with status 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")

	rootCmd.AddCommand(
		mkfsCmd,
		tarCmd,
		inspectCmd,
	)
}

// newLogger builds the progress logger according to the output flags.
// All diagnostics go to stderr.
func newLogger() *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	if quiet {
		level = zapcore.ErrorLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
