// Command qsil loads a QSIL image, interprets it to completion or fatal
// error, and writes the image back.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazelqsil/qsil/pkg/image"
	"github.com/hazelqsil/qsil/pkg/interp"
	"github.com/hazelqsil/qsil/pkg/runner"
	"github.com/hazelqsil/qsil/pkg/vmerr"
)

// defaultImagePath mirrors the reference interpreter's
// f'qsil{imageFormat}.image' default, pinned to this runtime's format
// version.
const formatVersion = 1

func defaultImagePath() string {
	return fmt.Sprintf("qsil%d.image", formatVersion)
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qsil: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := newRootCmd(log).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qsil: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd(log *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "qsil [image-path]",
		Short:         "Run a QSIL object-memory image",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(args, log)
		},
	}
	root.AddCommand(newRunCmd(log), newInspectCmd(log), newVersionCmd())
	return root
}

func newRunCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run [image-path]",
		Short: "Interpret an image to completion and write it back",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(args, log)
		},
	}
}

func runRun(args []string, log *zap.Logger) error {
	path := defaultImagePath()
	if len(args) == 1 {
		path = args[0]
	}
	return runner.Run(path, log)
}

func newInspectCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [image-path]",
		Short: "Print the active context chain without executing anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultImagePath()
			if len(args) == 1 {
				path = args[0]
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			mem, activeID, err := image.Load(f)
			if err != nil {
				return err
			}
			it, err := interp.New(mem, activeID, log)
			if err != nil {
				return err
			}
			return it.DumpContext(cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the image format version this runtime reads and writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "qsil image format v%d\n", formatVersion)
			return nil
		},
	}
}

func exitCodeFor(err error) int {
	if _, ok := vmerr.As(err); ok {
		return 2
	}
	return 1
}
