// Package cli wires the devcontainer resolution engine to a command line.
// It is a thin adapter: all it does is parse flags, load a devcontainer.json,
// run it through internal/devcontainer, and print the result. Talking to a
// container runtime, an SSH target, or a terminal UI is out of scope here —
// those are external capabilities a caller supplies separately.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/devcontainers/cli-sub000/internal/util"
)

var verbose bool

// NewRootCommand builds the devc root command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "devc",
		Short:         "Resolve and plan devcontainer.json configurations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.SetVerbose(verbose)
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newResolveCommand())
	root.AddCommand(newLockCommand())
	root.AddCommand(newOutdatedCommand())
	root.AddCommand(newUpgradeCommand())

	return root
}

// Execute runs the devc command line and returns a process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		slog.Default().Error(err.Error())
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
