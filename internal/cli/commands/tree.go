package commands

import (
	"github.com/spf13/cobra"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
)

// NewTreeCommand creates the tree command. It accepts the same flags as build
// but only prints the bundle tree.
func NewTreeCommand() *cobra.Command {
	f := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "tree [entries...]",
		Short: "Print the bundle tree as JSON without writing output",
		Example: `  # Show how src/index.js would be split
  bundler tree src/index.js`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()

			opts, err := f.options(cmd, args)
			if err != nil {
				return reportFailure(out, errOut, f, err, cerrors.PhaseConfig)
			}
			defer func() { _ = opts.Logger.Sync() }()
			opts.DryRun = true

			result, err := executeBuild(cmd.Context(), opts)
			if err != nil {
				return reportFailure(out, errOut, f, err, cerrors.PhasePackage)
			}
			return writeJSON(out, result.Tree)
		},
	}
	f.register(cmd)
	return cmd
}
