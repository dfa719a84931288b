// Package cli implements shuttlectl, the operator command line for the
// shuttle assignment store.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Backend, when set, is used instead of connecting per the environment.
	Backend *Backend
	// Now overrides the wall clock.
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for shuttlectl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shuttlectl",
		Short: "Manage campus shuttle route assignments",
		Long: `shuttlectl creates and manages shuttle route assignments and can replay
buses along their routes. It talks to the same store as shuttled, configured
through NATS_URL, NATS_KV_BUCKET, STORE and DATABASE_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newAssignCommand(opts))
	cmd.AddCommand(newTransitionCommand(opts, "start", "Start an assignment inside its window"))
	cmd.AddCommand(newTransitionCommand(opts, "complete", "Mark an assignment completed"))
	cmd.AddCommand(newTransitionCommand(opts, "cancel", "Cancel an assignment"))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newScheduleCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newBusesCommand(opts))
	cmd.AddCommand(newSlotsCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newSimulateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
