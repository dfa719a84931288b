package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"unimap-shuttle/internal/lifecycle"
	"unimap-shuttle/internal/shuttle"
)

type assignOptions struct {
	*RootOptions
	lifecycle.Draft
}

func newAssignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &assignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a driver and bus to a route slot",
		Long: `Create a pending assignment. The driver name is looked up in the
directory when DATABASE_URL is set; otherwise pass --driver-name.

Example:
  shuttlectl assign --date 2025-01-01 --route A --time "08:00 AM" --driver D1 --bus 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssign(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "service date, dd/MM/yyyy or yyyy-MM-dd")
	cmd.Flags().StringVar(&opts.Route, "route", "", "route (A, B or \"Route A\")")
	cmd.Flags().StringVar(&opts.Time, "time", "", "slot, e.g. \"08:00 AM\"")
	cmd.Flags().StringVar(&opts.DriverID, "driver", "", "driver id number")
	cmd.Flags().StringVar(&opts.DriverName, "driver-name", "", "driver display name")
	cmd.Flags().IntVar(&opts.BusNumber, "bus", 0, fmt.Sprintf("bus number (%d-%d)", shuttle.MinBusNumber, shuttle.MaxBusNumber))

	return cmd
}

func runAssign(opts *assignOptions, cmd *cobra.Command) error {
	s, err := newSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	a, err := s.lc.Create(cmd.Context(), opts.Draft)
	if err != nil {
		return fail(s.out, err)
	}
	s.out.VerboseLog("created %s on %s", a.Key, a.Date)
	return s.out.Success(record(a))
}

// newTransitionCommand builds start, complete and cancel, which share
// "<date> <key>" arguments.
func newTransitionCommand(rootOpts *RootOptions, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <date> <key>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			date, err := shuttle.ParseDate(args[0])
			if err != nil {
				return fail(s.out, usageError("%v", err))
			}
			ctx := cmd.Context()
			var a shuttle.Assignment
			switch name {
			case "start":
				a, err = s.lc.Start(ctx, date, args[1])
			case "complete":
				a, err = s.lc.Complete(ctx, date, args[1])
			case "cancel":
				a, err = s.lc.Cancel(ctx, date, args[1])
			}
			if err != nil {
				return fail(s.out, err)
			}
			return s.out.Success(record(a))
		},
	}
}

func newDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <date> <key>",
		Short: "Delete an assignment, freeing its key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			date, err := shuttle.ParseDate(args[0])
			if err != nil {
				return fail(s.out, usageError("%v", err))
			}
			if err := s.lc.Delete(cmd.Context(), date, args[1]); err != nil {
				return fail(s.out, err)
			}
			return s.out.Success(deleted{Date: date, Key: args[1]})
		},
	}
}
