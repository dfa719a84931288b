package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"unimap-shuttle/internal/shuttle"
)

// dateFlag parses --date, defaulting to today in the backend's zone.
func (s *session) dateFlag(raw string) (shuttle.Date, error) {
	if raw == "" {
		return s.lc.Today(), nil
	}
	d, err := shuttle.ParseDate(raw)
	if err != nil {
		return shuttle.Date{}, usageError("%v", err)
	}
	return d, nil
}

func newListCommand(rootOpts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the assignments of a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			d, err := s.dateFlag(date)
			if err != nil {
				return fail(s.out, err)
			}
			as, err := s.lc.ListForDate(cmd.Context(), d)
			if err != nil {
				return fail(s.out, err)
			}
			return s.out.Success(newTable("Assignments on "+d.String(), "No assignments on "+d.String(), as))
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "service date (default today)")
	return cmd
}

func newScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <driverId>",
		Short: "Show a driver's open assignments and whether they can start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			sched, err := s.lc.DriverSchedule(cmd.Context(), args[0])
			if err != nil {
				return fail(s.out, err)
			}
			return s.out.Success(scheduleTable("Schedule for "+args[0], "Nothing scheduled for "+args[0], sched))
		},
	}
}

func newHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <driverId>",
		Short: "Show every assignment a driver has held",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			as, err := s.lc.DriverHistory(cmd.Context(), args[0])
			if err != nil {
				return fail(s.out, err)
			}
			return s.out.Success(newTable("History for "+args[0], "No history for "+args[0], as))
		},
	}
}

func newBusesCommand(rootOpts *RootOptions) *cobra.Command {
	var date, slot string
	cmd := &cobra.Command{
		Use:   "buses",
		Short: "List bus numbers still free at a slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			if slot == "" {
				return fail(s.out, usageError("--time is required"))
			}
			d, err := s.dateFlag(date)
			if err != nil {
				return fail(s.out, err)
			}
			buses, err := s.lc.AvailableBusNumbers(cmd.Context(), d, slot)
			if err != nil {
				return fail(s.out, err)
			}
			h, m, _ := shuttle.ParseSlot(slot)
			return s.out.Success(busList{Date: d, Time: shuttle.FormatSlot(h, m), Buses: buses})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "service date (default today)")
	cmd.Flags().StringVar(&slot, "time", "", "slot, e.g. \"08:00 AM\"")
	return cmd
}

func newSlotsCommand(rootOpts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List operating slots that can still be booked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			d, err := s.dateFlag(date)
			if err != nil {
				return fail(s.out, err)
			}
			slots, err := s.lc.AvailableTimeSlots(cmd.Context(), d)
			if err != nil {
				return fail(s.out, err)
			}
			if slots == nil {
				slots = []string{}
			}
			return s.out.Success(slotList{Date: d, Slots: slots})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "service date (default today)")
	return cmd
}

func newSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending assignments whose start window has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			rep, err := s.lc.ExpirySweep(cmd.Context(), s.lc.Now())
			if err != nil {
				return fail(s.out, err)
			}
			if rep.Failed > 0 {
				_ = s.out.Success(sweepResult(rep))
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d assignments could not be expired", rep.Failed), reported: true}
			}
			return s.out.Success(sweepResult(rep))
		},
	}
}
