package cli

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/sim"
	"unimap-shuttle/internal/tracking"
)

type simulateOptions struct {
	*RootOptions
	Route      string
	SpeedKmh   float64
	Interval   time.Duration
	Multiplier float64
	Dwell      time.Duration
	Passengers int
	Date       string
	Key        string
}

type simulateResult struct {
	Route   shuttle.Route  `json:"route"`
	Samples int64          `json:"samples"`
	Key     string         `json:"key,omitempty"`
	Status  shuttle.Status `json:"status,omitempty"`
}

func (r simulateResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "Replayed %s: %d samples\n", r.Route, r.Samples)
	if r.Key != "" {
		fmt.Fprintf(w, "Assignment %s is %s\n", r.Key, r.Status)
	}
}

func newSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &simulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a bus along a route, writing live positions",
		Long: `Replay a bus from the first to the last stop of a route. Positions are
written as the route's live location. With --key they are reported as the
assignment's driver, so reaching the first stop starts it and reaching the
last stop completes it.

Example:
  shuttlectl simulate --route A --speed 30 --multiplier 10
  shuttlectl simulate --route A --date 2025-01-01 --key RouteA-0800AM-5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Route, "route", "", "route to drive (required)")
	cmd.Flags().Float64Var(&opts.SpeedKmh, "speed", sim.DefaultSpeedKmh, "cruising speed in km/h")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 2*time.Second, "time between samples")
	cmd.Flags().Float64Var(&opts.Multiplier, "multiplier", 1, "replay speed-up factor")
	cmd.Flags().DurationVar(&opts.Dwell, "dwell", 0, "time spent at each intermediate stop")
	cmd.Flags().IntVar(&opts.Passengers, "passengers", 0, "passenger count to report")
	cmd.Flags().StringVar(&opts.Date, "date", "", "assignment date, with --key (default today)")
	cmd.Flags().StringVar(&opts.Key, "key", "", "assignment to report positions for")
	_ = cmd.MarkFlagRequired("route")

	return cmd
}

func runSimulate(opts *simulateOptions, cmd *cobra.Command) error {
	s, err := newSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	route, err := shuttle.ParseRoute(opts.Route)
	if err != nil {
		return fail(s.out, usageError("%v", err))
	}
	if opts.Interval <= 0 {
		return fail(s.out, usageError("--interval must be positive"))
	}
	ctx := cmd.Context()
	res := simulateResult{Route: route, Key: opts.Key}

	var samples atomic.Int64
	var sink sim.Sink = s.backend.Store
	var date shuttle.Date
	if opts.Key != "" {
		if date, err = s.dateFlag(opts.Date); err != nil {
			return fail(s.out, err)
		}
		a, err := s.lc.Get(ctx, date, opts.Key)
		if err != nil {
			return fail(s.out, err)
		}
		if a.Route != route {
			return fail(s.out, usageError("assignment %s runs on %s, not %s", opts.Key, a.Route, route))
		}
		reg := tracking.NewRegistry(s.lc, s.backend.Store, s.log)
		sink = sim.SinkFunc(func(ctx context.Context, _ shuttle.Route, p shuttle.LivePosition) error {
			rep, err := reg.Report(ctx, date, opts.Key, p)
			if err == nil {
				s.out.VerboseLog("%s: %s, next %s in %.0fm", rep.Status, rep.State, rep.Next, rep.DistanceToNext)
			}
			return err
		})
	}
	counted := sim.SinkFunc(func(ctx context.Context, r shuttle.Route, p shuttle.LivePosition) error {
		samples.Add(1)
		return sink.PutPosition(ctx, r, p)
	})

	m := sim.NewManager(counted, opts.Interval, opts.Multiplier, s.log)
	m.Start(ctx, sim.Run{Route: route, SpeedKmh: opts.SpeedKmh, Dwell: opts.Dwell, Passengers: opts.Passengers})
	m.Wait()

	res.Samples = samples.Load()
	if opts.Key != "" {
		if a, err := s.lc.Get(context.WithoutCancel(ctx), date, opts.Key); err == nil {
			res.Status = a.Status
		}
	}
	if err := ctx.Err(); err != nil {
		_ = s.out.Success(res)
		return &ExitError{Code: ExitFailure, Message: "simulation interrupted", Err: err, reported: true}
	}
	return s.out.Success(res)
}
