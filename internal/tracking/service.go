package tracking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v4"

	"unimap-shuttle/internal/geo"
	"unimap-shuttle/internal/lifecycle"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/store"
)

// Lifecycle is the part of the lifecycle manager the tracker drives.
type Lifecycle interface {
	Get(ctx context.Context, date shuttle.Date, key string) (shuttle.Assignment, error)
	Start(ctx context.Context, date shuttle.Date, key string) (shuttle.Assignment, error)
	Complete(ctx context.Context, date shuttle.Date, key string) (shuttle.Assignment, error)
}

// Report is the result of one driver position sample.
type Report struct {
	Step
	Route  shuttle.Route  `json:"route"`
	Status shuttle.Status `json:"status"`
}

// Registry holds one Progress per running assignment and forwards driver
// positions to the live position store.
type Registry struct {
	lc        Lifecycle
	positions store.Positions
	runs      *xsync.Map[string, *Progress]
	log       *slog.Logger
}

func NewRegistry(lc Lifecycle, ps store.Positions, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		lc:        lc,
		positions: ps,
		runs:      xsync.NewMap[string, *Progress](),
		log:       log.With("component", "tracking"),
	}
}

func runKey(date shuttle.Date, key string) string { return date.ISO() + "/" + key }

// Progress returns the run for an assignment, if one is being tracked.
func (r *Registry) Progress(date shuttle.Date, key string) (*Progress, bool) {
	return r.runs.Load(runKey(date, key))
}

// Report records a position sample from the driver of an assignment. The
// position is published for the route, the run advances, reaching the first
// stop starts a pending assignment and reaching the last completes it.
func (r *Registry) Report(ctx context.Context, date shuttle.Date, key string, pos shuttle.LivePosition) (Report, error) {
	a, err := r.lc.Get(ctx, date, key)
	if err != nil {
		return Report{}, err
	}
	if a.Status.Terminal() {
		r.runs.Delete(runKey(date, key))
		return Report{Route: a.Route, Status: a.Status}, fmt.Errorf("%w: %s is %s", lifecycle.ErrTerminal, key, a.Status)
	}

	if err := r.positions.PutPosition(ctx, a.Route, pos); err != nil {
		return Report{Route: a.Route, Status: a.Status}, err
	}

	var perr error
	prog, _ := r.runs.LoadOrCompute(runKey(date, key), func() (*Progress, bool) {
		p, err := NewProgress(a.Route)
		if err != nil {
			perr = err
			return nil, true
		}
		return p, false
	})
	if perr != nil {
		return Report{Route: a.Route, Status: a.Status}, perr
	}

	step := prog.Observe(geo.Point{Lat: pos.Latitude, Lon: pos.Longitude})
	rep := Report{Step: step, Route: a.Route, Status: a.Status}
	log := r.log.With("date", date.String(), "key", key)

	if step.Started && a.Status == shuttle.StatusPending {
		started, err := r.lc.Start(ctx, date, key)
		if err != nil {
			// The run only begins once the assignment does, so the next
			// sample at the start stop tries again.
			prog.Reset()
			rep.Step = Step{State: HeadingToStart, Next: step.Next, DistanceToNext: step.DistanceToNext, Total: step.Total}
			log.Warn("bus reached start stop but assignment could not start", "error", err)
			return rep, err
		}
		rep.Status = started.Status
		log.Info("bus reached start stop", "stop", step.Next)
	}
	if step.Reached != "" {
		log.Info("stop reached", "stop", step.Reached, "visited", step.Visited, "total", step.Total)
	}
	if step.State == Finished {
		done, err := r.lc.Complete(ctx, date, key)
		if err != nil {
			return rep, err
		}
		rep.Status = done.Status
		r.runs.Delete(runKey(date, key))
	}
	return rep, nil
}

// Forget drops the run for an assignment, e.g. after a cancel.
func (r *Registry) Forget(date shuttle.Date, key string) { r.runs.Delete(runKey(date, key)) }
