// Package tracking follows a driver along the stops of an assigned route and
// completes the assignment once every stop has been reached.
package tracking

import (
	"fmt"
	"sync"

	"unimap-shuttle/internal/geo"
	"unimap-shuttle/internal/routes"
	"unimap-shuttle/internal/shuttle"
)

const (
	// StartRadiusMeters is how close the bus must get to the first stop for
	// the run to begin.
	StartRadiusMeters = 70.0
	// StopRadiusMeters is how close the bus must get to each stop to count it
	// as reached.
	StopRadiusMeters = 50.0
)

type State int

const (
	HeadingToStart State = iota
	EnRoute
	Finished
)

func (s State) String() string {
	switch s {
	case HeadingToStart:
		return "heading_to_start"
	case EnRoute:
		return "en_route"
	case Finished:
		return "finished"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Step is the outcome of feeding one position into a Progress.
type Step struct {
	State State `json:"state"`
	// Started is set on the sample that brought the bus to the first stop.
	Started bool `json:"started,omitempty"`
	// Reached names the stop counted on this sample, if any.
	Reached string `json:"reached,omitempty"`
	// Next is the stop the bus is heading to; empty once finished.
	Next string `json:"next,omitempty"`
	// DistanceToNext is meters to Next, or 0 once finished.
	DistanceToNext float64 `json:"distanceToNext"`
	Visited        int     `json:"visited"`
	Total          int     `json:"total"`
}

// Progress is the stop-by-stop state of one run. Safe for concurrent use.
type Progress struct {
	mu    sync.Mutex
	route shuttle.Route
	stops []routes.Stop
	state State
	next  int
}

func NewProgress(route shuttle.Route) (*Progress, error) {
	stops, err := routes.Stops(route)
	if err != nil {
		return nil, err
	}
	return newProgress(route, stops)
}

func newProgress(route shuttle.Route, stops []routes.Stop) (*Progress, error) {
	if len(stops) == 0 {
		return nil, fmt.Errorf("route %s has no stops", route)
	}
	return &Progress{route: route, stops: stops}, nil
}

func (p *Progress) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reset puts the run back to heading for the first stop.
func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = HeadingToStart
	p.next = 0
}

// Observe advances the run with the bus at pt. While heading to the start
// only the first stop matters; after that stops are counted strictly in
// order, one per sample.
func (p *Progress) Observe(pt geo.Point) Step {
	p.mu.Lock()
	defer p.mu.Unlock()

	var st Step
	switch p.state {
	case HeadingToStart:
		if geo.DistanceMeters(pt, p.stops[0].Point()) < StartRadiusMeters {
			p.state = EnRoute
			p.next = 0
			st.Started = true
		}
	case EnRoute:
		target := p.stops[p.next]
		if geo.DistanceMeters(pt, target.Point()) < StopRadiusMeters {
			st.Reached = target.Name
			p.next++
			if p.next == len(p.stops) {
				p.state = Finished
			}
		}
	}

	st.State = p.state
	st.Visited = p.next
	st.Total = len(p.stops)
	if p.state != Finished {
		target := p.stops[p.next]
		st.Next = target.Name
		st.DistanceToNext = geo.DistanceMeters(pt, target.Point())
	}
	return st
}
