// Package window decides whether an assignment can be started, is still
// upcoming, or has been missed, relative to its scheduled start.
package window

import "time"

const (
	DefaultLead  = 20 * time.Minute
	DefaultGrace = 5 * time.Minute
)

// Policy is the activation window [at-Lead, at+Grace) around a scheduled
// start. The start is inclusive and the end exclusive.
type Policy struct {
	Lead  time.Duration
	Grace time.Duration
}

func Default() Policy { return Policy{Lead: DefaultLead, Grace: DefaultGrace} }

// InActivationWindow reports whether a driver may start the route now.
func (p Policy) InActivationWindow(at, now time.Time) bool {
	return !now.Before(at.Add(-p.Lead)) && now.Before(at.Add(p.Grace))
}

// IsExpired reports whether a pending assignment has been missed.
func (p Policy) IsExpired(at, now time.Time) bool {
	return !now.Before(at.Add(p.Grace))
}

// IsFuture reports whether the window has not opened yet.
func (p Policy) IsFuture(at, now time.Time) bool {
	return now.Before(at.Add(-p.Lead))
}

type Phase int

const (
	Upcoming Phase = iota
	Startable
	Missed
)

func (ph Phase) String() string {
	switch ph {
	case Upcoming:
		return "upcoming"
	case Startable:
		return "startable"
	case Missed:
		return "missed"
	}
	return "unknown"
}

// Classify places now in exactly one phase relative to at.
func (p Policy) Classify(at, now time.Time) Phase {
	switch {
	case p.IsFuture(at, now):
		return Upcoming
	case p.InActivationWindow(at, now):
		return Startable
	default:
		return Missed
	}
}
