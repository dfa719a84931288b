// Package conflict checks a candidate assignment against the assignments
// already booked on its date.
package conflict

import (
	"fmt"

	"unimap-shuttle/internal/shuttle"
)

type Reason string

const (
	DriverBusy     Reason = "driver_busy"
	RouteTaken     Reason = "route_taken"
	DuplicateKey   Reason = "duplicate_key"
	BusUnavailable Reason = "bus_in_use"
)

// ConflictError names the entity that blocks the candidate. Route is the
// conflicting assignment's route for DriverBusy, the candidate's otherwise.
type ConflictError struct {
	Reason Reason
	Route  shuttle.Route
	Driver string
	Time   string
	Date   shuttle.Date
	Bus    int
	// Existing is the key of the assignment that caused the conflict.
	Existing string

	// cause lets errors.Is match a store sentinel for lost create races.
	cause error
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case DriverBusy:
		return fmt.Sprintf("Driver %s is already assigned to %s at %s on %s. Please choose a different time or driver.",
			e.Driver, e.Route, e.Time, e.Date)
	case RouteTaken:
		return fmt.Sprintf("Route %s at %s on %s is already assigned to another driver. Please choose a different time or route.",
			e.Route, e.Time, e.Date)
	case DuplicateKey:
		return "Assignment already exists for this Date, Route, Time, and Bus Number. Please choose different values."
	case BusUnavailable:
		return fmt.Sprintf("Bus %d is already in use at %s on %s. Please choose another bus number.",
			e.Bus, e.Time, e.Date)
	}
	return "assignment conflict"
}

func (e *ConflictError) Unwrap() error { return e.cause }

// WithCause returns a copy of e that also matches cause under errors.Is.
func (e *ConflictError) WithCause(cause error) *ConflictError {
	c := *e
	c.cause = cause
	return &c
}

// Validate scans existing once. For each active record a driver clash is
// checked before a route clash, and the first record that clashes decides
// the error.
func Validate(candidate shuttle.Assignment, existing []shuttle.Assignment) error {
	for _, e := range existing {
		if !e.Status.Active() || e.Time != candidate.Time {
			continue
		}
		if e.DriverID == candidate.DriverID {
			return &ConflictError{
				Reason:   DriverBusy,
				Route:    e.Route,
				Driver:   driverLabel(candidate),
				Time:     candidate.Time,
				Date:     candidate.Date,
				Bus:      e.BusNumber,
				Existing: keyOf(e),
			}
		}
		if e.Route == candidate.Route {
			return &ConflictError{
				Reason:   RouteTaken,
				Route:    candidate.Route,
				Driver:   e.DriverID,
				Time:     candidate.Time,
				Date:     candidate.Date,
				Bus:      e.BusNumber,
				Existing: keyOf(e),
			}
		}
	}
	return nil
}

// KeyExists reports an exact key match regardless of status.
func KeyExists(candidate shuttle.Assignment, existing []shuttle.Assignment) bool {
	id := candidate.ID()
	for _, e := range existing {
		if keyOf(e) == id {
			return true
		}
	}
	return false
}

// Duplicate builds the conflict reported for an existing key.
func Duplicate(candidate shuttle.Assignment) *ConflictError {
	return &ConflictError{
		Reason:   DuplicateKey,
		Route:    candidate.Route,
		Driver:   driverLabel(candidate),
		Time:     candidate.Time,
		Date:     candidate.Date,
		Bus:      candidate.BusNumber,
		Existing: candidate.ID(),
	}
}

// BusInUse reports whether another active assignment at the same time holds
// the candidate's bus.
func BusInUse(candidate shuttle.Assignment, existing []shuttle.Assignment) error {
	for _, e := range existing {
		if e.Status.Active() && e.Time == candidate.Time && e.BusNumber == candidate.BusNumber {
			return &ConflictError{
				Reason:   BusUnavailable,
				Route:    e.Route,
				Driver:   e.DriverID,
				Time:     candidate.Time,
				Date:     candidate.Date,
				Bus:      candidate.BusNumber,
				Existing: keyOf(e),
			}
		}
	}
	return nil
}

// AvailableBusNumbers lists, ascending, the fleet numbers not held by an
// active assignment at slot.
func AvailableBusNumbers(existing []shuttle.Assignment, slot string) []int {
	taken := make(map[int]bool)
	for _, e := range existing {
		if e.Status.Active() && e.Time == slot {
			taken[e.BusNumber] = true
		}
	}
	out := make([]int, 0, shuttle.MaxBusNumber)
	for n := shuttle.MinBusNumber; n <= shuttle.MaxBusNumber; n++ {
		if !taken[n] {
			out = append(out, n)
		}
	}
	return out
}

func keyOf(a shuttle.Assignment) string {
	if a.Key != "" {
		return a.Key
	}
	return a.ID()
}

func driverLabel(a shuttle.Assignment) string {
	if a.DriverName != "" {
		return a.DriverName
	}
	return a.DriverID
}
