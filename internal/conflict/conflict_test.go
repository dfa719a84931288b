package conflict

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unimap-shuttle/internal/shuttle"
)

var day = shuttle.Date{Year: 2025, Month: time.January, Day: 1}

func booking(route shuttle.Route, slot, driver string, bus int, st shuttle.Status) shuttle.Assignment {
	a := shuttle.Assignment{Date: day, Route: route, Time: slot, DriverID: driver, DriverName: "Name " + driver, BusNumber: bus, Status: st}
	a.Key = a.ID()
	return a
}

func TestValidateDriverBusy(t *testing.T) {
	existing := []shuttle.Assignment{booking(shuttle.RouteA, "06:00 PM", "D1", 3, shuttle.StatusPending)}
	cand := booking(shuttle.RouteB, "06:00 PM", "D1", 9, shuttle.StatusPending)

	err := Validate(cand, existing)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, DriverBusy, ce.Reason)
	assert.Equal(t, shuttle.RouteA, ce.Route)
	assert.Equal(t, "Driver Name D1 is already assigned to Route A at 06:00 PM on 01/01/2025. Please choose a different time or driver.", err.Error())
}

func TestValidateRouteTaken(t *testing.T) {
	existing := []shuttle.Assignment{booking(shuttle.RouteA, "06:30 PM", "D1", 3, shuttle.StatusInProgress)}
	cand := booking(shuttle.RouteA, "06:30 PM", "D3", 4, shuttle.StatusPending)

	err := Validate(cand, existing)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, RouteTaken, ce.Reason)
	assert.Equal(t, "Route Route A at 06:30 PM on 01/01/2025 is already assigned to another driver. Please choose a different time or route.", err.Error())
}

func TestValidateFirstMatchWins(t *testing.T) {
	// The route clash comes first in scan order, so it decides.
	existing := []shuttle.Assignment{
		booking(shuttle.RouteA, "08:00 AM", "D2", 1, shuttle.StatusPending),
		booking(shuttle.RouteB, "08:00 AM", "D1", 2, shuttle.StatusPending),
	}
	cand := booking(shuttle.RouteA, "08:00 AM", "D1", 5, shuttle.StatusPending)
	var ce *ConflictError
	require.ErrorAs(t, Validate(cand, existing), &ce)
	assert.Equal(t, RouteTaken, ce.Reason)

	// A single record that clashes on both reports the driver.
	existing = []shuttle.Assignment{booking(shuttle.RouteA, "08:00 AM", "D1", 1, shuttle.StatusPending)}
	require.ErrorAs(t, Validate(cand, existing), &ce)
	assert.Equal(t, DriverBusy, ce.Reason)
}

func TestValidateIgnoresInactiveAndOtherSlots(t *testing.T) {
	existing := []shuttle.Assignment{
		booking(shuttle.RouteA, "08:00 AM", "D1", 1, shuttle.StatusCompleted),
		booking(shuttle.RouteA, "08:00 AM", "D1", 2, shuttle.StatusCancelled),
		booking(shuttle.RouteA, "08:00 AM", "D1", 3, shuttle.StatusExpired),
		booking(shuttle.RouteA, "08:30 AM", "D1", 4, shuttle.StatusPending),
	}
	assert.NoError(t, Validate(booking(shuttle.RouteA, "08:00 AM", "D1", 5, shuttle.StatusPending), existing))
	assert.NoError(t, Validate(booking(shuttle.RouteA, "08:00 AM", "D1", 5, shuttle.StatusPending), nil))
}

func TestKeyExists(t *testing.T) {
	existing := []shuttle.Assignment{booking(shuttle.RouteA, "08:00 AM", "D1", 5, shuttle.StatusCancelled)}
	assert.True(t, KeyExists(booking(shuttle.RouteA, "08:00 AM", "D9", 5, shuttle.StatusPending), existing))
	assert.False(t, KeyExists(booking(shuttle.RouteA, "08:00 AM", "D9", 6, shuttle.StatusPending), existing))

	d := Duplicate(existing[0])
	assert.Equal(t, DuplicateKey, d.Reason)
	assert.Contains(t, d.Error(), "Assignment already exists")
}

func TestDuplicateWithCause(t *testing.T) {
	sentinel := errors.New("exists")
	err := error(Duplicate(booking(shuttle.RouteA, "08:00 AM", "D1", 5, shuttle.StatusPending)).WithCause(sentinel))
	assert.ErrorIs(t, err, sentinel)
	var ce *ConflictError
	assert.ErrorAs(t, err, &ce)
}

func TestBusInUseAndAvailable(t *testing.T) {
	existing := []shuttle.Assignment{
		booking(shuttle.RouteA, "08:00 AM", "D1", 5, shuttle.StatusPending),
		booking(shuttle.RouteB, "08:00 AM", "D2", 7, shuttle.StatusInProgress),
		booking(shuttle.RouteB, "08:00 AM", "D3", 9, shuttle.StatusCompleted),
		booking(shuttle.RouteB, "09:00 AM", "D4", 1, shuttle.StatusPending),
	}

	err := BusInUse(booking(shuttle.RouteB, "08:00 AM", "D5", 5, shuttle.StatusPending), existing)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, BusUnavailable, ce.Reason)
	assert.Equal(t, "Bus 5 is already in use at 08:00 AM on 01/01/2025. Please choose another bus number.", err.Error())

	assert.NoError(t, BusInUse(booking(shuttle.RouteB, "08:00 AM", "D5", 9, shuttle.StatusPending), existing))

	avail := AvailableBusNumbers(existing, "08:00 AM")
	assert.Len(t, avail, 38)
	assert.NotContains(t, avail, 5)
	assert.NotContains(t, avail, 7)
	assert.Contains(t, avail, 9)
	assert.Equal(t, 1, avail[0])
	assert.Equal(t, 40, avail[len(avail)-1])
}
