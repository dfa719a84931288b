package lifecycle

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"unimap-shuttle/internal/conflict"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/window"
)

// Scheduled is an assignment together with where now falls relative to its
// start window.
type Scheduled struct {
	shuttle.Assignment
	Phase window.Phase `json:"-"`
}

func (m *Manager) ListForDate(ctx context.Context, date shuttle.Date) (_ []shuttle.Assignment, err error) {
	ctx, span := m.startSpan(ctx, "list_for_date", attribute.String("assignment.date", date.String()))
	defer func() { endSpan(span, err) }()
	return m.store.ListForDate(ctx, date)
}

func (m *Manager) Get(ctx context.Context, date shuttle.Date, key string) (shuttle.Assignment, error) {
	return m.store.Get(ctx, date, key)
}

// DriverSchedule lists the driver's assignments that are not completed or
// cancelled, in schedule order.
func (m *Manager) DriverSchedule(ctx context.Context, driverID string) (_ []Scheduled, err error) {
	ctx, span := m.startSpan(ctx, "driver_schedule", attribute.String("driver.id", driverID))
	defer func() { endSpan(span, err) }()

	all, err := m.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	now := m.Now()
	var out []Scheduled
	for _, a := range all {
		if a.DriverID != driverID || a.Status == shuttle.StatusCompleted || a.Status == shuttle.StatusCancelled {
			continue
		}
		s := Scheduled{Assignment: a, Phase: window.Missed}
		if at, perr := a.ScheduledAt(m.loc); perr == nil {
			s.Phase = m.policy.Classify(at, now)
		}
		out = append(out, s)
	}
	return out, nil
}

// DriverHistory lists every assignment the driver ever held.
func (m *Manager) DriverHistory(ctx context.Context, driverID string) (_ []shuttle.Assignment, err error) {
	ctx, span := m.startSpan(ctx, "driver_history", attribute.String("driver.id", driverID))
	defer func() { endSpan(span, err) }()

	all, err := m.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []shuttle.Assignment
	for _, a := range all {
		if a.DriverID == driverID {
			out = append(out, a)
		}
	}
	return out, nil
}

// AvailableBusNumbers lists the buses free at slot on date.
func (m *Manager) AvailableBusNumbers(ctx context.Context, date shuttle.Date, slot string) (_ []int, err error) {
	ctx, span := m.startSpan(ctx, "available_buses", attribute.String("assignment.date", date.String()))
	defer func() { endSpan(span, err) }()

	h, mm, err := shuttle.ParseSlot(slot)
	if err != nil {
		return nil, invalid("time", "%v", err)
	}
	existing, err := m.store.ListForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	return conflict.AvailableBusNumbers(existing, shuttle.FormatSlot(h, mm)), nil
}

// AvailableTimeSlots lists the operating slots that can still be booked on
// date. Past dates have none, and today only has slots that have not yet
// started.
func (m *Manager) AvailableTimeSlots(_ context.Context, date shuttle.Date) ([]string, error) {
	if date.IsZero() {
		return nil, invalid("date", "date is required")
	}
	now := m.Now()
	var out []string
	for _, s := range shuttle.OperatingSlots() {
		h, mm, err := shuttle.ParseSlot(s)
		if err != nil {
			return nil, fmt.Errorf("operating slot %q: %w", s, err)
		}
		if date.At(h, mm, m.loc).After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}
