// Package lifecycle creates assignments and moves them through
// pending, in_progress and their terminal states.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"unimap-shuttle/internal/conflict"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/store"
	"unimap-shuttle/internal/window"
)

// Directory looks up registered drivers.
type Directory interface {
	DriverByID(ctx context.Context, idNumber string) (shuttle.Driver, error)
}

// Notifier is told about every successful status change, including creation.
type Notifier interface {
	PublishTransition(a shuttle.Assignment) error
}

type Metrics interface {
	TransitionInc(to shuttle.Status)
	RejectInc(reason string)
	SweepObserve(r SweepReport, d time.Duration)
}

type Manager struct {
	store    store.Assignments
	dir      Directory
	policy   window.Policy
	loc      *time.Location
	now      func() time.Time
	notifier Notifier
	metrics  Metrics
	log      *slog.Logger
	tracer   trace.Tracer
}

func New(st store.Assignments, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		policy: window.Default(),
		loc:    time.Local,
		now:    time.Now,
		log:    slog.Default(),
		tracer: otel.Tracer("lifecycle"),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "lifecycle")
	return m
}

func (m *Manager) Policy() window.Policy    { return m.policy }
func (m *Manager) Location() *time.Location { return m.loc }
func (m *Manager) Now() time.Time           { return m.now().In(m.loc) }
func (m *Manager) Today() shuttle.Date      { return shuttle.DateOf(m.Now()) }

func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "lifecycle."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func keyAttrs(date shuttle.Date, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("assignment.date", date.String()),
		attribute.String("assignment.key", key),
	}
}

func (m *Manager) transitioned(a shuttle.Assignment) {
	if m.metrics != nil {
		m.metrics.TransitionInc(a.Status)
	}
	if m.notifier != nil {
		if err := m.notifier.PublishTransition(a); err != nil {
			m.log.Warn("publish transition failed", "key", a.Key, "status", a.Status, "error", err)
		}
	}
	m.log.Info("assignment transitioned", "date", a.Date.String(), "key", a.Key, "status", a.Status)
}

func (m *Manager) rejected(reason string) {
	if m.metrics != nil {
		m.metrics.RejectInc(reason)
	}
}

// Create validates the draft, checks it against the day's bookings and
// stores it as pending. Checks run in order: field validation, driver
// lookup, past time, duplicate key, driver and route clashes, bus use.
func (m *Manager) Create(ctx context.Context, d Draft) (a shuttle.Assignment, err error) {
	ctx, span := m.startSpan(ctx, "create")
	defer func() { endSpan(span, err) }()

	a, err = d.Validate()
	if err != nil {
		m.rejected("invalid")
		return shuttle.Assignment{}, err
	}
	span.SetAttributes(keyAttrs(a.Date, a.Key)...)

	if a.DriverName == "" {
		if m.dir == nil {
			m.rejected("invalid")
			return shuttle.Assignment{}, invalid("driverName", "driver name is required")
		}
		drv, err := m.dir.DriverByID(ctx, a.DriverID)
		if err != nil {
			if errors.Is(err, shuttle.ErrUnknownDriver) {
				m.rejected("invalid")
				return shuttle.Assignment{}, invalid("driverId", "no driver with id %s", a.DriverID)
			}
			return shuttle.Assignment{}, fmt.Errorf("resolve driver %s: %w", a.DriverID, err)
		}
		a.DriverName = drv.Name
	}

	at, err := a.ScheduledAt(m.loc)
	if err != nil {
		return shuttle.Assignment{}, invalid("time", "%v", err)
	}
	if at.Before(m.Now()) {
		m.rejected("past")
		return shuttle.Assignment{}, invalid("time", "Cannot assign route for a past date or time. Please choose a future time.")
	}

	existing, err := m.store.ListForDate(ctx, a.Date)
	if err != nil {
		return shuttle.Assignment{}, err
	}
	if conflict.KeyExists(a, existing) {
		m.rejected(string(conflict.DuplicateKey))
		return shuttle.Assignment{}, conflict.Duplicate(a).WithCause(store.ErrAlreadyExists)
	}
	if err := conflict.Validate(a, existing); err != nil {
		m.rejectConflict(err)
		return shuttle.Assignment{}, err
	}
	if err := conflict.BusInUse(a, existing); err != nil {
		m.rejectConflict(err)
		return shuttle.Assignment{}, err
	}

	if err := m.store.Put(ctx, a); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost a race with a concurrent create of the same key.
			m.rejected(string(conflict.DuplicateKey))
			return shuttle.Assignment{}, conflict.Duplicate(a).WithCause(err)
		}
		return shuttle.Assignment{}, err
	}
	m.transitioned(a)
	return a, nil
}

func (m *Manager) rejectConflict(err error) {
	var ce *conflict.ConflictError
	if errors.As(err, &ce) {
		m.rejected(string(ce.Reason))
	}
}

// Start moves a pending assignment to in_progress. It is only allowed while
// now is inside the activation window. Starting an assignment that is
// already in progress is a no-op.
func (m *Manager) Start(ctx context.Context, date shuttle.Date, key string) (a shuttle.Assignment, err error) {
	ctx, span := m.startSpan(ctx, "start", keyAttrs(date, key)...)
	defer func() { endSpan(span, err) }()

	a, err = m.store.Get(ctx, date, key)
	if err != nil {
		return a, err
	}
	switch {
	case a.Status == shuttle.StatusInProgress:
		return a, nil
	case a.Status.Terminal():
		return a, fmt.Errorf("%w: %s is %s", ErrTerminal, key, a.Status)
	}

	at, err := a.ScheduledAt(m.loc)
	if err != nil {
		return a, fmt.Errorf("stored assignment %s: %w", key, err)
	}
	now := m.Now()
	if !m.policy.InActivationWindow(at, now) {
		phase := m.policy.Classify(at, now)
		return a, fmt.Errorf("%w: %s at %s on %s is %s", ErrNotInWindow, a.Route, a.Time, a.Date, phase)
	}

	a, err = m.store.UpdateStatus(ctx, date, key, shuttle.StatusInProgress, shuttle.StatusPending)
	if err != nil {
		return a, err
	}
	m.transitioned(a)
	return a, nil
}

// Complete finishes a pending or running assignment. Completing twice is a
// no-op.
func (m *Manager) Complete(ctx context.Context, date shuttle.Date, key string) (a shuttle.Assignment, err error) {
	ctx, span := m.startSpan(ctx, "complete", keyAttrs(date, key)...)
	defer func() { endSpan(span, err) }()
	return m.finish(ctx, date, key, shuttle.StatusCompleted)
}

// Cancel withdraws a pending or running assignment. Cancelling twice is a
// no-op.
func (m *Manager) Cancel(ctx context.Context, date shuttle.Date, key string) (a shuttle.Assignment, err error) {
	ctx, span := m.startSpan(ctx, "cancel", keyAttrs(date, key)...)
	defer func() { endSpan(span, err) }()
	return m.finish(ctx, date, key, shuttle.StatusCancelled)
}

func (m *Manager) finish(ctx context.Context, date shuttle.Date, key string, to shuttle.Status) (shuttle.Assignment, error) {
	a, err := m.store.Get(ctx, date, key)
	if err != nil {
		return a, err
	}
	if a.Status == to {
		return a, nil
	}
	if a.Status.Terminal() {
		return a, fmt.Errorf("%w: %s is %s", ErrTerminal, key, a.Status)
	}
	a, err = m.store.UpdateStatus(ctx, date, key, to, shuttle.StatusPending, shuttle.StatusInProgress)
	if err != nil {
		if errors.Is(err, store.ErrStatusChanged) {
			// Someone else finished it between the read and the write.
			if cur, gerr := m.store.Get(ctx, date, key); gerr == nil {
				if cur.Status == to {
					return cur, nil
				}
				return cur, fmt.Errorf("%w: %s is %s", ErrTerminal, key, cur.Status)
			}
		}
		return a, err
	}
	m.transitioned(a)
	return a, nil
}

// Delete removes the document outright.
func (m *Manager) Delete(ctx context.Context, date shuttle.Date, key string) (err error) {
	ctx, span := m.startSpan(ctx, "delete", keyAttrs(date, key)...)
	defer func() { endSpan(span, err) }()

	if err := m.store.Delete(ctx, date, key); err != nil {
		return err
	}
	m.log.Info("assignment deleted", "date", date.String(), "key", key)
	return nil
}

// SweepReport summarises one expiry sweep.
type SweepReport struct {
	RunID      string `json:"runId"`
	Scanned    int    `json:"scanned"`
	Candidates int    `json:"candidates"`
	Expired    int    `json:"expired"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
}

// ExpirySweep marks every pending assignment whose grace period has passed
// as expired. Failures on single items are logged and counted; the sweep
// carries on. Only a failure to list aborts it.
func (m *Manager) ExpirySweep(ctx context.Context, now time.Time) (rep SweepReport, err error) {
	rep.RunID = uuid.NewString()
	ctx, span := m.startSpan(ctx, "expiry_sweep", attribute.String("sweep.run_id", rep.RunID))
	started := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.scanned", rep.Scanned),
			attribute.Int("sweep.expired", rep.Expired),
			attribute.Int("sweep.failed", rep.Failed),
		)
		endSpan(span, err)
		if m.metrics != nil && err == nil {
			m.metrics.SweepObserve(rep, time.Since(started))
		}
	}()

	log := m.log.With("run_id", rep.RunID)
	all, err := m.store.ListAll(ctx)
	if err != nil {
		log.Error("expiry sweep could not list assignments", "error", err)
		return rep, err
	}

	for _, a := range all {
		rep.Scanned++
		if a.Status != shuttle.StatusPending {
			continue
		}
		at, perr := a.ScheduledAt(m.loc)
		if perr != nil {
			rep.Skipped++
			log.Warn("skipping assignment with bad time", "date", a.Date.String(), "key", a.Key, "error", perr)
			continue
		}
		if !m.policy.IsExpired(at, now) {
			continue
		}
		rep.Candidates++

		updated, uerr := m.store.UpdateStatus(ctx, a.Date, a.Key, shuttle.StatusExpired, shuttle.StatusPending)
		switch {
		case uerr == nil:
			rep.Expired++
			m.transitioned(updated)
		case errors.Is(uerr, store.ErrStatusChanged), errors.Is(uerr, store.ErrNotFound):
			rep.Skipped++
			log.Debug("assignment changed before it could be expired", "date", a.Date.String(), "key", a.Key, "error", uerr)
		default:
			rep.Failed++
			log.Warn("failed to expire assignment", "date", a.Date.String(), "key", a.Key, "error", uerr)
		}
	}
	log.Info("expiry sweep finished", "scanned", rep.Scanned, "expired", rep.Expired, "failed", rep.Failed, "skipped", rep.Skipped)
	return rep, nil
}

// RunSweeper runs ExpirySweep every interval until ctx ends.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ExpirySweep(ctx, m.Now()); err != nil && ctx.Err() == nil {
				m.log.Error("periodic expiry sweep failed", "error", err)
			}
		}
	}
}
