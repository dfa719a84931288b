package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unimap-shuttle/internal/conflict"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/store"
	"unimap-shuttle/internal/window"
)

var myt = time.FixedZone("MYT", 8*3600)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type recorder struct {
	mu          sync.Mutex
	transitions []shuttle.Assignment
	rejects     []string
	sweeps      []SweepReport
}

func (r *recorder) PublishTransition(a shuttle.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, a)
	return nil
}

func (r *recorder) TransitionInc(shuttle.Status) {}

func (r *recorder) RejectInc(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejects = append(r.rejects, reason)
}

func (r *recorder) SweepObserve(rep SweepReport, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, rep)
}

type directory map[string]shuttle.Driver

func (d directory) DriverByID(_ context.Context, id string) (shuttle.Driver, error) {
	if drv, ok := d[id]; ok {
		return drv, nil
	}
	return shuttle.Driver{}, shuttle.ErrUnknownDriver
}

type fixture struct {
	m     *Manager
	st    *store.Memory
	clock *clock
	rec   *recorder
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	c := &clock{t: now}
	rec := &recorder{}
	dir := directory{
		"D1": {Name: "Ahmad", IDNumber: "D1", Role: shuttle.RoleDriver},
		"D2": {Name: "Siti", IDNumber: "D2", Role: shuttle.RoleDriver},
		"D3": {Name: "Kumar", IDNumber: "D3", Role: shuttle.RoleDriver},
	}
	m := New(st,
		WithClock(c.Now),
		WithLocation(myt),
		WithDirectory(dir),
		WithNotifier(rec),
		WithMetrics(rec),
	)
	return &fixture{m: m, st: st, clock: c, rec: rec}
}

var jan1 = shuttle.Date{Year: 2025, Month: time.January, Day: 1}

func at(h, m int) time.Time { return jan1.At(h, m, myt) }

func draft(route, slot, driver string, bus int) Draft {
	return Draft{Date: "01/01/2025", Route: route, Time: slot, DriverID: driver, BusNumber: bus}
}

func TestCreateResolvesDriverName(t *testing.T) {
	f := newFixture(t, at(6, 0))
	a, err := f.m.Create(context.Background(), draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)
	assert.Equal(t, "RouteA-0800AM-5", a.Key)
	assert.Equal(t, "Ahmad", a.DriverName)
	assert.Equal(t, shuttle.StatusPending, a.Status)

	stored, err := f.st.Get(context.Background(), jan1, a.Key)
	require.NoError(t, err)
	assert.Equal(t, a, stored)
	require.Len(t, f.rec.transitions, 1)
}

func TestCreateDuplicateKey(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	_, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)

	_, err = f.m.Create(ctx, draft("Route A", "08:00 AM", "D2", 5))
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	var ce *conflict.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, conflict.DuplicateKey, ce.Reason)
}

func TestConcurrentCreateSameKey(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	drivers := []string{"D1", "D2", "D3"}

	const n = 9
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.m.Create(ctx, draft("Route A", "08:00 AM", drivers[i%len(drivers)], 5))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
		var ce *conflict.ConflictError
		if assert.ErrorAs(t, err, &ce) {
			assert.Equal(t, conflict.DuplicateKey, ce.Reason)
		}
	}
	assert.Equal(t, 1, wins)

	listed, err := f.m.ListForDate(ctx, jan1)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	f.rec.mu.Lock()
	assert.Len(t, f.rec.transitions, 1)
	f.rec.mu.Unlock()
}

func TestCreateDuplicateKeyEvenWhenCancelled(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	a, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)
	_, err = f.m.Cancel(ctx, jan1, a.Key)
	require.NoError(t, err)

	_, err = f.m.Create(ctx, draft("Route A", "08:00 AM", "D2", 5))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestCreateDriverBusy(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	_, err := f.m.Create(ctx, draft("Route A", "06:00 PM", "D1", 3))
	require.NoError(t, err)

	_, err = f.m.Create(ctx, draft("Route B", "06:00 PM", "D1", 9))
	var ce *conflict.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, conflict.DriverBusy, ce.Reason)
	assert.Contains(t, err.Error(), "Driver Ahmad is already assigned to Route A at 06:00 PM on 01/01/2025")
	assert.Contains(t, f.rec.rejects, string(conflict.DriverBusy))
}

func TestCreateRouteTaken(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	_, err := f.m.Create(ctx, draft("Route A", "06:30 PM", "D1", 3))
	require.NoError(t, err)

	_, err = f.m.Create(ctx, draft("Route A", "06:30 PM", "D3", 4))
	var ce *conflict.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, conflict.RouteTaken, ce.Reason)
}

func TestCreateBusInUse(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	_, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)

	_, err = f.m.Create(ctx, draft("Route B", "08:00 AM", "D2", 5))
	var ce *conflict.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, conflict.BusUnavailable, ce.Reason)

	buses, err := f.m.AvailableBusNumbers(ctx, jan1, "08:00 AM")
	require.NoError(t, err)
	assert.NotContains(t, buses, 5)
	assert.Len(t, buses, 39)
}

func TestCreateRejectsPast(t *testing.T) {
	f := newFixture(t, at(9, 0))
	_, err := f.m.Create(context.Background(), draft("Route A", "08:00 AM", "D1", 5))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "time", ve.Field)
	assert.Contains(t, ve.Message, "past date or time")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()

	_, err := f.m.Create(ctx, Draft{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	for _, field := range []string{"date", "route", "time", "driverId", "busNumber"} {
		assert.Contains(t, err.Error(), field+":")
	}

	_, err = f.m.Create(ctx, draft("Route C", "08:00 AM", "D1", 5))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "route", ve.Field)

	_, err = f.m.Create(ctx, draft("Route A", "08:15 AM", "D1", 5))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "time", ve.Field)

	_, err = f.m.Create(ctx, draft("Route A", "09:00 PM", "D1", 5))
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "outside operating hours")

	_, err = f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 41))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "busNumber", ve.Field)

	_, err = f.m.Create(ctx, draft("Route A", "08:00 AM", "NOPE", 5))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "driverId", ve.Field)

	list, err := f.st.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateWithoutDirectoryNeedsName(t *testing.T) {
	m := New(store.NewMemory(), WithClock(func() time.Time { return at(6, 0) }), WithLocation(myt))
	_, err := m.Create(context.Background(), draft("Route A", "08:00 AM", "D1", 5))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "driverName", ve.Field)

	d := draft("Route A", "08:00 AM", "D1", 5)
	d.DriverName = "Ahmad"
	_, err = m.Create(context.Background(), d)
	assert.NoError(t, err)
}

func TestStartWindow(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	a, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)

	f.clock.Set(at(7, 30))
	_, err = f.m.Start(ctx, jan1, a.Key)
	require.ErrorIs(t, err, ErrNotInWindow)
	assert.Contains(t, err.Error(), "upcoming")

	f.clock.Set(at(7, 41))
	started, err := f.m.Start(ctx, jan1, a.Key)
	require.NoError(t, err)
	assert.Equal(t, shuttle.StatusInProgress, started.Status)

	again, err := f.m.Start(ctx, jan1, a.Key)
	require.NoError(t, err)
	assert.Equal(t, shuttle.StatusInProgress, again.Status)
}

func TestStartAfterGrace(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	a, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)

	f.clock.Set(at(8, 5))
	_, err = f.m.Start(ctx, jan1, a.Key)
	require.ErrorIs(t, err, ErrNotInWindow)
	assert.Contains(t, err.Error(), "missed")
}

func TestCompleteAndCancel(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	a, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)
	b, err := f.m.Create(ctx, draft("Route B", "08:00 AM", "D2", 6))
	require.NoError(t, err)

	f.clock.Set(at(7, 50))
	_, err = f.m.Start(ctx, jan1, a.Key)
	require.NoError(t, err)

	done, err := f.m.Complete(ctx, jan1, a.Key)
	require.NoError(t, err)
	assert.Equal(t, shuttle.StatusCompleted, done.Status)

	n := len(f.rec.transitions)
	_, err = f.m.Complete(ctx, jan1, a.Key)
	require.NoError(t, err)
	assert.Len(t, f.rec.transitions, n, "repeat completion publishes nothing")

	_, err = f.m.Cancel(ctx, jan1, a.Key)
	assert.ErrorIs(t, err, ErrTerminal)

	cancelled, err := f.m.Cancel(ctx, jan1, b.Key)
	require.NoError(t, err)
	assert.Equal(t, shuttle.StatusCancelled, cancelled.Status)
	_, err = f.m.Cancel(ctx, jan1, b.Key)
	assert.NoError(t, err)
	_, err = f.m.Complete(ctx, jan1, b.Key)
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = f.m.Start(ctx, jan1, b.Key)
	assert.ErrorIs(t, err, ErrTerminal)

	_, err = f.m.Complete(ctx, jan1, "RouteA-0900AM-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompletePendingDirectly(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	a, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)
	done, err := f.m.Complete(ctx, jan1, a.Key)
	require.NoError(t, err)
	assert.Equal(t, shuttle.StatusCompleted, done.Status)
}

func TestExpirySweep(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	a, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)
	late, err := f.m.Create(ctx, draft("Route A", "10:00 AM", "D1", 5))
	require.NoError(t, err)
	running, err := f.m.Create(ctx, draft("Route B", "08:00 AM", "D2", 6))
	require.NoError(t, err)

	f.clock.Set(at(7, 55))
	_, err = f.m.Start(ctx, jan1, running.Key)
	require.NoError(t, err)

	rep, err := f.m.ExpirySweep(ctx, at(8, 6))
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Expired)
	assert.Zero(t, rep.Failed)

	got, err := f.st.Get(ctx, jan1, a.Key)
	require.NoError(t, err)
	assert.Equal(t, shuttle.StatusExpired, got.Status)
	got, err = f.st.Get(ctx, jan1, late.Key)
	require.NoError(t, err)
	assert.Equal(t, shuttle.StatusPending, got.Status)
	got, err = f.st.Get(ctx, jan1, running.Key)
	require.NoError(t, err)
	assert.Equal(t, shuttle.StatusInProgress, got.Status)

	again, err := f.m.ExpirySweep(ctx, at(8, 6))
	require.NoError(t, err)
	assert.Zero(t, again.Expired)
	assert.Zero(t, again.Candidates)
	assert.NotEqual(t, rep.RunID, again.RunID)
	assert.Len(t, f.rec.sweeps, 2)
}

func TestExpirySweepBoundary(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	_, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)

	rep, err := f.m.ExpirySweep(ctx, at(8, 5).Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.Zero(t, rep.Expired)

	rep, err = f.m.ExpirySweep(ctx, at(8, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
}

type failingStore struct {
	store.Assignments
	failKey string
}

func (f failingStore) UpdateStatus(ctx context.Context, d shuttle.Date, key string, to shuttle.Status, from ...shuttle.Status) (shuttle.Assignment, error) {
	if key == f.failKey {
		return shuttle.Assignment{}, &store.Error{Op: "update", Err: errors.New("connection reset")}
	}
	return f.Assignments.UpdateStatus(ctx, d, key, to, from...)
}

func TestExpirySweepContinuesPastFailures(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	for _, a := range []shuttle.Assignment{
		{Date: jan1, Route: shuttle.RouteA, Time: "08:00 AM", DriverID: "D1", BusNumber: 1, Status: shuttle.StatusPending},
		{Date: jan1, Route: shuttle.RouteB, Time: "08:00 AM", DriverID: "D2", BusNumber: 2, Status: shuttle.StatusPending},
	} {
		require.NoError(t, mem.Put(ctx, a))
	}
	m := New(failingStore{Assignments: mem, failKey: "RouteA-0800AM-1"}, WithLocation(myt))

	rep, err := m.ExpirySweep(ctx, at(9, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Candidates)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Failed)
}

func TestDriverScheduleAndHistory(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	a, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)
	_, err = f.m.Create(ctx, draft("Route B", "07:30 AM", "D1", 6))
	require.NoError(t, err)
	c, err := f.m.Create(ctx, draft("Route A", "09:00 AM", "D1", 7))
	require.NoError(t, err)
	_, err = f.m.Create(ctx, draft("Route B", "08:00 AM", "D2", 8))
	require.NoError(t, err)
	_, err = f.m.Cancel(ctx, jan1, c.Key)
	require.NoError(t, err)

	f.clock.Set(at(7, 45))
	sched, err := f.m.DriverSchedule(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, sched, 2)
	assert.Equal(t, "07:30 AM", sched[0].Time)
	assert.Equal(t, window.Missed, sched[0].Phase)
	assert.Equal(t, a.Key, sched[1].Key)
	assert.Equal(t, window.Startable, sched[1].Phase)

	hist, err := f.m.DriverHistory(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, shuttle.StatusCancelled, hist[2].Status)
}

func TestAvailableTimeSlots(t *testing.T) {
	f := newFixture(t, at(12, 10))
	ctx := context.Background()

	today, err := f.m.AvailableTimeSlots(ctx, jan1)
	require.NoError(t, err)
	assert.Equal(t, "12:30 PM", today[0])
	assert.Equal(t, "07:30 PM", today[len(today)-1])

	tomorrow, err := f.m.AvailableTimeSlots(ctx, shuttle.Date{Year: 2025, Month: time.January, Day: 2})
	require.NoError(t, err)
	assert.Len(t, tomorrow, 25)

	past, err := f.m.AvailableTimeSlots(ctx, shuttle.Date{Year: 2024, Month: time.December, Day: 31})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	a, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)
	require.NoError(t, f.m.Delete(ctx, jan1, a.Key))
	assert.ErrorIs(t, f.m.Delete(ctx, jan1, a.Key), store.ErrNotFound)

	// The slot is free again.
	_, err = f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	assert.NoError(t, err)
}

func TestListedStatusesAreValid(t *testing.T) {
	f := newFixture(t, at(6, 0))
	ctx := context.Background()
	_, err := f.m.Create(ctx, draft("Route A", "08:00 AM", "D1", 5))
	require.NoError(t, err)
	list, err := f.m.ListForDate(ctx, jan1)
	require.NoError(t, err)
	for _, a := range list {
		assert.True(t, a.Status.Valid())
	}
}
