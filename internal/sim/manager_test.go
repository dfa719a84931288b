package sim

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unimap-shuttle/internal/geo"
	"unimap-shuttle/internal/routes"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/store"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBuildScheduleWithDwell(t *testing.T) {
	cum := []float64{0, 100, 300}
	offsets, dists := buildSchedule(cum, 10, 5*time.Second)

	assert.Equal(t, []time.Duration{0, 10 * time.Second, 15 * time.Second, 35 * time.Second}, offsets)
	assert.Equal(t, []float64{0, 100, 100, 300}, dists)

	assert.InDelta(t, 50, interpolateDistAt(offsets, dists, 5*time.Second), 1e-9)
	assert.InDelta(t, 100, interpolateDistAt(offsets, dists, 12*time.Second), 1e-9)
	assert.InDelta(t, 200, interpolateDistAt(offsets, dists, 25*time.Second), 1e-9)
	assert.InDelta(t, 300, interpolateDistAt(offsets, dists, time.Hour), 1e-9)

	assert.True(t, isTravelling(offsets, dists, 5*time.Second))
	assert.False(t, isTravelling(offsets, dists, 12*time.Second))
}

func TestBuildScheduleEmpty(t *testing.T) {
	offsets, dists := buildSchedule(nil, 10, 0)
	assert.Nil(t, offsets)
	assert.Nil(t, dists)
	assert.Zero(t, interpolateDistAt(nil, nil, time.Second))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances ten minutes on every call so a run finishes in a few ticks.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(10 * time.Minute)
	return t
}

func TestRunReachesLastStop(t *testing.T) {
	mem := store.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })

	var mu sync.Mutex
	var samples []shuttle.LivePosition
	sink := SinkFunc(func(ctx context.Context, route shuttle.Route, p shuttle.LivePosition) error {
		mu.Lock()
		samples = append(samples, p)
		mu.Unlock()
		return mem.PutPosition(ctx, route, p)
	})

	m := NewManager(sink, time.Millisecond, 1, quiet())
	clk := &fakeClock{now: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
	m.now = clk.Now

	require.True(t, m.Start(context.Background(), Run{Route: shuttle.RouteA, SpeedKmh: 30, Passengers: 12}))
	m.Wait()
	assert.Zero(t, m.Running())

	stops := routes.MustStops(shuttle.RouteA)
	first, last := stops[0].Point(), stops[len(stops)-1].Point()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(samples), 2)
	start := geo.Point{Lat: samples[0].Latitude, Lon: samples[0].Longitude}
	assert.Less(t, geo.DistanceMeters(start, first), 1.0)

	for _, st := range stops {
		found := false
		for _, p := range samples {
			if geo.DistanceMeters(geo.Point{Lat: p.Latitude, Lon: p.Longitude}, st.Point()) < 1 {
				found = true
				break
			}
		}
		assert.True(t, found, "no sample at %s", st.Name)
	}

	got, err := mem.GetPosition(context.Background(), shuttle.RouteA)
	require.NoError(t, err)
	end := geo.Point{Lat: got.Latitude, Lon: got.Longitude}
	assert.Less(t, geo.DistanceMeters(end, last), 1.0)
	assert.Equal(t, 12, got.PassengerCount)
	assert.Zero(t, got.SpeedKmh)
}

func TestStartRejectsSecondBusOnRoute(t *testing.T) {
	block := make(chan struct{})
	sink := SinkFunc(func(ctx context.Context, _ shuttle.Route, _ shuttle.LivePosition) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	m := NewManager(sink, time.Hour, 1, quiet())

	require.True(t, m.Start(context.Background(), Run{Route: shuttle.RouteB}))
	assert.False(t, m.Start(context.Background(), Run{Route: shuttle.RouteB}))
	assert.Equal(t, 1, m.Running())

	m.Stop()
	close(block)
	assert.Zero(t, m.Running())
}
