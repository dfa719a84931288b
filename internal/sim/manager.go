// Package sim replays shuttle buses along their route stops, standing in for
// the on-bus trackers.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"unimap-shuttle/internal/geo"
	"unimap-shuttle/internal/routes"
	"unimap-shuttle/internal/shuttle"
)

// Sink receives the generated samples. store.Positions satisfies it.
type Sink interface {
	PutPosition(ctx context.Context, route shuttle.Route, p shuttle.LivePosition) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, route shuttle.Route, p shuttle.LivePosition) error

func (f SinkFunc) PutPosition(ctx context.Context, route shuttle.Route, p shuttle.LivePosition) error {
	return f(ctx, route, p)
}

// Run describes one bus trip.
type Run struct {
	Route      shuttle.Route
	SpeedKmh   float64
	Dwell      time.Duration // time spent at each intermediate stop
	Passengers int
}

const DefaultSpeedKmh = 30

type Manager struct {
	sink            Sink
	publishInterval time.Duration
	speedMultiplier float64
	now             func() time.Time
	log             *slog.Logger

	mu      sync.Mutex
	running map[shuttle.Route]context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(sink Sink, publishInterval time.Duration, speedMultiplier float64, log *slog.Logger) *Manager {
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	if publishInterval <= 0 {
		publishInterval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sink:            sink,
		publishInterval: publishInterval,
		speedMultiplier: speedMultiplier,
		now:             time.Now,
		log:             log.With("component", "sim"),
		running:         make(map[shuttle.Route]context.CancelFunc),
	}
}

// Start launches the run in the background. It returns false when the route
// already has a bus running.
func (m *Manager) Start(parent context.Context, r Run) bool {
	m.mu.Lock()
	if _, exists := m.running[r.Route]; exists {
		m.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[r.Route] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.Info("starting bus", "route", r.Route, "speed_kmh", r.SpeedKmh)
	go func() {
		defer m.wg.Done()
		if err := m.runRoute(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("run failed", "route", r.Route, "err", err)
		}
		m.mu.Lock()
		delete(m.running, r.Route)
		m.mu.Unlock()
		cancel()
	}()
	return true
}

// Wait blocks until every started run has finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) runRoute(ctx context.Context, r Run) error {
	stops, err := routes.Stops(r.Route)
	if err != nil {
		return err
	}
	pts := routes.Polyline(stops)
	if len(pts) < 2 {
		return fmt.Errorf("route %s has too few stops to simulate", r.Route)
	}
	cum := geo.CumDistances(pts)
	speedKmh := r.SpeedKmh
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	offsets, dists := buildSchedule(cum, speedKmh/3.6, r.Dwell)
	end := offsets[len(offsets)-1]

	tick := time.NewTicker(m.publishInterval)
	defer tick.Stop()

	started := m.now()
	nextLogIdx := 0
	nextStop := 0
	put := func(pt geo.Point, speed float64, now time.Time) error {
		pos := shuttle.LivePosition{
			Latitude:       pt.Lat,
			Longitude:      pt.Lon,
			SpeedKmh:       speed,
			PassengerCount: r.Passengers,
			UpdatedAt:      now,
		}
		if err := m.sink.PutPosition(ctx, r.Route, pos); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn("position write failed", "route", r.Route, "err", err)
		}
		return nil
	}
	emit := func(now time.Time) (bool, error) {
		elapsed := time.Duration(float64(now.Sub(started)) * m.speedMultiplier)
		if elapsed > end {
			elapsed = end
		}
		dist := interpolateDistAt(offsets, dists, elapsed)
		for nextLogIdx < len(offsets) && elapsed >= offsets[nextLogIdx] {
			m.log.Debug("passed keyframe", "route", r.Route, "keyframe", nextLogIdx+1, "of", len(offsets), "dist_m", dists[nextLogIdx])
			nextLogIdx++
		}
		// A sample at every stop passed since the last tick, so stop
		// matching downstream never misses one at high speed-ups.
		for nextStop < len(pts) && cum[nextStop] <= dist {
			if err := put(pts[nextStop], 0, now); err != nil {
				return true, err
			}
			nextStop++
		}
		if dist > cum[nextStop-1] {
			pt, _ := geo.Interpolate(pts, cum, dist)
			speed := 0.0
			if isTravelling(offsets, dists, elapsed) {
				speed = speedKmh
			}
			if err := put(pt, speed, now); err != nil {
				return true, err
			}
		}
		return elapsed >= end, nil
	}

	// Arrival at the first stop. It is reported again as the first stop
	// served on the next tick.
	if err := put(pts[0], 0, started); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			done, err := emit(m.now())
			if err != nil {
				return err
			}
			if done {
				m.log.Info("bus reached last stop", "route", r.Route)
				return nil
			}
		}
	}
}

// buildSchedule turns cumulative stop distances into time keyframes: the bus
// travels between stops at speedMps and waits dwell at every stop between the
// first and the last.
func buildSchedule(cum []float64, speedMps float64, dwell time.Duration) ([]time.Duration, []float64) {
	if len(cum) == 0 || speedMps <= 0 {
		return nil, nil
	}
	offsets := []time.Duration{0}
	dists := []float64{cum[0]}
	at := time.Duration(0)
	for i := 1; i < len(cum); i++ {
		leg := cum[i] - cum[i-1]
		at += time.Duration(leg / speedMps * float64(time.Second))
		offsets = append(offsets, at)
		dists = append(dists, cum[i])
		if dwell > 0 && i < len(cum)-1 {
			at += dwell
			offsets = append(offsets, at)
			dists = append(dists, cum[i])
		}
	}
	return offsets, dists
}

func interpolateDistAt(offsets []time.Duration, dists []float64, at time.Duration) float64 {
	n := len(offsets)
	if n == 0 {
		return 0
	}
	if at <= offsets[0] {
		return dists[0]
	}
	if at >= offsets[n-1] {
		return dists[n-1]
	}
	// find segment i s.t. offsets[i] <= at < offsets[i+1]
	i := 0
	for i+1 < n && at >= offsets[i+1] {
		i++
	}
	t0, t1 := offsets[i], offsets[i+1]
	d0, d1 := dists[i], dists[i+1]
	if t1 <= t0 {
		return d0
	}
	frac := float64(at-t0) / float64(t1-t0)
	return d0 + (d1-d0)*frac
}

// isTravelling reports whether at falls in a moving segment rather than a dwell.
func isTravelling(offsets []time.Duration, dists []float64, at time.Duration) bool {
	for i := 0; i+1 < len(offsets); i++ {
		if at >= offsets[i] && at < offsets[i+1] {
			return dists[i+1] != dists[i]
		}
	}
	return false
}
