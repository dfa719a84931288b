// Package correlator ties the live position reported for a route to the bus
// assigned to it and the stop it is nearest to.
package correlator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"unimap-shuttle/internal/geo"
	"unimap-shuttle/internal/routes"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/store"
)

// DisplayUpdate is what a student's map shows for one route.
type DisplayUpdate struct {
	Route          shuttle.Route  `json:"route"`
	BusNumber      *int           `json:"busNumber,omitempty"`
	AssignmentKey  string         `json:"assignmentKey,omitempty"`
	Status         shuttle.Status `json:"status,omitempty"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	SpeedKmh       float64        `json:"speed"`
	PassengerCount int            `json:"passengerCount"`
	StopIndex      int            `json:"stopIndex"`
	CurrentStop    string         `json:"currentStop,omitempty"`
	NextStop       string         `json:"nextStop,omitempty"`
	Geohash        string         `json:"geohash"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type Publisher interface {
	PublishDisplay(u DisplayUpdate) error
}

// ActiveAssignment picks the assignment that owns route right now: the
// earliest in_progress one, otherwise the earliest pending one.
func ActiveAssignment(route shuttle.Route, as []shuttle.Assignment) (shuttle.Assignment, bool) {
	var best shuttle.Assignment
	found := false
	for _, a := range as {
		if a.Route != route || !a.Status.Active() {
			continue
		}
		if !found {
			best, found = a, true
			continue
		}
		if a.Status != best.Status {
			if a.Status == shuttle.StatusInProgress {
				best = a
			}
			continue
		}
		if shuttle.CompareSlots(a.Time, best.Time) < 0 {
			best = a
		}
	}
	return best, found
}

// ActiveBusFor returns the bus number of ActiveAssignment.
func ActiveBusFor(route shuttle.Route, as []shuttle.Assignment) (int, bool) {
	a, ok := ActiveAssignment(route, as)
	return a.BusNumber, ok
}

// NearestStop returns the stop closest to p. Ties go to the earlier stop.
func NearestStop(p geo.Point, stops []routes.Stop) (int, string, bool) {
	idx := -1
	best := 0.0
	for i, s := range stops {
		d := geo.DistanceMeters(p, s.Point())
		if idx < 0 || d < best {
			idx, best = i, d
		}
	}
	if idx < 0 {
		return -1, "", false
	}
	return idx, stops[idx].Name, true
}

// Build derives the display update for a route from its latest position and
// the day's assignments.
func Build(route shuttle.Route, pos shuttle.LivePosition, stops []routes.Stop, today []shuttle.Assignment) DisplayUpdate {
	pt := geo.Point{Lat: pos.Latitude, Lon: pos.Longitude}
	u := DisplayUpdate{
		Route:          route,
		Latitude:       pos.Latitude,
		Longitude:      pos.Longitude,
		SpeedKmh:       pos.SpeedKmh,
		PassengerCount: pos.PassengerCount,
		StopIndex:      -1,
		Geohash:        geo.Cell(pt),
		UpdatedAt:      pos.UpdatedAt,
	}
	if a, ok := ActiveAssignment(route, today); ok {
		bus := a.BusNumber
		u.BusNumber = &bus
		u.AssignmentKey = a.Key
		u.Status = a.Status
	}
	if i, name, ok := NearestStop(pt, stops); ok {
		u.StopIndex = i
		u.CurrentStop = name
		if i+1 < len(stops) {
			u.NextStop = stops[i+1].Name
		}
	}
	return u
}

// Correlator keeps a DisplayUpdate per route current as positions and
// assignments change.
type Correlator struct {
	assignments store.Assignments
	positions   store.Positions
	pub         Publisher
	loc         *time.Location
	now         func() time.Time
	log         *slog.Logger

	// How often Run checks whether the local date rolled over.
	RolloverCheck time.Duration

	latest  *xsync.Map[shuttle.Route, DisplayUpdate]
	lastPos *xsync.Map[shuttle.Route, shuttle.LivePosition]

	// computeMu serializes recompute; each run reads the newest position.
	computeMu sync.Mutex

	mu    sync.RWMutex
	date  shuttle.Date
	today []shuttle.Assignment
}

func New(as store.Assignments, ps store.Positions, pub Publisher, loc *time.Location, log *slog.Logger) *Correlator {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		assignments:   as,
		positions:     ps,
		pub:           pub,
		loc:           loc,
		now:           time.Now,
		log:           log.With("component", "correlator"),
		RolloverCheck: time.Minute,
		latest:        xsync.NewMap[shuttle.Route, DisplayUpdate](),
		lastPos:       xsync.NewMap[shuttle.Route, shuttle.LivePosition](),
	}
}

// SetClock replaces the wall clock, for tests.
func (c *Correlator) SetClock(now func() time.Time) { c.now = now }

// Display returns the latest update computed for route.
func (c *Correlator) Display(route shuttle.Route) (DisplayUpdate, bool) {
	return c.latest.Load(route)
}

func (c *Correlator) currentDate() shuttle.Date { return shuttle.DateOf(c.now().In(c.loc)) }

func (c *Correlator) subscribeDay(ctx context.Context, d shuttle.Date) (store.Subscription, error) {
	c.mu.Lock()
	c.date = d
	c.today = nil
	c.mu.Unlock()
	return c.assignments.Subscribe(ctx, store.ForDate(d), func(as []shuttle.Assignment) {
		c.mu.Lock()
		if c.date != d {
			c.mu.Unlock()
			return
		}
		c.today = as
		c.mu.Unlock()
		c.lastPos.Range(func(r shuttle.Route, _ shuttle.LivePosition) bool {
			c.recompute(r)
			return true
		})
	})
}

// Run follows positions and today's assignments until ctx ends.
func (c *Correlator) Run(ctx context.Context) error {
	day := c.currentDate()
	asub, err := c.subscribeDay(ctx, day)
	if err != nil {
		return err
	}
	defer func() { asub.Stop() }()

	psub, err := c.positions.WatchPositions(ctx, func(r shuttle.Route, p shuttle.LivePosition) {
		c.lastPos.Store(r, p)
		c.recompute(r)
	})
	if err != nil {
		return err
	}
	defer psub.Stop()

	c.log.Info("correlator started", "date", day.String())
	ticker := time.NewTicker(c.RolloverCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if d := c.currentDate(); d != day {
				c.log.Info("date rolled over, resubscribing", "from", day.String(), "to", d.String())
				asub.Stop()
				next, err := c.subscribeDay(ctx, d)
				if err != nil {
					c.log.Error("resubscribe failed, will retry", "date", d.String(), "error", err)
					continue
				}
				asub, day = next, d
			}
		}
	}
}

// recompute rebuilds the display for route from the newest stored position
// and today's assignments.
func (c *Correlator) recompute(route shuttle.Route) {
	stops, err := routes.Stops(route)
	if err != nil {
		c.log.Warn("no stops for route", "route", route, "error", err)
		return
	}
	c.computeMu.Lock()
	defer c.computeMu.Unlock()
	pos, ok := c.lastPos.Load(route)
	if !ok {
		return
	}
	c.mu.RLock()
	today := c.today
	c.mu.RUnlock()

	u := Build(route, pos, stops, today)
	c.latest.Store(route, u)
	if c.pub != nil {
		if err := c.pub.PublishDisplay(u); err != nil {
			c.log.Warn("publish display update failed", "route", route, "error", err)
		}
	}
}
