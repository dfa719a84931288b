package shuttle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Bus numbers the fleet is allowed to use.
const (
	MinBusNumber = 1
	MaxBusNumber = 40
)

type Route string

const (
	RouteA Route = "Route A"
	RouteB Route = "Route B"
)

// Routes lists every route the shuttle service operates, in display order.
var Routes = []Route{RouteA, RouteB}

// ParseRoute accepts the display name ("Route A"), the store token ("RouteA")
// or the bare letter ("A"), case-insensitively.
func ParseRoute(s string) (Route, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, r := range Routes {
		tok := strings.ToLower(r.Token())
		if norm == tok || norm == strings.TrimPrefix(tok, "route") {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown route %q", s)
}

// Token is the route name without spaces, used in store keys and subjects.
func (r Route) Token() string { return strings.ReplaceAll(string(r), " ", "") }

func (r Route) Valid() bool {
	for _, known := range Routes {
		if r == known {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Active reports whether the assignment still holds its driver, route and bus.
func (s Status) Active() bool { return s == StatusPending || s == StatusInProgress }

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// Assignment binds a date, time slot, route, driver and bus number.
type Assignment struct {
	Date       Date   `json:"date"`
	Route      Route  `json:"route"`
	Time       string `json:"time"`
	DriverID   string `json:"driverId"`
	DriverName string `json:"driverName"`
	BusNumber  int    `json:"busNumber"`
	Status     Status `json:"status"`

	// Key is the store-native key; populated on reads, never serialized.
	Key string `json:"-"`
}

// UnmarshalJSON decodes an assignment document, defaulting a missing status
// to pending.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	type doc Assignment
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	*a = Assignment(d)
	return nil
}

// ID returns the composite identity key derived from route, slot and bus.
func (a Assignment) ID() string { return MakeKey(a.Route, a.Time, a.BusNumber) }

// MakeKey builds "{route-no-spaces}-{time-no-spaces-no-colons}-{bus}",
// e.g. "RouteA-0800AM-5".
func MakeKey(route Route, slot string, bus int) string {
	t := strings.NewReplacer(" ", "", ":", "").Replace(slot)
	return fmt.Sprintf("%s-%s-%d", route.Token(), t, bus)
}

// ScheduledAt is the absolute start instant of the assignment in loc.
func (a Assignment) ScheduledAt(loc *time.Location) (time.Time, error) {
	h, m, err := ParseSlot(a.Time)
	if err != nil {
		return time.Time{}, err
	}
	return a.Date.At(h, m, loc), nil
}

// LivePosition is the latest sample reported for a route. One per route,
// last write wins.
type LivePosition struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	SpeedKmh       float64   `json:"speed"` // km/h
	PassengerCount int       `json:"passengerCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Role string

const (
	RoleDriver  Role = "Driver"
	RoleAdmin   Role = "Admin"
	RoleStudent Role = "Student"
)

type Driver struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	IDNumber    string `json:"idNumber"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
}

type Student struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	MatricNumber string `json:"matricNumber"`
	PhoneNumber  string `json:"phoneNumber"`
	Role         Role   `json:"role"`
}

// ErrUnknownDriver is returned by directories when no driver has the id.
var ErrUnknownDriver = errors.New("driver not found")
