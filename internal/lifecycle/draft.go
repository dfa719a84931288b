package lifecycle

import (
	"errors"
	"strings"

	"unimap-shuttle/internal/shuttle"
)

// Draft is an unvalidated assignment request as an admin submits it.
type Draft struct {
	Date       string `json:"date"`
	Route      string `json:"route"`
	Time       string `json:"time"`
	DriverID   string `json:"driverId"`
	DriverName string `json:"driverName,omitempty"`
	BusNumber  int    `json:"busNumber"`
}

// Validate checks every field and returns all problems joined, or the
// pending assignment the draft describes.
func (d Draft) Validate() (shuttle.Assignment, error) {
	var errs []error
	a := shuttle.Assignment{
		Time:       strings.TrimSpace(d.Time),
		DriverID:   strings.TrimSpace(d.DriverID),
		DriverName: strings.TrimSpace(d.DriverName),
		BusNumber:  d.BusNumber,
		Status:     shuttle.StatusPending,
	}

	if strings.TrimSpace(d.Date) == "" {
		errs = append(errs, invalid("date", "date is required"))
	} else if date, err := shuttle.ParseDate(d.Date); err != nil {
		errs = append(errs, invalid("date", "%v", err))
	} else {
		a.Date = date
	}

	if strings.TrimSpace(d.Route) == "" {
		errs = append(errs, invalid("route", "route is required"))
	} else if r, err := shuttle.ParseRoute(d.Route); err != nil {
		errs = append(errs, invalid("route", "%v", err))
	} else {
		a.Route = r
	}

	switch {
	case a.Time == "":
		errs = append(errs, invalid("time", "time is required"))
	default:
		if h, m, err := shuttle.ParseSlot(a.Time); err != nil {
			errs = append(errs, invalid("time", "%v", err))
		} else if a.Time = shuttle.FormatSlot(h, m); !shuttle.IsOperatingSlot(a.Time) {
			errs = append(errs, invalid("time", "%s is outside operating hours", a.Time))
		}
	}

	if a.DriverID == "" {
		errs = append(errs, invalid("driverId", "driver is required"))
	}

	if d.BusNumber < shuttle.MinBusNumber || d.BusNumber > shuttle.MaxBusNumber {
		errs = append(errs, invalid("busNumber", "bus number must be between %d and %d", shuttle.MinBusNumber, shuttle.MaxBusNumber))
	}

	if len(errs) > 0 {
		return shuttle.Assignment{}, errors.Join(errs...)
	}
	a.Key = a.ID()
	return a, nil
}
