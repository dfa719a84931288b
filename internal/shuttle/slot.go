package shuttle

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const slotLayout = "03:04 PM"

// Operating day: first departure 07:30 AM, last 07:30 PM, every half hour.
const (
	firstSlotMinutes = 7*60 + 30
	lastSlotMinutes  = 19*60 + 30
	slotStep         = 30
)

// ParseSlot parses an "hh:mm AM" slot and requires a half-hour boundary.
func ParseSlot(s string) (hour, minute int, err error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	t, err := time.Parse(slotLayout, norm)
	if err != nil {
		// Accept an unpadded hour, e.g. "8:00 AM".
		if t, err = time.Parse("3:04 PM", norm); err != nil {
			return 0, 0, fmt.Errorf("invalid time %q: want hh:mm AM|PM", s)
		}
	}
	if t.Minute()%slotStep != 0 {
		return 0, 0, fmt.Errorf("invalid time %q: slots start on the hour or half hour", s)
	}
	return t.Hour(), t.Minute(), nil
}

// FormatSlot renders hour:minute as "hh:mm AM".
func FormatSlot(hour, minute int) string {
	return time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC).Format(slotLayout)
}

// OperatingSlots lists every bookable slot of a service day in order.
func OperatingSlots() []string {
	var slots []string
	for m := firstSlotMinutes; m <= lastSlotMinutes; m += slotStep {
		slots = append(slots, FormatSlot(m/60, m%60))
	}
	return slots
}

func IsOperatingSlot(s string) bool {
	h, m, err := ParseSlot(s)
	if err != nil {
		return false
	}
	return slices.Contains(OperatingSlots(), FormatSlot(h, m))
}

// slotMinutes orders slots; unparseable slots sort last.
func slotMinutes(s string) int {
	h, m, err := ParseSlot(s)
	if err != nil {
		return 24 * 60
	}
	return h*60 + m
}

// SortBySchedule orders assignments by date, slot, route and bus number.
func SortBySchedule(as []Assignment) {
	slices.SortStableFunc(as, func(a, b Assignment) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := cmpInt(slotMinutes(a.Time), slotMinutes(b.Time)); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Route), string(b.Route)); c != 0 {
			return c
		}
		return cmpInt(a.BusNumber, b.BusNumber)
	})
}

// CompareSlots orders two slot strings chronologically.
func CompareSlots(a, b string) int { return cmpInt(slotMinutes(a), slotMinutes(b)) }
