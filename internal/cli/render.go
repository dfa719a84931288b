package cli

import (
	"fmt"
	"io"
	"strconv"

	"unimap-shuttle/internal/lifecycle"
	"unimap-shuttle/internal/shuttle"
)

// assignmentRecord is an assignment with its store key, as printed.
type assignmentRecord struct {
	shuttle.Assignment
	Key   string `json:"key"`
	Phase string `json:"phase,omitempty"`
}

func record(a shuttle.Assignment) assignmentRecord {
	return assignmentRecord{Assignment: a, Key: a.Key}
}

func driverLabel(a shuttle.Assignment) string {
	if a.DriverName == "" {
		return a.DriverID
	}
	return fmt.Sprintf("%s (%s)", a.DriverName, a.DriverID)
}

func (r assignmentRecord) renderText(w io.Writer) {
	fmt.Fprintf(w, "%s %s: %s %s bus %d, %s, driver %s\n",
		r.Date, r.Key, r.Route, r.Time, r.BusNumber, r.Status, driverLabel(r.Assignment))
}

const (
	rowFormat      = "%-10s  %-17s  %-7s  %-8s  %3s  %-11s  %s\n"
	phaseRowFormat = "%-10s  %-17s  %-7s  %-8s  %3s  %-11s  %-9s  %s\n"
)

// assignmentTable is a titled list of assignments.
type assignmentTable struct {
	Title       string             `json:"-"`
	Empty       string             `json:"-"`
	withPhase   bool
	Assignments []assignmentRecord `json:"assignments"`
}

func newTable(title, empty string, as []shuttle.Assignment) assignmentTable {
	t := assignmentTable{Title: title, Empty: empty, Assignments: make([]assignmentRecord, 0, len(as))}
	for _, a := range as {
		t.Assignments = append(t.Assignments, record(a))
	}
	return t
}

func scheduleTable(title, empty string, sched []lifecycle.Scheduled) assignmentTable {
	t := assignmentTable{Title: title, Empty: empty, withPhase: true, Assignments: make([]assignmentRecord, 0, len(sched))}
	for _, s := range sched {
		r := record(s.Assignment)
		r.Phase = s.Phase.String()
		t.Assignments = append(t.Assignments, r)
	}
	return t
}

func (t assignmentTable) renderText(w io.Writer) {
	if len(t.Assignments) == 0 {
		fmt.Fprintln(w, t.Empty)
		return
	}
	fmt.Fprintf(w, "%s (%d)\n", t.Title, len(t.Assignments))
	if t.withPhase {
		fmt.Fprintf(w, phaseRowFormat, "DATE", "KEY", "ROUTE", "TIME", "BUS", "STATUS", "PHASE", "DRIVER")
	} else {
		fmt.Fprintf(w, rowFormat, "DATE", "KEY", "ROUTE", "TIME", "BUS", "STATUS", "DRIVER")
	}
	for _, r := range t.Assignments {
		bus := strconv.Itoa(r.BusNumber)
		if t.withPhase {
			fmt.Fprintf(w, phaseRowFormat, r.Date, r.Key, r.Route, r.Time, bus, r.Status, r.Phase, driverLabel(r.Assignment))
			continue
		}
		fmt.Fprintf(w, rowFormat, r.Date, r.Key, r.Route, r.Time, bus, r.Status, driverLabel(r.Assignment))
	}
}

type busList struct {
	Date  shuttle.Date `json:"date"`
	Time  string       `json:"time"`
	Buses []int        `json:"buses"`
}

func (b busList) renderText(w io.Writer) {
	fmt.Fprintf(w, "Free buses at %s on %s: %d\n", b.Time, b.Date, len(b.Buses))
	for i, n := range b.Buses {
		sep := " "
		if i == len(b.Buses)-1 || (i+1)%10 == 0 {
			sep = "\n"
		}
		fmt.Fprintf(w, "%3d%s", n, sep)
	}
}

type slotList struct {
	Date  shuttle.Date `json:"date"`
	Slots []string     `json:"slots"`
}

func (s slotList) renderText(w io.Writer) {
	if len(s.Slots) == 0 {
		fmt.Fprintf(w, "No bookable slots left on %s\n", s.Date)
		return
	}
	fmt.Fprintf(w, "Bookable slots on %s (%d)\n", s.Date, len(s.Slots))
	for _, slot := range s.Slots {
		fmt.Fprintf(w, "  %s\n", slot)
	}
}

type sweepResult lifecycle.SweepReport

func (r sweepResult) renderText(w io.Writer) {
	fmt.Fprintf(w, "Sweep %s: scanned %d, expired %d, failed %d, skipped %d\n",
		r.RunID, r.Scanned, r.Expired, r.Failed, r.Skipped)
}

type deleted struct {
	Date shuttle.Date `json:"date"`
	Key  string       `json:"key"`
}

func (d deleted) renderText(w io.Writer) {
	fmt.Fprintf(w, "Deleted %s on %s\n", d.Key, d.Date)
}
