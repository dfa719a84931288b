package shuttle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeKey(t *testing.T) {
	assert.Equal(t, "RouteA-0800AM-5", MakeKey(RouteA, "08:00 AM", 5))
	assert.Equal(t, "RouteB-0730PM-40", MakeKey(RouteB, "07:30 PM", 40))

	a := Assignment{Route: RouteA, Time: "12:30 PM", BusNumber: 12}
	assert.Equal(t, "RouteA-1230PM-12", a.ID())
}

func TestParseRoute(t *testing.T) {
	for _, in := range []string{"Route A", "RouteA", "routea", "A", " a "} {
		r, err := ParseRoute(in)
		require.NoError(t, err, in)
		assert.Equal(t, RouteA, r)
	}
	_, err := ParseRoute("Route C")
	require.Error(t, err)
}

func TestAssignmentJSONRoundTrip(t *testing.T) {
	in := Assignment{
		Date:       Date{Year: 2025, Month: time.January, Day: 1},
		Route:      RouteA,
		Time:       "08:00 AM",
		DriverID:   "D1",
		DriverName: "Ahmad",
		BusNumber:  5,
		Status:     StatusInProgress,
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"date":"01/01/2025"`)

	var out Assignment
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestAssignmentJSONDefaultsToPending(t *testing.T) {
	raw := `{"date":"01/01/2025","route":"Route B","time":"07:30 AM","driverId":"D2","driverName":"Siti","busNumber":3}`

	var a Assignment
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, RouteB, a.Route)
	assert.Equal(t, Date{Year: 2025, Month: time.January, Day: 1}, a.Date)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("01/02/2025")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2025, Month: time.February, Day: 1}, d)

	iso, err := ParseDate("2025-02-01")
	require.NoError(t, err)
	assert.Equal(t, d, iso)
	assert.Equal(t, "2025-02-01", d.ISO())
	assert.Equal(t, "01/02/2025", d.String())

	y, m, day := d.Partition()
	assert.Equal(t, []string{"2025", "02", "01"}, []string{y, m, day})

	_, err = ParseDate("2025/02/01")
	require.Error(t, err)
}

func TestParseSlot(t *testing.T) {
	h, m, err := ParseSlot("07:30 PM")
	require.NoError(t, err)
	assert.Equal(t, 19, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseSlot("07:15 AM")
	require.Error(t, err)
	_, _, err = ParseSlot("7.30")
	require.Error(t, err)
}

func TestOperatingSlots(t *testing.T) {
	slots := OperatingSlots()
	require.Len(t, slots, 25)
	assert.Equal(t, "07:30 AM", slots[0])
	assert.Equal(t, "12:00 PM", slots[9])
	assert.Equal(t, "07:30 PM", slots[len(slots)-1])

	assert.True(t, IsOperatingSlot("01:00 PM"))
	assert.False(t, IsOperatingSlot("07:00 AM"))
	assert.False(t, IsOperatingSlot("08:00 PM"))
}

func TestSortBySchedule(t *testing.T) {
	d1 := Date{Year: 2025, Month: time.January, Day: 1}
	d2 := Date{Year: 2025, Month: time.January, Day: 2}
	as := []Assignment{
		{Date: d2, Time: "07:30 AM", Route: RouteA, BusNumber: 1},
		{Date: d1, Time: "01:00 PM", Route: RouteA, BusNumber: 2},
		{Date: d1, Time: "09:00 AM", Route: RouteB, BusNumber: 3},
		{Date: d1, Time: "09:00 AM", Route: RouteA, BusNumber: 4},
	}
	SortBySchedule(as)

	got := make([]int, len(as))
	for i, a := range as {
		got[i] = a.BusNumber
	}
	assert.Equal(t, []int{4, 3, 2, 1}, got)
}

func TestScheduledAt(t *testing.T) {
	loc := time.FixedZone("MYT", 8*3600)
	a := Assignment{Date: Date{Year: 2025, Month: time.January, Day: 1}, Time: "08:00 AM"}
	at, err := a.ScheduledAt(loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 1, 8, 0, 0, 0, loc), at)

	a.Time = "bogus"
	_, err = a.ScheduledAt(loc)
	require.Error(t, err)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusInProgress.Active())
	assert.False(t, StatusExpired.Active())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, Status("in-progress").Valid())
}
