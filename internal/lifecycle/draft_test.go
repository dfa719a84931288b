package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unimap-shuttle/internal/shuttle"
)

func TestDraftValidateNormalizes(t *testing.T) {
	a, err := Draft{
		Date:      "2025-01-01",
		Route:     "routeb",
		Time:      " 8:00 am ",
		DriverID:  " D1 ",
		BusNumber: 40,
	}.Validate()
	require.NoError(t, err)
	assert.Equal(t, shuttle.RouteB, a.Route)
	assert.Equal(t, "08:00 AM", a.Time)
	assert.Equal(t, "D1", a.DriverID)
	assert.Equal(t, "RouteB-0800AM-40", a.Key)
	assert.Equal(t, "01/01/2025", a.Date.String())
}
