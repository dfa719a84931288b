package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMeters(t *testing.T) {
	depot := Point{Lat: 6.460660, Lon: 100.360458}
	assert.Zero(t, DistanceMeters(depot, depot))

	// One degree of latitude is about 111.2 km.
	d := DistanceMeters(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	assert.InDelta(t, 111195, d, 10)

	ab := DistanceMeters(depot, Point{Lat: 6.458632, Lon: 100.356071})
	ba := DistanceMeters(Point{Lat: 6.458632, Lon: 100.356071}, depot)
	assert.InDelta(t, ab, ba, 1e-9)
}

func TestBearingDeg(t *testing.T) {
	assert.InDelta(t, 0, BearingDeg(Point{0, 0}, Point{1, 0}), 1e-9)
	assert.InDelta(t, 90, BearingDeg(Point{0, 0}, Point{0, 1}), 1e-9)
	assert.InDelta(t, 270, BearingDeg(Point{0, 1}, Point{0, 0}), 1e-9)
}

func TestInterpolate(t *testing.T) {
	pts := []Point{{0, 0}, {0, 1}, {0, 2}}
	cum := CumDistances(pts)
	require.Len(t, cum, 3)
	assert.Zero(t, cum[0])
	assert.InDelta(t, 2*cum[1], cum[2], 1e-6)

	mid, brng := Interpolate(pts, cum, cum[1]/2)
	assert.InDelta(t, 0.5, mid.Lon, 1e-9)
	assert.InDelta(t, 90, brng, 1e-9)

	start, _ := Interpolate(pts, cum, -5)
	assert.Equal(t, pts[0], start)
	end, _ := Interpolate(pts, cum, cum[2]+100)
	assert.Equal(t, pts[2], end)
}

func TestCell(t *testing.T) {
	c := Cell(Point{Lat: 6.460660, Lon: 100.360458})
	assert.Len(t, c, 7)
	assert.Equal(t, c, Cell(Point{Lat: 6.460661, Lon: 100.360459}))
}
