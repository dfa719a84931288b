package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"
)

const earthRadiusM = 6371000.0

// geohash precision 7 is roughly a 150 m cell, about one stop's catchment.
const cellPrecision = 7

type Point struct {
	Lat float64
	Lon float64
}

// DistanceMeters is the great-circle (haversine) distance between two points.
func DistanceMeters(a, b Point) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// BearingDeg is the initial compass bearing from a to b in [0, 360).
func BearingDeg(a, b Point) float64 {
	y := math.Sin((b.Lon-a.Lon)*math.Pi/180.0) * math.Cos(b.Lat*math.Pi/180.0)
	x := math.Cos(a.Lat*math.Pi/180.0)*math.Sin(b.Lat*math.Pi/180.0) - math.Sin(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*math.Cos((b.Lon-a.Lon)*math.Pi/180.0)
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// Cell returns the geohash cell containing p, used by map clients to bucket
// markers.
func Cell(p Point) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lon, cellPrecision)
}

// CumDistances returns the running distance along a polyline, starting at 0.
func CumDistances(pts []Point) []float64 {
	n := len(pts)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	for i := 1; i < n; i++ {
		cum[i] = cum[i-1] + DistanceMeters(pts[i-1], pts[i])
	}
	return cum
}

// Interpolate walks dist meters along the polyline and returns the point
// reached and the bearing of the segment it lies on.
func Interpolate(pts []Point, cum []float64, dist float64) (Point, float64) {
	n := len(pts)
	if n == 0 {
		return Point{}, 0
	}
	if n == 1 || cum[n-1] == 0 {
		return pts[0], 0
	}
	if dist <= 0 {
		return pts[0], BearingDeg(pts[0], pts[1])
	}
	if dist >= cum[n-1] {
		return pts[n-1], BearingDeg(pts[n-2], pts[n-1])
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	p0, p1 := pts[i-1], pts[i]
	d0, d1 := cum[i-1], cum[i]
	if d1 == d0 {
		return p0, BearingDeg(p0, p1)
	}
	frac := (dist - d0) / (d1 - d0)
	return Point{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lon: p0.Lon + (p1.Lon-p0.Lon)*frac,
	}, BearingDeg(p0, p1)
}
