// Package routes holds the fixed stop sequence of every shuttle route.
package routes

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"unimap-shuttle/internal/geo"
	"unimap-shuttle/internal/shuttle"
)

//go:embed stops.yaml
var stopsYAML []byte

type Stop struct {
	Name      string  `yaml:"name" json:"name"`
	Latitude  float64 `yaml:"lat" json:"latitude"`
	Longitude float64 `yaml:"lon" json:"longitude"`
}

func (s Stop) Point() geo.Point { return geo.Point{Lat: s.Latitude, Lon: s.Longitude} }

type table struct {
	Routes []struct {
		Name  string `yaml:"name"`
		Stops []Stop `yaml:"stops"`
	} `yaml:"routes"`
}

var (
	loadOnce sync.Once
	byRoute  map[shuttle.Route][]Stop
	loadErr  error
)

// Parse decodes a stop table and checks every route has at least two stops.
func Parse(data []byte) (map[shuttle.Route][]Stop, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse stop table: %w", err)
	}
	out := make(map[shuttle.Route][]Stop, len(t.Routes))
	for _, r := range t.Routes {
		route, err := shuttle.ParseRoute(r.Name)
		if err != nil {
			return nil, err
		}
		if len(r.Stops) < 2 {
			return nil, fmt.Errorf("route %s: need at least 2 stops, got %d", route, len(r.Stops))
		}
		out[route] = r.Stops
	}
	return out, nil
}

func load() {
	byRoute, loadErr = Parse(stopsYAML)
	if loadErr == nil {
		for _, r := range shuttle.Routes {
			if _, ok := byRoute[r]; !ok {
				loadErr = fmt.Errorf("stop table has no entry for %s", r)
				return
			}
		}
	}
}

// Stops returns a copy of the ordered stops for route.
func Stops(route shuttle.Route) ([]Stop, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}
	stops, ok := byRoute[route]
	if !ok {
		return nil, fmt.Errorf("no stops for route %q", route)
	}
	return append([]Stop(nil), stops...), nil
}

// MustStops is Stops for callers that treat the embedded table as static.
func MustStops(route shuttle.Route) []Stop {
	s, err := Stops(route)
	if err != nil {
		panic(err)
	}
	return s
}

// Polyline returns the stops as geo points, for simulation and distance math.
func Polyline(stops []Stop) []geo.Point {
	pts := make([]geo.Point, len(stops))
	for i, s := range stops {
		pts[i] = s.Point()
	}
	return pts
}
