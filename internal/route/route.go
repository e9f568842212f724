package route

import (
	"errors"
	"fmt"

	"github.com/fleetlab/gps-fleet-simulator/internal/geo"
)

// ErrInvalidRoute is returned when a route cannot be constructed from the
// given waypoints.
var ErrInvalidRoute = errors.New("invalid route")

// Waypoint is a fixed point along a route, optionally a scheduled stop.
type Waypoint struct {
	geo.Coordinate
	StopName string `json:"stop_name,omitempty"`
	IsStop   bool   `json:"is_stop,omitempty"`
}

// Route is an ordered sequence of waypoints with per-segment distances
// precomputed at build time. Immutable after construction, so it is safe
// for concurrent reads by any number of vehicle tasks.
type Route struct {
	id        string
	name      string
	waypoints []Waypoint
	segments  []float64 // meters, segments[i] connects waypoint i to i+1
	total     float64
}

// Build validates the waypoints and constructs a route. It fails with
// ErrInvalidRoute when fewer than 2 waypoints are given or any coordinate
// is out of range.
func Build(id, name string, waypoints []Waypoint) (*Route, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 waypoints, got %d", ErrInvalidRoute, len(waypoints))
	}
	for i, wp := range waypoints {
		if !wp.Valid() {
			return nil, fmt.Errorf("%w: waypoint %d out of range (%.6f, %.6f)", ErrInvalidRoute, i, wp.Lat, wp.Lon)
		}
	}

	r := &Route{
		id:        id,
		name:      name,
		waypoints: append([]Waypoint(nil), waypoints...),
		segments:  make([]float64, len(waypoints)-1),
	}
	for i := 0; i < len(waypoints)-1; i++ {
		d := geo.Distance(waypoints[i].Coordinate, waypoints[i+1].Coordinate)
		r.segments[i] = d
		r.total += d
	}
	return r, nil
}

// ID returns the route identifier.
func (r *Route) ID() string { return r.id }

// Name returns the human-readable route name.
func (r *Route) Name() string { return r.name }

// SegmentCount returns the number of segments, one less than the waypoint count.
func (r *Route) SegmentCount() int { return len(r.segments) }

// SegmentDistance returns the precomputed length of segment i in meters.
func (r *Route) SegmentDistance(i int) float64 { return r.segments[i] }

// TotalDistance returns the route length in meters.
func (r *Route) TotalDistance() float64 { return r.total }

// Waypoint returns the waypoint at the given index.
func (r *Route) Waypoint(i int) Waypoint { return r.waypoints[i] }

// WaypointCount returns the number of waypoints.
func (r *Route) WaypointCount() int { return len(r.waypoints) }

// IsStop reports whether the waypoint at the given index is a scheduled stop.
func (r *Route) IsStop(i int) bool {
	return i >= 0 && i < len(r.waypoints) && r.waypoints[i].IsStop
}

// Stops returns the indexes of all stop-flagged waypoints.
func (r *Route) Stops() []int {
	var out []int
	for i, wp := range r.waypoints {
		if wp.IsStop {
			out = append(out, i)
		}
	}
	return out
}

// Decimate thins dense waypoint traces before Build, keeping every step-th
// waypoint plus the endpoints and every scheduled stop. step <= 1 returns
// the input unchanged.
func Decimate(waypoints []Waypoint, step int) []Waypoint {
	if step <= 1 || len(waypoints) <= 2 {
		return waypoints
	}
	out := make([]Waypoint, 0, len(waypoints)/step+2)
	last := len(waypoints) - 1
	for i, wp := range waypoints {
		if i == 0 || i == last || wp.IsStop || i%step == 0 {
			out = append(out, wp)
		}
	}
	return out
}
