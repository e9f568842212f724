package sim

import (
	"time"

	"github.com/fleetlab/gps-fleet-simulator/internal/models"
	"github.com/fleetlab/gps-fleet-simulator/internal/route"
)

// StopController tracks whether a vehicle is halted at a scheduled stop and
// for how much longer. It runs before the motion model each tick: a tick
// whose advance would reach or pass a stop waypoint is clamped to land
// exactly on it, so stops are never skipped by coarse tick granularity.
type StopController struct {
	route        *route.Route
	stopDuration time.Duration
	loopPause    time.Duration
	loop         bool
}

func NewStopController(r *route.Route, stopDuration, loopPause time.Duration, loop bool) *StopController {
	return &StopController{route: r, stopDuration: stopDuration, loopPause: loopPause, loop: loop}
}

// Clamp walks the waypoint boundaries the proposed advance would cross. If
// one of them is a scheduled stop (or the end of a looping circuit with a
// configured pause), the vehicle is halted exactly at that waypoint, the
// un-traveled remainder is recorded, and true is returned. The caller must
// not invoke the motion model for a clamped tick.
func (c *StopController) Clamp(st *vehicleState, meters float64) bool {
	remaining := meters
	seg := st.segment
	into := st.intoSegment
	last := c.route.SegmentCount()

	// Two full laps bound the scan; a looping route with any stop halts
	// within one lap and the motion model handles the rest.
	for hops := 0; remaining > 0 && hops < 2*last+2; hops++ {
		left := c.route.SegmentDistance(seg) - into
		if remaining < left {
			return false
		}

		boundary := seg + 1
		hold := time.Duration(0)
		switch {
		case c.route.IsStop(boundary):
			hold = c.stopDuration
		case boundary == last && c.loop && c.loopPause > 0:
			hold = c.loopPause
		}
		if hold > 0 {
			st.segment = seg
			st.intoSegment = c.route.SegmentDistance(seg)
			st.position = c.route.Waypoint(boundary).Coordinate
			st.status = models.StatusStopped
			st.stopWaypoint = boundary
			st.stopRemaining = hold
			st.carryover = remaining - left
			return true
		}

		if boundary == last {
			if !c.loop {
				return false
			}
			seg = 0
		} else {
			seg = boundary
		}
		into = 0
		remaining -= left
	}
	return false
}

// Tick processes one tick while the vehicle is stopped, decrementing the
// remaining hold by the elapsed time. Once the hold expires the vehicle is
// released past the stop waypoint and the clamped tick's carried-over
// distance is returned for the motion model to apply.
func (c *StopController) Tick(st *vehicleState, elapsed time.Duration) (carryMeters float64, released bool) {
	st.stopRemaining -= elapsed
	if st.stopRemaining > 0 {
		return 0, false
	}
	st.stopRemaining = 0

	if st.stopWaypoint >= c.route.SegmentCount() {
		// Halted at the final waypoint.
		if !c.loop {
			st.status = models.StatusCompleted
			return 0, true
		}
		st.segment = 0
	} else {
		st.segment = st.stopWaypoint
	}
	st.intoSegment = 0
	st.position = c.route.Waypoint(st.segment).Coordinate
	st.status = models.StatusMoving

	carryMeters = st.carryover
	st.carryover = 0
	return carryMeters, true
}
