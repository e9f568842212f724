package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/fleetlab/gps-fleet-simulator/internal/geo"
	"github.com/fleetlab/gps-fleet-simulator/internal/models"
	"github.com/fleetlab/gps-fleet-simulator/internal/route"
)

const (
	// Instantaneous speed varies up to this much around the cruise speed,
	// drawn uniformly each tick.
	speedVarianceKmh = 3.0

	// GPS jitter radius applied to emitted positions.
	noiseRadiusM = 5.0
)

// vehicleState is the mutable runtime state of one simulated vehicle.
// Exactly one task owns it; it is never shared or read from outside.
type vehicleState struct {
	segment     int
	intoSegment float64 // meters covered on the current segment
	position    geo.Coordinate
	status      models.VehicleStatus

	// Stop bookkeeping, managed by StopController.
	stopWaypoint  int
	stopRemaining time.Duration
	carryover     float64 // un-traveled meters from the tick clamped at a stop
}

func newVehicleState(r *route.Route) *vehicleState {
	return &vehicleState{
		status:   models.StatusMoving,
		position: r.Waypoint(0).Coordinate,
	}
}

// MotionModel advances a vehicle's runtime state along its route. The random
// source is injected so runs can be replayed deterministically. Not safe for
// concurrent use; each vehicle task owns its own model.
type MotionModel struct {
	route    *route.Route
	speedKmh float64
	loop     bool
	rng      *rand.Rand
}

func NewMotionModel(r *route.Route, speedKmh float64, loop bool, rng *rand.Rand) *MotionModel {
	return &MotionModel{route: r, speedKmh: speedKmh, loop: loop, rng: rng}
}

// SampleSpeed draws this tick's instantaneous speed in km/h, clamped to be
// non-negative.
func (m *MotionModel) SampleSpeed() float64 {
	v := m.speedKmh + (m.rng.Float64()*2-1)*speedVarianceKmh
	return math.Max(0, v)
}

// TickDistance converts a sampled speed and elapsed tick duration into meters
// to advance.
func TickDistance(speedKmh float64, elapsed time.Duration) float64 {
	return speedKmh / 3.6 * elapsed.Seconds()
}

// Advance moves the state forward by the given number of meters, carrying the
// remainder across segment boundaries. Past the last segment it either wraps
// to segment 0 (looping routes) or marks the vehicle completed at the final
// waypoint. The un-noised interpolated position is stored on the state.
func (m *MotionModel) Advance(st *vehicleState, meters float64) {
	remaining := meters
	total := m.route.TotalDistance()
	if m.loop && total > 0 && remaining > total {
		// A huge tick only needs its position within the final lap.
		remaining = math.Mod(remaining, total)
	}

	for remaining > 0 {
		left := m.route.SegmentDistance(st.segment) - st.intoSegment
		if remaining < left {
			st.intoSegment += remaining
			break
		}
		remaining -= left
		st.segment++
		st.intoSegment = 0
		if st.segment >= m.route.SegmentCount() {
			if m.loop {
				st.segment = 0
				if total == 0 {
					break
				}
				continue
			}
			// Rest at the end of the final segment.
			st.segment = m.route.SegmentCount() - 1
			st.intoSegment = m.route.SegmentDistance(st.segment)
			st.status = models.StatusCompleted
			break
		}
	}
	st.position = m.interpolate(st)
}

// interpolate returns the true position for the current segment progress.
func (m *MotionModel) interpolate(st *vehicleState) geo.Coordinate {
	a := m.route.Waypoint(st.segment)
	b := m.route.Waypoint(st.segment + 1)
	length := m.route.SegmentDistance(st.segment)
	if length == 0 {
		return b.Coordinate
	}
	frac := st.intoSegment / length
	if frac > 1 {
		frac = 1
	}
	return geo.InterpolatePoint(a.Coordinate, b.Coordinate, frac)
}

// Noise returns the position displaced by up to noiseRadiusM meters in a
// random direction. It only decorates the emitted copy; the stored state and
// segment membership are never derived from the noisy coordinate.
func (m *MotionModel) Noise(p geo.Coordinate) geo.Coordinate {
	bearing := m.rng.Float64() * 360
	radius := m.rng.Float64() * noiseRadiusM
	return geo.Offset(p, bearing, radius)
}
