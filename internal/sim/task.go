package sim

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fleetlab/gps-fleet-simulator/internal/models"
	"github.com/fleetlab/gps-fleet-simulator/internal/route"
	"github.com/fleetlab/gps-fleet-simulator/internal/telemetry"
)

// ErrAlreadyRunning is returned by Start when the task is already ticking.
var ErrAlreadyRunning = errors.New("simulation task already running")

// stopGrace bounds how long Stop waits for the tick loop to exit.
const stopGrace = 5 * time.Second

// VehicleSimulationTask drives one vehicle along its route. It owns the
// vehicle's runtime state exclusively and runs as its own goroutine, so no
// locking is needed in the tick path.
type VehicleSimulationTask struct {
	cfg       models.VehicleConfig
	route     *route.Route
	submitter telemetry.Submitter
	motion    *MotionModel
	stops     *StopController
	state     *vehicleState
	logger    *log.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	ticks         atomic.Int64
	failedSubmits atomic.Int64
	finalStatus   atomic.Value // models.VehicleStatus
	lastEmitted   atomic.Value // time.Time
}

// NewTask builds a task for one vehicle. The random source seeds the motion
// model's noise and speed variance; pass a fixed seed for deterministic runs.
func NewTask(cfg models.VehicleConfig, r *route.Route, submitter telemetry.Submitter, rng *rand.Rand) *VehicleSimulationTask {
	return &VehicleSimulationTask{
		cfg:       cfg,
		route:     r,
		submitter: submitter,
		motion:    NewMotionModel(r, cfg.SpeedKmh, cfg.Loop, rng),
		stops:     NewStopController(r, cfg.StopDuration, cfg.LoopPause, cfg.Loop),
		state:     newVehicleState(r),
		logger: log.WithFields(log.Fields{
			"vehicle_id": cfg.VehicleID,
			"route_id":   cfg.RouteID,
		}),
	}
}

// Config returns the task's immutable vehicle configuration.
func (t *VehicleSimulationTask) Config() models.VehicleConfig { return t.cfg }

// Ticks returns how many ticks the task has processed.
func (t *VehicleSimulationTask) Ticks() int64 { return t.ticks.Load() }

// FailedSubmits returns how many location submissions have failed so far.
func (t *VehicleSimulationTask) FailedSubmits() int64 { return t.failedSubmits.Load() }

// LastEmitted returns the timestamp of the most recent emitted update, or the
// zero time before the first tick.
func (t *VehicleSimulationTask) LastEmitted() time.Time {
	if v := t.lastEmitted.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// FinalStatus returns the terminal status once the task has ended, or the
// empty status while it is still running.
func (t *VehicleSimulationTask) FinalStatus() models.VehicleStatus {
	if v := t.finalStatus.Load(); v != nil {
		return v.(models.VehicleStatus)
	}
	return ""
}

// Start begins periodic ticking at the configured update interval. It fails
// with ErrAlreadyRunning if called while the task is ticking.
func (t *VehicleSimulationTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	t.logger.WithFields(log.Fields{
		"speed_kmh": t.cfg.SpeedKmh,
		"interval":  t.cfg.UpdateInterval,
		"waypoints": t.route.WaypointCount(),
		"stops":     len(t.route.Stops()),
	}).Info("Vehicle simulation started")

	go t.run(ctx)
	return nil
}

// Stop cancels future ticks and waits briefly for the loop to exit.
// It is idempotent and safe to call on a task that never started.
func (t *VehicleSimulationTask) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(stopGrace):
		t.logger.Warn("Timed out waiting for vehicle task to stop")
	}
}

func (t *VehicleSimulationTask) run(ctx context.Context) {
	defer func() {
		t.mu.Lock()
		t.running = false
		close(t.done)
		t.mu.Unlock()
	}()

	ticker := time.NewTicker(t.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.finalStatus.Store(models.StatusCancelled)
			t.logger.Info("Vehicle simulation cancelled")
			return
		case <-ticker.C:
			if !t.safeTick(ctx) {
				return
			}
		}
	}
}

// safeTick runs one tick with a panic barrier. A fault inside the tick is
// converted into a cancelled terminal state for this vehicle only; sibling
// tasks are unaffected. It returns false once the task reaches a terminal
// state.
func (t *VehicleSimulationTask) safeTick(ctx context.Context) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			t.state.status = models.StatusCancelled
			t.finalStatus.Store(models.StatusCancelled)
			t.logger.WithField("panic", r).Error("Tick panicked, cancelling vehicle")
			alive = false
		}
	}()

	update := t.step(t.cfg.UpdateInterval)
	t.submit(ctx, update)

	if update.Status == models.StatusCompleted {
		t.finalStatus.Store(models.StatusCompleted)
		t.logger.Info("Route completed")
		return false
	}
	return true
}

// step advances the simulation by one tick of the given duration and returns
// the update to emit. Ticks use the nominal interval as elapsed simulation
// time, matching the configured cadence.
func (t *VehicleSimulationTask) step(elapsed time.Duration) models.LocationUpdate {
	st := t.state
	t.ticks.Add(1)

	var speed float64
	switch st.status {
	case models.StatusStopped:
		if carry, released := t.stops.Tick(st, elapsed); released && st.status == models.StatusMoving {
			t.logger.Debug("Leaving stop")
			speed = t.motion.SampleSpeed()
			if carry > 0 && !t.stops.Clamp(st, carry) {
				t.motion.Advance(st, carry)
			}
		}
	case models.StatusMoving:
		speed = t.motion.SampleSpeed()
		meters := TickDistance(speed, elapsed)
		if t.stops.Clamp(st, meters) {
			t.logger.WithField("stop", t.route.Waypoint(st.stopWaypoint).StopName).Debug("Arrived at stop")
		} else {
			t.motion.Advance(st, meters)
		}
	}

	pos := st.position
	switch st.status {
	case models.StatusMoving:
		pos = t.motion.Noise(pos)
	default:
		// Stopped and terminal updates report the exact position, no
		// jitter, so consecutive stopped updates are identical.
		speed = 0
	}

	now := time.Now().UTC()
	t.lastEmitted.Store(now)
	return models.LocationUpdate{
		VehicleID: t.cfg.VehicleID,
		Latitude:  pos.Lat,
		Longitude: pos.Lon,
		Speed:     speed,
		Status:    st.status,
		Timestamp: now,
	}
}

// submit hands the update to the external submitter. Telemetry is
// best-effort: a failed submission is logged and counted, never fatal.
func (t *VehicleSimulationTask) submit(ctx context.Context, update models.LocationUpdate) {
	if err := t.submitter.SubmitLocation(ctx, update); err != nil {
		t.failedSubmits.Add(1)
		t.logger.WithError(err).Error("Failed to submit location")
		return
	}
	t.logger.WithFields(log.Fields{
		"lat":    update.Latitude,
		"lon":    update.Longitude,
		"speed":  update.Speed,
		"status": update.Status,
	}).Debug("Location submitted")
}
