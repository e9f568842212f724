package sim

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetlab/gps-fleet-simulator/internal/models"
)

// captureSubmitter records everything submitted; optionally it fails or
// panics to exercise the error paths.
type captureSubmitter struct {
	mu           sync.Mutex
	registered   []models.VehicleConfig
	updates      []models.LocationUpdate
	failFor      string // vehicle id whose submissions always fail
	panicFor     string // vehicle id whose submissions panic
	failRegister bool
}

func (s *captureSubmitter) RegisterVehicle(_ context.Context, cfg models.VehicleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRegister {
		return errors.New("backend unavailable")
	}
	s.registered = append(s.registered, cfg)
	return nil
}

func (s *captureSubmitter) SubmitLocation(_ context.Context, update models.LocationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if update.VehicleID == s.panicFor {
		panic("submitter blew up")
	}
	if update.VehicleID == s.failFor {
		return errors.New("connection refused")
	}
	s.updates = append(s.updates, update)
	return nil
}

func (s *captureSubmitter) updatesFor(vehicleID string) []models.LocationUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LocationUpdate
	for _, u := range s.updates {
		if u.VehicleID == vehicleID {
			out = append(out, u)
		}
	}
	return out
}

func busConfig(id string, loop bool) models.VehicleConfig {
	return models.VehicleConfig{
		VehicleID:      id,
		DriverName:     "John Doe",
		VehicleType:    "bus",
		RouteID:        "TEST-R",
		SpeedKmh:       30,
		UpdateInterval: 4 * time.Second,
		StopDuration:   10 * time.Second,
		Loop:           loop,
	}
}

// End-to-end run: 3 waypoints, the middle one a stop. The vehicle must
// halt exactly on the stop for at least the stop duration, resume, and
// finish at the last waypoint.
func TestScenarioStopThenComplete(t *testing.T) {
	r := stopRoute(t)
	sub := &captureSubmitter{}
	task := NewTask(busConfig("BUS-01", false), r, sub, rand.New(rand.NewSource(42)))

	var updates []models.LocationUpdate
	for i := 0; i < 500; i++ {
		u := task.step(4 * time.Second)
		updates = append(updates, u)
		if u.Status == models.StatusCompleted {
			break
		}
	}

	var stopped []models.LocationUpdate
	completedAt := -1
	for i, u := range updates {
		switch u.Status {
		case models.StatusStopped:
			stopped = append(stopped, u)
		case models.StatusCompleted:
			require.Equal(t, -1, completedAt, "completed must be reported once")
			completedAt = i
		}
	}

	require.NotEmpty(t, stopped, "vehicle never reached the stop")
	require.NotEqual(t, -1, completedAt, "vehicle never completed the route")

	// Halted exactly on the stop waypoint, zero speed, frozen position.
	stopWp := r.Waypoint(1)
	for _, u := range stopped {
		assert.Equal(t, stopWp.Lat, u.Latitude)
		assert.Equal(t, stopWp.Lon, u.Longitude)
		assert.Zero(t, u.Speed)
	}

	// Held for at least the configured stop duration: arrival tick plus
	// enough 4s ticks to burn through 10s.
	held := time.Duration(len(stopped)) * 4 * time.Second
	assert.GreaterOrEqual(t, held, 10*time.Second)

	// Finished at the last waypoint.
	last := r.Waypoint(2)
	final := updates[completedAt]
	assert.InDelta(t, last.Lat, final.Latitude, 1e-9)
	assert.InDelta(t, last.Lon, final.Longitude, 1e-9)
	assert.Zero(t, final.Speed)
}

func TestMovingUpdatesRespectSpeedBounds(t *testing.T) {
	r := shortSegmentRoute(t)
	sub := &captureSubmitter{}
	task := NewTask(busConfig("BUS-01", true), r, sub, rand.New(rand.NewSource(3)))

	for i := 0; i < 200; i++ {
		u := task.step(time.Second)
		if u.Status == models.StatusMoving {
			assert.GreaterOrEqual(t, u.Speed, 27.0)
			assert.LessOrEqual(t, u.Speed, 33.0)
		}
	}
}

// The tick that releases a vehicle from a stop reports status moving, so it
// must carry a sampled speed like any other moving update, not the zero of
// the halted ticks before it.
func TestSpeedBoundsHoldAcrossStopRelease(t *testing.T) {
	r := stopRoute(t)
	sub := &captureSubmitter{}
	task := NewTask(busConfig("BUS-01", false), r, sub, rand.New(rand.NewSource(7)))

	releases := 0
	prev := models.VehicleStatus("")
	for i := 0; i < 500; i++ {
		u := task.step(4 * time.Second)
		if u.Status == models.StatusMoving {
			assert.GreaterOrEqual(t, u.Speed, 27.0)
			assert.LessOrEqual(t, u.Speed, 33.0)
			if prev == models.StatusStopped {
				releases++
			}
		}
		if u.Status == models.StatusCompleted {
			break
		}
		prev = u.Status
	}
	require.Greater(t, releases, 0, "no stop release was observed")
}

func TestLastEmittedTracksUpdates(t *testing.T) {
	r := shortSegmentRoute(t)
	task := NewTask(busConfig("BUS-01", true), r, &captureSubmitter{}, rand.New(rand.NewSource(2)))

	assert.True(t, task.LastEmitted().IsZero())

	u := task.step(time.Second)
	assert.Equal(t, u.Timestamp, task.LastEmitted())

	u = task.step(time.Second)
	assert.Equal(t, u.Timestamp, task.LastEmitted())
}

func TestLoopingRouteNeverCompletes(t *testing.T) {
	r := shortSegmentRoute(t)
	sub := &captureSubmitter{}
	task := NewTask(busConfig("BUS-01", true), r, sub, rand.New(rand.NewSource(5)))

	lapMeters := r.TotalDistance()
	// Enough ticks at ~8.3 m/s to lap the 333 m circuit many times over.
	ticks := int(lapMeters) // each 4s tick covers ~33 m
	for i := 0; i < ticks; i++ {
		u := task.step(4 * time.Second)
		require.NotEqual(t, models.StatusCompleted, u.Status)
	}
	assert.Equal(t, int64(ticks), task.Ticks())
}

func TestSubmitFailureNeverHaltsTask(t *testing.T) {
	r := shortSegmentRoute(t)
	sub := &captureSubmitter{failFor: "BUS-01"}
	task := NewTask(busConfig("BUS-01", true), r, sub, rand.New(rand.NewSource(9)))

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		task.submit(ctx, task.step(time.Second))
	}

	assert.Equal(t, int64(20), task.Ticks())
	assert.Equal(t, int64(20), task.FailedSubmits())
}

func TestDeterministicReplay(t *testing.T) {
	r := stopRoute(t)
	a := NewTask(busConfig("BUS-01", false), r, &captureSubmitter{}, rand.New(rand.NewSource(1234)))
	b := NewTask(busConfig("BUS-01", false), r, &captureSubmitter{}, rand.New(rand.NewSource(1234)))

	for i := 0; i < 100; i++ {
		ua := a.step(4 * time.Second)
		ub := b.step(4 * time.Second)
		assert.Equal(t, ua.Latitude, ub.Latitude)
		assert.Equal(t, ua.Longitude, ub.Longitude)
		assert.Equal(t, ua.Speed, ub.Speed)
		assert.Equal(t, ua.Status, ub.Status)
	}
}

func TestStartTwiceFails(t *testing.T) {
	r := shortSegmentRoute(t)
	cfg := busConfig("BUS-01", true)
	cfg.UpdateInterval = 10 * time.Millisecond
	task := NewTask(cfg, r, &captureSubmitter{}, rand.New(rand.NewSource(1)))

	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()

	assert.ErrorIs(t, task.Start(context.Background()), ErrAlreadyRunning)
}

func TestStartStopLifecycle(t *testing.T) {
	r := shortSegmentRoute(t)
	cfg := busConfig("BUS-01", true)
	cfg.UpdateInterval = 5 * time.Millisecond
	sub := &captureSubmitter{}
	task := NewTask(cfg, r, sub, rand.New(rand.NewSource(1)))

	require.NoError(t, task.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)

	task.Stop()
	assert.Equal(t, models.StatusCancelled, task.FinalStatus())
	assert.Greater(t, task.Ticks(), int64(0))
	assert.NotEmpty(t, sub.updatesFor("BUS-01"))

	// Idempotent: stopping again (or a never-started task) is harmless.
	task.Stop()
	NewTask(cfg, r, sub, rand.New(rand.NewSource(1))).Stop()
}
