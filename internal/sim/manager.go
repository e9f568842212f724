package sim

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fleetlab/gps-fleet-simulator/internal/models"
	"github.com/fleetlab/gps-fleet-simulator/internal/route"
	"github.com/fleetlab/gps-fleet-simulator/internal/telemetry"
)

var (
	ErrDuplicateVehicle = errors.New("vehicle already exists")
	ErrVehicleNotFound  = errors.New("vehicle not found")
	ErrRouteNotFound    = errors.New("route not found")
)

// SimulationManager supervises the set of vehicle simulation tasks. It only
// guards its registries; task-internal state stays exclusively owned by each
// task, so a fault or slow submission in one vehicle never touches another.
type SimulationManager struct {
	submitter telemetry.Submitter

	// Seed feeds each task's random source (mixed with the vehicle id).
	// Set it before adding vehicles for reproducible runs.
	Seed int64

	// StartStagger spaces out task starts in StartAll, like the original
	// fleet bring-up. Zero starts everything at once.
	StartStagger time.Duration

	mu     sync.Mutex
	routes map[string]*route.Route
	tasks  map[string]*VehicleSimulationTask
}

func NewManager(submitter telemetry.Submitter) *SimulationManager {
	return &SimulationManager{
		submitter: submitter,
		Seed:      time.Now().UnixNano(),
		routes:    make(map[string]*route.Route),
		tasks:     make(map[string]*VehicleSimulationTask),
	}
}

// AddRoute registers a route so vehicles can reference it by id.
func (m *SimulationManager) AddRoute(r *route.Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[r.ID()] = r
}

// AddVehicle registers the vehicle with the tracking backend and creates its
// simulation task. A nil route is resolved from cfg.RouteID against routes
// previously added with AddRoute. The task is created but not started.
func (m *SimulationManager) AddVehicle(ctx context.Context, cfg models.VehicleConfig, r *route.Route) (*VehicleSimulationTask, error) {
	m.mu.Lock()
	if _, exists := m.tasks[cfg.VehicleID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVehicle, cfg.VehicleID)
	}
	if r == nil {
		r = m.routes[cfg.RouteID]
	}
	m.mu.Unlock()
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, cfg.RouteID)
	}

	if err := m.submitter.RegisterVehicle(ctx, cfg); err != nil {
		return nil, fmt.Errorf("register vehicle %s: %w", cfg.VehicleID, err)
	}

	task := NewTask(cfg, r, m.submitter, rand.New(rand.NewSource(m.taskSeed(cfg.VehicleID))))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[cfg.VehicleID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVehicle, cfg.VehicleID)
	}
	m.tasks[cfg.VehicleID] = task

	log.WithFields(log.Fields{
		"vehicle_id": cfg.VehicleID,
		"driver":     cfg.DriverName,
		"route_id":   r.ID(),
	}).Info("Vehicle added")
	return task, nil
}

// RemoveVehicle stops the vehicle's task and discards it.
func (m *SimulationManager) RemoveVehicle(vehicleID string) error {
	m.mu.Lock()
	task, ok := m.tasks[vehicleID]
	if ok {
		delete(m.tasks, vehicleID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrVehicleNotFound, vehicleID)
	}
	task.Stop()
	log.WithField("vehicle_id", vehicleID).Info("Vehicle removed")
	return nil
}

// Vehicle returns the task for a vehicle id.
func (m *SimulationManager) Vehicle(vehicleID string) (*VehicleSimulationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[vehicleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVehicleNotFound, vehicleID)
	}
	return task, nil
}

// VehicleCount returns the number of registered tasks.
func (m *SimulationManager) VehicleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// StartAll starts every task that is not already running, spacing starts by
// StartStagger. Tasks that were started earlier are left alone.
func (m *SimulationManager) StartAll(ctx context.Context) {
	for i, task := range m.snapshot() {
		if i > 0 && m.StartStagger > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.StartStagger):
			}
		}
		if err := task.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			log.WithError(err).WithField("vehicle_id", task.Config().VehicleID).Error("Failed to start vehicle")
		}
	}
	log.WithField("vehicles", m.VehicleCount()).Info("Simulation started")
}

// StopAll stops every task and waits for each to wind down.
func (m *SimulationManager) StopAll() {
	tasks := m.snapshot()
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(t *VehicleSimulationTask) {
			defer wg.Done()
			t.Stop()
		}(task)
	}
	wg.Wait()
	log.WithField("vehicles", len(tasks)).Info("Simulation stopped")
}

func (m *SimulationManager) snapshot() []*VehicleSimulationTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*VehicleSimulationTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out
}

func (m *SimulationManager) taskSeed(vehicleID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(vehicleID))
	return m.Seed ^ int64(h.Sum64())
}
