package models

import "time"

// VehicleStatus is the lifecycle state reported with each location update.
type VehicleStatus string

const (
	StatusMoving    VehicleStatus = "moving"
	StatusStopped   VehicleStatus = "stopped"
	StatusCompleted VehicleStatus = "completed"
	StatusCancelled VehicleStatus = "cancelled"
)

// Terminal reports whether the status ends a vehicle's simulation.
func (s VehicleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// VehicleConfig describes one simulated vehicle. It is owned exclusively by a
// single simulation task once the task starts and must not change during a
// run; changing it requires restarting the task.
type VehicleConfig struct {
	VehicleID   string `json:"vehicle_id"`
	DriverName  string `json:"driver_name"`
	VehicleType string `json:"vehicle_type"`
	RouteID     string `json:"route_id"`
	Capacity    int    `json:"capacity,omitempty"`

	SpeedKmh       float64       `json:"-"`
	UpdateInterval time.Duration `json:"-"`
	StopDuration   time.Duration `json:"-"`
	LoopPause      time.Duration `json:"-"`
	Loop           bool          `json:"-"`
}

// LocationUpdate is the snapshot emitted once per tick per vehicle. It is
// never mutated after emission.
type LocationUpdate struct {
	VehicleID string        `json:"vehicle_id"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Speed     float64       `json:"speed"`
	Status    VehicleStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}
