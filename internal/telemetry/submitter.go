// Package telemetry holds the client side of the tracking backend boundary:
// registering vehicles and submitting location updates. The wire format is
// owned by the backend; everything here is fire-and-forget from the
// simulation's point of view.
package telemetry

import (
	"context"

	"github.com/fleetlab/gps-fleet-simulator/internal/models"
)

// Submitter delivers vehicle registrations and location updates to the
// tracking backend. Implementations must be safe for concurrent use by many
// vehicle tasks, and both operations must tolerate retried or dropped calls.
type Submitter interface {
	// RegisterVehicle announces a vehicle before its simulation starts.
	// Idempotent: registering an already-known vehicle is not an error.
	RegisterVehicle(ctx context.Context, cfg models.VehicleConfig) error

	// SubmitLocation hands off one emitted update. Called once per tick
	// per vehicle; the simulation makes a single attempt and moves on.
	SubmitLocation(ctx context.Context, update models.LocationUpdate) error
}
