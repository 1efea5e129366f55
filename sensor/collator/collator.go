// Package collator merges sensor streams from one or more trajectories and
// dispatches them to per-trajectory callbacks in timestamp order.
package collator

import (
	"github.com/pkg/errors"

	"github.com/cartograph-go/cartograph/sensor"
)

// Callback receives collated sensor data for one trajectory in
// non-decreasing timestamp order per sensor stream.
type Callback func(sensorID string, data sensor.Data)

// Collator merges tagged sensor records and dispatches them per trajectory.
// Implementations serialize all calls internally; producers on different
// goroutines are safe.
type Collator interface {
	// AddTrajectory starts collation for a trajectory expecting exactly the
	// given sensor ids. Re-adding a known trajectory is a programmer error.
	AddTrajectory(trajectoryID int, expectedSensorIDs map[string]bool, cb Callback)

	// FinishTrajectory flushes a trajectory's queues and disables further
	// dispatch for it.
	FinishTrajectory(trajectoryID int) error

	// AddSensorData routes one record to its trajectory's queue. Dispatch to
	// a finished or unknown trajectory fails.
	AddSensorData(trajectoryID int, data sensor.Data) error

	// Flush dispatches everything still queued, ignoring cross-stream
	// blocking.
	Flush()
}

var errUnknownTrajectory = errors.New("collator: unknown trajectory")

func finishedTrajectoryError(trajectoryID int) error {
	return errors.Errorf("collator: trajectory %d already finished", trajectoryID)
}
