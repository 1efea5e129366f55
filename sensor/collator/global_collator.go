package collator

import (
	"sync"

	"github.com/edaniels/golog"

	"github.com/cartograph-go/cartograph/sensor"
)

// globalCollator interleaves all trajectories' sensors through one ordering
// structure: an empty queue on any trajectory blocks dispatch everywhere
// until data arrives or the trajectory finishes.
type globalCollator struct {
	mu       sync.Mutex
	logger   golog.Logger
	mq       *multiQueue
	finished map[int]bool
}

// NewCollator returns the cross-trajectory collation strategy.
func NewCollator(logger golog.Logger) Collator {
	return &globalCollator{
		logger:   logger,
		mq:       newMultiQueue(logger),
		finished: map[int]bool{},
	}
}

func (c *globalCollator) AddTrajectory(trajectoryID int, expectedSensorIDs map[string]bool, cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished[trajectoryID] || c.mq.hasTrajectory(trajectoryID) {
		panic("collator: trajectory already added")
	}
	for sensorID := range expectedSensorIDs {
		c.mq.addQueue(queueKey{trajectoryID, sensorID}, cb)
	}
}

func (c *globalCollator) FinishTrajectory(trajectoryID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished[trajectoryID] {
		return finishedTrajectoryError(trajectoryID)
	}
	if !c.mq.hasTrajectory(trajectoryID) {
		return errUnknownTrajectory
	}
	c.finished[trajectoryID] = true
	c.mq.markAllFinished(trajectoryID)
	return nil
}

func (c *globalCollator) AddSensorData(trajectoryID int, data sensor.Data) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished[trajectoryID] {
		return finishedTrajectoryError(trajectoryID)
	}
	return c.mq.add(queueKey{trajectoryID, data.SensorID()}, data)
}

func (c *globalCollator) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mq.flush()
}
