package collator

import (
	"sync"

	"github.com/edaniels/golog"

	"github.com/cartograph-go/cartograph/sensor"
)

// trajectoryCollator orders sensor data within each trajectory
// independently; trajectories never block one another.
type trajectoryCollator struct {
	mu       sync.Mutex
	logger   golog.Logger
	queues   map[int]*multiQueue
	finished map[int]bool
}

// NewTrajectoryCollator returns the per-trajectory collation strategy.
func NewTrajectoryCollator(logger golog.Logger) Collator {
	return &trajectoryCollator{
		logger:   logger,
		queues:   map[int]*multiQueue{},
		finished: map[int]bool{},
	}
}

func (c *trajectoryCollator) AddTrajectory(trajectoryID int, expectedSensorIDs map[string]bool, cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished[trajectoryID] {
		panic("collator: trajectory already finished")
	}
	if _, ok := c.queues[trajectoryID]; ok {
		panic("collator: trajectory already added")
	}
	mq := newMultiQueue(c.logger)
	for sensorID := range expectedSensorIDs {
		mq.addQueue(queueKey{trajectoryID, sensorID}, cb)
	}
	c.queues[trajectoryID] = mq
}

func (c *trajectoryCollator) FinishTrajectory(trajectoryID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	mq, ok := c.queues[trajectoryID]
	if !ok {
		if c.finished[trajectoryID] {
			return finishedTrajectoryError(trajectoryID)
		}
		return errUnknownTrajectory
	}
	c.finished[trajectoryID] = true
	mq.markAllFinished(trajectoryID)
	delete(c.queues, trajectoryID)
	return nil
}

func (c *trajectoryCollator) AddSensorData(trajectoryID int, data sensor.Data) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	mq, ok := c.queues[trajectoryID]
	if !ok {
		if c.finished[trajectoryID] {
			return finishedTrajectoryError(trajectoryID)
		}
		return errUnknownTrajectory
	}
	return mq.add(queueKey{trajectoryID, data.SensorID()}, data)
}

func (c *trajectoryCollator) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, mq := range c.queues {
		mq.flush()
	}
}
