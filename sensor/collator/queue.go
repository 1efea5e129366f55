package collator

import (
	"sort"
	"time"

	"github.com/edaniels/golog"

	"github.com/cartograph-go/cartograph/sensor"
)

type queueKey struct {
	trajectoryID int
	sensorID     string
}

type queue struct {
	items          []sensor.Data
	finished       bool
	lastDispatched time.Time
	cb             Callback
}

// multiQueue orders records across a set of keyed queues. A queue that is
// empty but not finished blocks dispatch, which bounds cross-stream skew to
// whatever the producers feed in.
type multiQueue struct {
	logger golog.Logger
	queues map[queueKey]*queue
}

func newMultiQueue(logger golog.Logger) *multiQueue {
	return &multiQueue{logger: logger, queues: map[queueKey]*queue{}}
}

func (mq *multiQueue) addQueue(key queueKey, cb Callback) {
	if _, ok := mq.queues[key]; ok {
		panic("collator: duplicate queue " + key.sensorID)
	}
	mq.queues[key] = &queue{cb: cb}
}

func (mq *multiQueue) markAllFinished(trajectoryID int) {
	for key, q := range mq.queues {
		if key.trajectoryID == trajectoryID {
			q.finished = true
		}
	}
	mq.dispatch()
	for key, q := range mq.queues {
		if key.trajectoryID == trajectoryID && len(q.items) == 0 {
			delete(mq.queues, key)
		}
	}
}

func (mq *multiQueue) hasTrajectory(trajectoryID int) bool {
	for key := range mq.queues {
		if key.trajectoryID == trajectoryID {
			return true
		}
	}
	return false
}

func (mq *multiQueue) add(key queueKey, data sensor.Data) error {
	q, ok := mq.queues[key]
	if !ok {
		return errUnknownTrajectory
	}
	if q.finished {
		return finishedTrajectoryError(key.trajectoryID)
	}
	if data.Time().Before(q.lastDispatched) {
		mq.logger.Warnw("dropping out-of-order sensor data",
			"sensor", key.sensorID, "trajectory", key.trajectoryID, "time", data.Time())
		return nil
	}
	q.items = append(q.items, data)
	mq.dispatch()
	return nil
}

// dispatch pops the lowest-timestamp head for as long as no unfinished
// queue is empty.
func (mq *multiQueue) dispatch() {
	for {
		var bestKey queueKey
		var best *queue
		for key, q := range mq.queues {
			if len(q.items) == 0 {
				if !q.finished {
					return
				}
				continue
			}
			if best == nil || q.items[0].Time().Before(best.items[0].Time()) ||
				(q.items[0].Time().Equal(best.items[0].Time()) && lessKey(key, bestKey)) {
				best, bestKey = q, key
			}
		}
		if best == nil {
			return
		}
		mq.pop(bestKey, best)
	}
}

// flush dispatches all remaining items in timestamp order, ignoring
// blocking on empty queues.
func (mq *multiQueue) flush() {
	type head struct {
		key queueKey
		q   *queue
	}
	for {
		var heads []head
		for key, q := range mq.queues {
			if len(q.items) > 0 {
				heads = append(heads, head{key, q})
			}
		}
		if len(heads) == 0 {
			return
		}
		sort.Slice(heads, func(i, j int) bool {
			ti, tj := heads[i].q.items[0].Time(), heads[j].q.items[0].Time()
			if ti.Equal(tj) {
				return lessKey(heads[i].key, heads[j].key)
			}
			return ti.Before(tj)
		})
		mq.pop(heads[0].key, heads[0].q)
	}
}

func (mq *multiQueue) pop(key queueKey, q *queue) {
	data := q.items[0]
	q.items = q.items[1:]
	q.lastDispatched = data.Time()
	q.cb(key.sensorID, data)
}

func lessKey(a, b queueKey) bool {
	if a.trajectoryID != b.trajectoryID {
		return a.trajectoryID < b.trajectoryID
	}
	return a.sensorID < b.sensorID
}
