package mapping

import (
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/cartograph-go/cartograph/sensor"
	"github.com/cartograph-go/cartograph/sensor/collator"
	"github.com/cartograph-go/cartograph/transform"
)

// TrajectoryBuilder accepts tagged sensor data for one trajectory.
type TrajectoryBuilder interface {
	AddSensorData(data sensor.Data) error
}

// InsertionResult describes a node freshly produced by local estimation
// together with the submaps it was inserted into.
type InsertionResult struct {
	Node             TrajectoryNode
	InsertionSubmaps []Submap
}

// LocalSlamResult is one output of the external local estimator. A nil
// Insertion means the estimator consumed data without producing a node.
type LocalSlamResult struct {
	Time      time.Time
	LocalPose transform.Rigid
	Insertion *InsertionResult
}

// LocalTrajectoryBuilder is the external per-trajectory scan-matching
// estimator. Data arrives timestamp-ordered per the collator's guarantee.
type LocalTrajectoryBuilder interface {
	AddSensorData(data sensor.Data) (*LocalSlamResult, error)
}

// LocalSlamResultCallback observes each node entering the global graph.
type LocalSlamResultCallback func(trajectoryID int, nodeID NodeID, result LocalSlamResult)

// globalTrajectoryBuilder couples the local estimator to the pose graph:
// local results become graph nodes, raw records become per-trajectory
// optimization context.
type globalTrajectoryBuilder struct {
	trajectoryID int
	localBuilder LocalTrajectoryBuilder
	graph        PoseGraph
	callback     LocalSlamResultCallback
	logger       golog.Logger
}

func newGlobalTrajectoryBuilder(
	localBuilder LocalTrajectoryBuilder,
	trajectoryID int,
	graph PoseGraph,
	callback LocalSlamResultCallback,
	logger golog.Logger,
) *globalTrajectoryBuilder {
	return &globalTrajectoryBuilder{
		trajectoryID: trajectoryID,
		localBuilder: localBuilder,
		graph:        graph,
		callback:     callback,
		logger:       logger,
	}
}

func (b *globalTrajectoryBuilder) AddSensorData(data sensor.Data) error {
	switch d := data.(type) {
	case sensor.IMUData:
		b.graph.AddIMUData(b.trajectoryID, d)
	case sensor.OdometryData:
		b.graph.AddOdometryData(b.trajectoryID, d)
	case sensor.FixedFramePoseData:
		b.graph.AddFixedFramePoseData(b.trajectoryID, d)
		return nil
	case sensor.LandmarkData:
		b.graph.AddLandmarkData(b.trajectoryID, d)
		return nil
	case sensor.TimedRangeData:
	default:
		return errors.Errorf("mapping: unknown sensor data type %T", data)
	}
	if b.localBuilder == nil {
		return nil
	}
	result, err := b.localBuilder.AddSensorData(data)
	if err != nil {
		return errors.Wrapf(err, "local estimation on trajectory %d", b.trajectoryID)
	}
	if result == nil || result.Insertion == nil {
		return nil
	}
	nodeID := b.graph.AddNode(b.trajectoryID, result.Insertion.Node, result.Insertion.InsertionSubmaps)
	if b.callback != nil {
		b.callback(b.trajectoryID, nodeID, *result)
	}
	return nil
}

// collatedTrajectoryBuilder routes sensor data through the collator before
// it reaches the wrapped builder.
type collatedTrajectoryBuilder struct {
	sensorCollator collator.Collator
	trajectoryID   int
}

func newCollatedTrajectoryBuilder(
	sensorCollator collator.Collator,
	trajectoryID int,
	expectedSensorIDs map[string]bool,
	wrapped *globalTrajectoryBuilder,
	logger golog.Logger,
) *collatedTrajectoryBuilder {
	sensorCollator.AddTrajectory(trajectoryID, expectedSensorIDs, func(sensorID string, data sensor.Data) {
		if err := wrapped.AddSensorData(data); err != nil {
			logger.Warnw("dropping collated sensor data", "sensor", sensorID, "error", err)
		}
	})
	return &collatedTrajectoryBuilder{sensorCollator: sensorCollator, trajectoryID: trajectoryID}
}

func (b *collatedTrajectoryBuilder) AddSensorData(data sensor.Data) error {
	return b.sensorCollator.AddSensorData(b.trajectoryID, data)
}
