package mapping

import (
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/cartograph-go/cartograph/sensor"
	"github.com/cartograph-go/cartograph/transform"
)

// scriptedLocalBuilder emits one node per range scan, placed at a pose
// derived from the scan timestamp, and inserts every node into one shared
// submap.
type scriptedLocalBuilder struct {
	submap *fakeSubmap
	nodes  int
}

func (b *scriptedLocalBuilder) AddSensorData(data sensor.Data) (*LocalSlamResult, error) {
	scan, ok := data.(sensor.TimedRangeData)
	if !ok {
		return nil, nil
	}
	b.nodes++
	b.submap.numRangeData++
	pose := transform.NewTranslation(r3.Vector{X: float64(b.nodes)})
	return &LocalSlamResult{
		Time:      scan.Stamp,
		LocalPose: pose,
		Insertion: &InsertionResult{
			Node:             TrajectoryNode{Time: scan.Stamp, LocalPose: pose},
			InsertionSubmaps: []Submap{b.submap},
		},
	}, nil
}

func newTestMapBuilder(t *testing.T, options MapBuilderOptions) MapBuilder {
	t.Helper()
	builder := NewMapBuilder(options, golog.NewTestLogger(t))
	t.Cleanup(func() { test.That(t, builder.Close(), test.ShouldBeNil) })
	return builder
}

func rangeScanAt(name string, millis int) sensor.TimedRangeData {
	return sensor.TimedRangeData{
		Sensor:  name,
		Stamp:   time.Unix(0, int64(millis)*int64(time.Millisecond)),
		Returns: []r3.Vector{{X: 1}},
	}
}

func TestNewMapBuilderRejectsInconsistentOptions(t *testing.T) {
	test.That(t, func() {
		NewMapBuilder(MapBuilderOptions{}, golog.NewTestLogger(t))
	}, test.ShouldPanic)
	test.That(t, func() {
		NewMapBuilder(MapBuilderOptions{
			UseTrajectoryBuilder2D: true,
			UseTrajectoryBuilder3D: true,
		}, golog.NewTestLogger(t))
	}, test.ShouldPanic)
}

func TestAddTrajectoryBuilderAssignsDenseIDs(t *testing.T) {
	builder := newTestMapBuilder(t, MapBuilderOptions{UseTrajectoryBuilder3D: true})

	sensors := []SensorID{{Type: RangeSensor, Name: "lidar"}}
	first := builder.AddTrajectoryBuilder(sensors, TrajectoryBuilderOptions{}, nil)
	second := builder.AddTrajectoryForDeserialization(TrajectoryBuilderOptionsWithSensorIDs{})
	third := builder.AddTrajectoryBuilder(sensors, TrajectoryBuilderOptions{}, nil)

	test.That(t, first, test.ShouldEqual, 0)
	test.That(t, second, test.ShouldEqual, 1)
	test.That(t, third, test.ShouldEqual, 2)
	test.That(t, builder.NumTrajectoryBuilders(), test.ShouldEqual, 3)
	test.That(t, builder.AllTrajectoryBuilderOptions(), test.ShouldHaveLength, 3)

	test.That(t, builder.GetTrajectoryBuilder(first), test.ShouldNotBeNil)
	test.That(t, builder.GetTrajectoryBuilder(second), test.ShouldBeNil)
	test.That(t, builder.GetTrajectoryBuilder(5), test.ShouldBeNil)
}

func TestSubmapQueryOutOfRange(t *testing.T) {
	builder := newTestMapBuilder(t, MapBuilderOptions{UseTrajectoryBuilder3D: true})
	for i := 0; i < 3; i++ {
		builder.AddTrajectoryBuilder(nil, TrajectoryBuilderOptions{}, nil)
	}

	response, err := builder.SubmapQuery(SubmapID{7, 0})
	test.That(t, response, test.ShouldBeNil)
	var queryErr *QueryError
	test.That(t, errors.As(err, &queryErr), test.ShouldBeTrue)
	test.That(t, queryErr.Reason, test.ShouldEqual, QueryOutOfRange)
	test.That(t, err.Error(), test.ShouldContainSubstring,
		"requested submap from trajectory 7 but there are only 3 trajectories")

	// A failed query mutates nothing.
	test.That(t, builder.NumTrajectoryBuilders(), test.ShouldEqual, 3)
	test.That(t, builder.PoseGraph().GetAllSubmapData().Len(), test.ShouldEqual, 0)
}

func TestSubmapQueryNotFound(t *testing.T) {
	builder := newTestMapBuilder(t, MapBuilderOptions{UseTrajectoryBuilder3D: true})
	builder.AddTrajectoryBuilder(nil, TrajectoryBuilderOptions{}, nil)

	_, err := builder.SubmapQuery(SubmapID{0, 9})
	var queryErr *QueryError
	test.That(t, errors.As(err, &queryErr), test.ShouldBeTrue)
	test.That(t, queryErr.Reason, test.ShouldEqual, QueryNotFound)
	test.That(t, err.Error(), test.ShouldContainSubstring, "maybe it has been trimmed")

	_, err = builder.LocalSubmapQuery()
	test.That(t, errors.As(err, &queryErr), test.ShouldBeTrue)
	test.That(t, queryErr.Reason, test.ShouldEqual, QueryNotFound)
}

func TestSensorDataFlowsIntoGraph(t *testing.T) {
	local := &scriptedLocalBuilder{submap: &fakeSubmap{}}
	var observed []NodeID
	builder := newTestMapBuilder(t, MapBuilderOptions{
		UseTrajectoryBuilder3D: true,
		LocalBuilderFactory: func(TrajectoryBuilderOptions, []string) LocalTrajectoryBuilder {
			return local
		},
	})
	trajectoryID := builder.AddTrajectoryBuilder(
		[]SensorID{{Type: RangeSensor, Name: "lidar"}},
		TrajectoryBuilderOptions{},
		func(_ int, nodeID NodeID, _ LocalSlamResult) { observed = append(observed, nodeID) },
	)

	trajectory := builder.GetTrajectoryBuilder(trajectoryID)
	for i := 0; i < 3; i++ {
		test.That(t, trajectory.AddSensorData(rangeScanAt("lidar", i*100)), test.ShouldBeNil)
	}
	test.That(t, builder.FinishTrajectory(trajectoryID), test.ShouldBeNil)

	nodes := builder.PoseGraph().GetTrajectoryNodes()
	test.That(t, nodes.Len(), test.ShouldEqual, 3)
	test.That(t, observed, test.ShouldResemble, []NodeID{{0, 0}, {0, 1}, {0, 2}})
	test.That(t, builder.PoseGraph().IsTrajectoryFinished(trajectoryID), test.ShouldBeTrue)

	// One shared submap collected all three nodes.
	submaps := builder.PoseGraph().GetAllSubmapData()
	test.That(t, submaps.SortedIDs(), test.ShouldResemble, []SubmapID{{0, 0}})
	test.That(t, builder.PoseGraph().GetSubmapNodes(SubmapID{0, 0}), test.ShouldHaveLength, 3)

	response, err := builder.SubmapQuery(SubmapID{0, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, response.SubmapVersion, test.ShouldEqual, 3)
}

func TestCollationOrdersAcrossSensors(t *testing.T) {
	local := &scriptedLocalBuilder{submap: &fakeSubmap{}}
	builder := newTestMapBuilder(t, MapBuilderOptions{
		UseTrajectoryBuilder3D: true,
		LocalBuilderFactory: func(TrajectoryBuilderOptions, []string) LocalTrajectoryBuilder {
			return local
		},
	})
	trajectoryID := builder.AddTrajectoryBuilder(
		[]SensorID{{Type: RangeSensor, Name: "lidar"}, {Type: IMUSensor, Name: "imu"}},
		TrajectoryBuilderOptions{},
		nil,
	)
	trajectory := builder.GetTrajectoryBuilder(trajectoryID)

	// Range data leads; collation must hold it until the imu stream catches
	// up, so nothing reaches the graph out of timestamp order.
	test.That(t, trajectory.AddSensorData(rangeScanAt("lidar", 50)), test.ShouldBeNil)
	test.That(t, trajectory.AddSensorData(sensor.IMUData{
		Sensor: "imu", Stamp: time.Unix(0, int64(10*time.Millisecond)),
	}), test.ShouldBeNil)
	test.That(t, trajectory.AddSensorData(sensor.IMUData{
		Sensor: "imu", Stamp: time.Unix(0, int64(60*time.Millisecond)),
	}), test.ShouldBeNil)
	test.That(t, builder.FinishTrajectory(trajectoryID), test.ShouldBeNil)

	graph := builder.PoseGraph()
	test.That(t, graph.GetTrajectoryNodes().Len(), test.ShouldEqual, 1)
	test.That(t, graph.SensorContext(trajectoryID).IMU, test.ShouldHaveLength, 2)
}

func TestFinishTrajectoryUnknownID(t *testing.T) {
	builder := newTestMapBuilder(t, MapBuilderOptions{UseTrajectoryBuilder3D: true})
	err := builder.FinishTrajectory(3)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown trajectory 3")
}

func TestMapBuilderOptionsFromAttributes(t *testing.T) {
	options, err := MapBuilderOptionsFromAttributes(map[string]interface{}{
		"use_trajectory_builder_2d": true,
		"num_background_threads":    4,
		"collate_by_trajectory":     true,
		"pose_graph": map[string]interface{}{
			"optimize_every_n_nodes": 90,
		},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, options.UseTrajectoryBuilder2D, test.ShouldBeTrue)
	test.That(t, options.NumBackgroundThreads, test.ShouldEqual, 4)
	test.That(t, options.CollateByTrajectory, test.ShouldBeTrue)
	test.That(t, options.PoseGraph.OptimizeEveryNNodes, test.ShouldEqual, 90)

	_, err = MapBuilderOptionsFromAttributes(map[string]interface{}{})
	test.That(t, err, test.ShouldNotBeNil)
}
