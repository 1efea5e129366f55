package mapio

import (
	"io"
	"sort"

	"github.com/cartograph-go/cartograph/mapping"
)

// GraphSource is the read surface SerializeState needs; satisfied by
// mapping.MapBuilder.
type GraphSource interface {
	PoseGraph() mapping.PoseGraph
	AllTrajectoryBuilderOptions() []mapping.TrajectoryBuilderOptionsWithSensorIDs
}

// SerializeState linearizes the full pose graph state plus the
// per-trajectory options into an ordered stream of typed records: exactly
// one pose-graph summary first, exactly one options summary second, then
// every submap, node, trajectory-data and raw sensor record.
func SerializeState(src GraphSource, w io.Writer) (err error) {
	graph := src.PoseGraph()
	writer := NewWriter(w)
	defer func() {
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
	}()

	summary := buildPoseGraphSummary(graph)
	if err := writer.WriteRecord(&SerializedData{PoseGraph: summary}); err != nil {
		return err
	}
	if err := writer.WriteRecord(&SerializedData{
		AllTrajectoryBuilderOptions: &mapping.AllTrajectoryBuilderOptions{
			OptionsWithSensorIDs: src.AllTrajectoryBuilderOptions(),
		},
	}); err != nil {
		return err
	}

	submapData := graph.GetAllSubmapData()
	for _, id := range submapData.SortedIDs() {
		rec := mapping.NewSubmapRecord(id, submapData.At(id).Submap)
		if err := writer.WriteRecord(&SerializedData{Submap: rec}); err != nil {
			return err
		}
	}

	nodes := graph.GetTrajectoryNodes()
	for _, id := range nodes.SortedIDs() {
		node := nodes.At(id)
		rec := &mapping.NodeRecord{
			NodeID:     id,
			Time:       node.Time,
			LocalPose:  node.LocalPose,
			SensorData: node.SensorData,
		}
		if err := writer.WriteRecord(&SerializedData{Node: rec}); err != nil {
			return err
		}
	}

	trajectoryIDs := sortedTrajectoryIDs(graph)
	trajectoryData := graph.GetTrajectoryData()
	for _, trajectoryID := range trajectoryIDs {
		data, ok := trajectoryData[trajectoryID]
		if !ok {
			continue
		}
		rec := &mapping.TrajectoryDataRecord{TrajectoryID: trajectoryID, Data: data}
		if err := writer.WriteRecord(&SerializedData{TrajectoryData: rec}); err != nil {
			return err
		}
	}

	for _, trajectoryID := range trajectoryIDs {
		context := graph.SensorContext(trajectoryID)
		for _, data := range context.IMU {
			if err := writer.WriteRecord(&SerializedData{IMU: &IMUDataRecord{trajectoryID, data}}); err != nil {
				return err
			}
		}
		for _, data := range context.Odometry {
			if err := writer.WriteRecord(&SerializedData{Odometry: &OdometryDataRecord{trajectoryID, data}}); err != nil {
				return err
			}
		}
		for _, data := range context.FixedFramePose {
			if err := writer.WriteRecord(&SerializedData{FixedFramePose: &FixedFramePoseDataRecord{trajectoryID, data}}); err != nil {
				return err
			}
		}
		for _, data := range context.Landmark {
			if err := writer.WriteRecord(&SerializedData{Landmark: &LandmarkDataRecord{trajectoryID, data}}); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedTrajectoryIDs(graph mapping.PoseGraph) []int {
	states := graph.GetTrajectoryStates()
	ids := make([]int, 0, len(states))
	for trajectoryID := range states {
		ids = append(ids, trajectoryID)
	}
	sort.Ints(ids)
	return ids
}

func buildPoseGraphSummary(graph mapping.PoseGraph) *mapping.PoseGraphSummary {
	nodes := graph.GetTrajectoryNodes()
	nodePoses := graph.GetNodePoses()
	submapPoses := map[mapping.SubmapID]mapping.SubmapData{}
	submapData := graph.GetAllSubmapData()
	for _, id := range submapData.SortedIDs() {
		submapPoses[id] = submapData.At(id)
	}

	summary := &mapping.PoseGraphSummary{Constraints: graph.Constraints()}
	for _, trajectoryID := range sortedTrajectoryIDs(graph) {
		trajectory := mapping.TrajectorySummary{TrajectoryID: trajectoryID}
		for _, id := range nodes.IDsOfTrajectory(trajectoryID) {
			trajectory.Nodes = append(trajectory.Nodes, mapping.NodeSummary{
				NodeIndex:  id.NodeIndex,
				Time:       nodes.At(id).Time,
				GlobalPose: nodePoses.At(id),
			})
		}
		for _, id := range submapData.IDsOfTrajectory(trajectoryID) {
			trajectory.Submaps = append(trajectory.Submaps, mapping.SubmapSummary{
				SubmapIndex: id.SubmapIndex,
				GlobalPose:  submapPoses[id].Pose,
			})
		}
		summary.Trajectories = append(summary.Trajectories, trajectory)
	}

	landmarks := graph.GetLandmarkPoses()
	landmarkIDs := make([]string, 0, len(landmarks))
	for id := range landmarks {
		landmarkIDs = append(landmarkIDs, id)
	}
	sort.Strings(landmarkIDs)
	for _, id := range landmarkIDs {
		summary.LandmarkPoses = append(summary.LandmarkPoses, mapping.LandmarkPoseRecord{
			LandmarkID: id,
			GlobalPose: landmarks[id],
		})
	}
	return summary
}
