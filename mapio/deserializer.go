package mapio

import (
	"io"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/cartograph-go/cartograph/mapping"
	"github.com/cartograph-go/cartograph/transform"
)

// StateDestination is the orchestrator surface LoadState needs; satisfied
// by mapping.MapBuilder.
type StateDestination interface {
	PoseGraph() mapping.PoseGraph
	AddTrajectoryForDeserialization(options mapping.TrajectoryBuilderOptionsWithSensorIDs) int
}

// Deserializer reads the two singleton summary records up front, then
// exposes the remaining records one at a time in stream order.
type Deserializer struct {
	reader     *Reader
	poseGraph  *mapping.PoseGraphSummary
	allOptions *mapping.AllTrajectoryBuilderOptions
}

// NewDeserializer consumes the stream head. The pose-graph summary must be
// the first record and the options summary the second; anything else is a
// corruption error.
func NewDeserializer(reader *Reader) (*Deserializer, error) {
	first, err := reader.ReadRecord()
	if err != nil {
		return nil, errors.Wrap(err, "reading pose graph summary")
	}
	if first.PoseGraph == nil {
		return nil, errors.New("mapio: serialized stream does not start with a pose graph summary")
	}
	second, err := reader.ReadRecord()
	if err != nil {
		return nil, errors.Wrap(err, "reading trajectory builder options summary")
	}
	if second.AllTrajectoryBuilderOptions == nil {
		return nil, errors.New("mapio: pose graph summary is not followed by the options summary")
	}
	return &Deserializer{
		reader:     reader,
		poseGraph:  first.PoseGraph,
		allOptions: second.AllTrajectoryBuilderOptions,
	}, nil
}

// PoseGraphSummary returns the embedded summary record.
func (d *Deserializer) PoseGraphSummary() *mapping.PoseGraphSummary { return d.poseGraph }

// AllTrajectoryBuilderOptions returns the embedded options summary.
func (d *Deserializer) AllTrajectoryBuilderOptions() *mapping.AllTrajectoryBuilderOptions {
	return d.allOptions
}

// ReadNextSerializedData returns the next streamed record, io.EOF at a
// cleanly terminated end of stream.
func (d *Deserializer) ReadNextSerializedData() (*SerializedData, error) {
	return d.reader.ReadRecord()
}

// LoadState restores a previously serialized state into dst in one forward
// pass, allocating fresh trajectory ids and remapping every id reference
// through the returned old-to-new table. With loadFrozenState set, restored
// trajectories freeze before any node or submap is added and raw sensor
// records are dropped. A truncated stream fails the load; placeholder
// trajectories are never wired into the collator.
func LoadState(dst StateDestination, r io.Reader, loadFrozenState bool, logger golog.Logger) (map[int]int, error) {
	return loadState(dst, r, nil, loadFrozenState, logger)
}

// LoadStateWithLandmarks is LoadState with externally surveyed landmark
// poses overlaid on top of the stream's own landmark poses before any
// record is processed; landmark ids are global, so the overrides need no
// remapping.
func LoadStateWithLandmarks(
	dst StateDestination,
	r io.Reader,
	landmarks map[string]transform.Rigid,
	loadFrozenState bool,
	logger golog.Logger,
) (map[int]int, error) {
	return loadState(dst, r, landmarks, loadFrozenState, logger)
}

func loadState(
	dst StateDestination,
	r io.Reader,
	landmarkOverrides map[string]transform.Rigid,
	loadFrozenState bool,
	logger golog.Logger,
) (map[int]int, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(reader.Close)

	deserializer, err := NewDeserializer(reader)
	if err != nil {
		return nil, err
	}
	graph := dst.PoseGraph()
	summary := deserializer.PoseGraphSummary()
	allOptions := deserializer.AllTrajectoryBuilderOptions().OptionsWithSensorIDs

	// Allocate a fresh id per restored trajectory; saved ids are never
	// assumed free so merging states cannot collide.
	remapping := map[int]int{}
	for i := range summary.Trajectories {
		trajectory := &summary.Trajectories[i]
		oldID := trajectory.TrajectoryID
		if oldID < 0 || oldID >= len(allOptions) {
			return nil, errors.Errorf("mapio: trajectory %d has no matching builder options record", oldID)
		}
		if _, ok := remapping[oldID]; ok {
			return nil, errors.Errorf("mapio: duplicate trajectory id %d in pose graph summary", oldID)
		}
		newID := dst.AddTrajectoryForDeserialization(allOptions[oldID])
		remapping[oldID] = newID
		trajectory.TrajectoryID = newID
		if loadFrozenState {
			graph.FreezeTrajectory(newID)
		}
	}

	// Rewrite every constraint endpoint before touching the graph.
	for i := range summary.Constraints {
		c := &summary.Constraints[i]
		newSubmapTrajectory, ok := remapping[c.SubmapID.TrajectoryID]
		if !ok {
			return nil, errors.Errorf("mapio: constraint references unknown trajectory %d", c.SubmapID.TrajectoryID)
		}
		newNodeTrajectory, ok := remapping[c.NodeID.TrajectoryID]
		if !ok {
			return nil, errors.Errorf("mapio: constraint references unknown trajectory %d", c.NodeID.TrajectoryID)
		}
		c.SubmapID.TrajectoryID = newSubmapTrajectory
		c.NodeID.TrajectoryID = newNodeTrajectory
	}

	submapPoses := mapping.NewMapByID[mapping.SubmapID, transform.Rigid]()
	nodePoses := mapping.NewMapByID[mapping.NodeID, transform.Rigid]()
	for _, trajectory := range summary.Trajectories {
		for _, submap := range trajectory.Submaps {
			submapPoses.Insert(mapping.SubmapID{
				TrajectoryID: trajectory.TrajectoryID,
				SubmapIndex:  submap.SubmapIndex,
			}, submap.GlobalPose)
		}
		for _, node := range trajectory.Nodes {
			nodePoses.Insert(mapping.NodeID{
				TrajectoryID: trajectory.TrajectoryID,
				NodeIndex:    node.NodeIndex,
			}, node.GlobalPose)
		}
	}

	for _, landmark := range summary.LandmarkPoses {
		graph.SetLandmarkPose(landmark.LandmarkID, landmark.GlobalPose)
	}
	for landmarkID, pose := range landmarkOverrides {
		graph.SetLandmarkPose(landmarkID, pose)
	}

	for {
		data, err := deserializer.ReadNextSerializedData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case data.PoseGraph != nil:
			logger.Error("found multiple serialized pose graph summaries; stream likely corrupt, skipping")
		case data.AllTrajectoryBuilderOptions != nil:
			logger.Error("found multiple serialized options summaries; stream likely corrupt, skipping")
		case data.Submap != nil:
			newID, ok := remapping[data.Submap.SubmapID.TrajectoryID]
			if !ok {
				return nil, errors.Errorf("mapio: submap record references unknown trajectory %d", data.Submap.SubmapID.TrajectoryID)
			}
			data.Submap.SubmapID.TrajectoryID = newID
			pose, ok := submapPoses.Get(data.Submap.SubmapID)
			if !ok {
				return nil, errors.Errorf("mapio: no global pose for submap %v in summary", data.Submap.SubmapID)
			}
			graph.AddSubmapFromProto(pose, data.Submap)
		case data.Node != nil:
			newID, ok := remapping[data.Node.NodeID.TrajectoryID]
			if !ok {
				return nil, errors.Errorf("mapio: node record references unknown trajectory %d", data.Node.NodeID.TrajectoryID)
			}
			data.Node.NodeID.TrajectoryID = newID
			pose, ok := nodePoses.Get(data.Node.NodeID)
			if !ok {
				return nil, errors.Errorf("mapio: no global pose for node %v in summary", data.Node.NodeID)
			}
			graph.AddNodeFromProto(pose, data.Node)
		case data.TrajectoryData != nil:
			newID, ok := remapping[data.TrajectoryData.TrajectoryID]
			if !ok {
				return nil, errors.Errorf("mapio: trajectory data references unknown trajectory %d", data.TrajectoryData.TrajectoryID)
			}
			graph.SetTrajectoryData(newID, data.TrajectoryData.Data)
		case data.IMU != nil:
			if loadFrozenState {
				break
			}
			newID, ok := remapping[data.IMU.TrajectoryID]
			if !ok {
				return nil, errors.Errorf("mapio: imu record references unknown trajectory %d", data.IMU.TrajectoryID)
			}
			graph.AddIMUData(newID, data.IMU.Data)
		case data.Odometry != nil:
			if loadFrozenState {
				break
			}
			newID, ok := remapping[data.Odometry.TrajectoryID]
			if !ok {
				return nil, errors.Errorf("mapio: odometry record references unknown trajectory %d", data.Odometry.TrajectoryID)
			}
			graph.AddOdometryData(newID, data.Odometry.Data)
		case data.FixedFramePose != nil:
			if loadFrozenState {
				break
			}
			newID, ok := remapping[data.FixedFramePose.TrajectoryID]
			if !ok {
				return nil, errors.Errorf("mapio: fixed frame pose record references unknown trajectory %d", data.FixedFramePose.TrajectoryID)
			}
			graph.AddFixedFramePoseData(newID, data.FixedFramePose.Data)
		case data.Landmark != nil:
			if loadFrozenState {
				break
			}
			newID, ok := remapping[data.Landmark.TrajectoryID]
			if !ok {
				return nil, errors.Errorf("mapio: landmark record references unknown trajectory %d", data.Landmark.TrajectoryID)
			}
			graph.AddLandmarkData(newID, data.Landmark.Data)
		default:
			logger.Warn("skipping unknown record type in stream")
		}
	}

	if loadFrozenState {
		// Frozen data never re-optimizes; register membership only.
		for _, c := range summary.Constraints {
			if c.Tag != mapping.ConstraintIntraSubmap {
				continue
			}
			graph.AddNodeToSubmap(c.NodeID, c.SubmapID)
		}
		return remapping, nil
	}
	if err := graph.AddSerializedConstraints(summary.Constraints); err != nil {
		return nil, err
	}
	return remapping, nil
}
