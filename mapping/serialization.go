package mapping

import (
	"time"

	"github.com/cartograph-go/cartograph/transform"
)

// NodeRecord is the streamed form of one trajectory node.
type NodeRecord struct {
	NodeID     NodeID
	Time       time.Time
	LocalPose  transform.Rigid
	SensorData []byte
}

// SubmapRecord is the streamed form of one submap.
type SubmapRecord struct {
	SubmapID     SubmapID
	LocalPose    transform.Rigid
	NumRangeData int
	Finished     bool
	Cells        []GridCell
	GridData     []byte
}

// NodeSummary is one node's global pose inside the pose graph summary.
type NodeSummary struct {
	NodeIndex  int
	Time       time.Time
	GlobalPose transform.Rigid
}

// SubmapSummary is one submap's global pose inside the pose graph summary.
type SubmapSummary struct {
	SubmapIndex int
	GlobalPose  transform.Rigid
}

// TrajectorySummary describes one trajectory in the pose graph summary.
type TrajectorySummary struct {
	TrajectoryID int
	Nodes        []NodeSummary
	Submaps      []SubmapSummary
}

// LandmarkPoseRecord is one landmark's optimized global pose.
type LandmarkPoseRecord struct {
	LandmarkID string
	GlobalPose transform.Rigid
}

// PoseGraphSummary is the singleton summary record read first during a
// load: all trajectories' metadata, all global poses, all constraints, all
// landmark poses.
type PoseGraphSummary struct {
	Trajectories  []TrajectorySummary
	Constraints   []Constraint
	LandmarkPoses []LandmarkPoseRecord
}

// TrajectoryBuilderOptionsWithSensorIDs pairs a trajectory's builder
// options with the sensor ids it was created with, exactly one per
// trajectory adapter.
type TrajectoryBuilderOptionsWithSensorIDs struct {
	SensorIDs []SensorID
	Options   TrajectoryBuilderOptions
}

// AllTrajectoryBuilderOptions is the singleton options summary record.
type AllTrajectoryBuilderOptions struct {
	OptionsWithSensorIDs []TrajectoryBuilderOptionsWithSensorIDs
}

// TrajectoryDataRecord is the streamed form of per-trajectory calibration.
type TrajectoryDataRecord struct {
	TrajectoryID int
	Data         TrajectoryData
}

// NewSubmapFromRecord reconstructs a submap from its streamed record. The
// grid payload stays opaque.
func NewSubmapFromRecord(rec *SubmapRecord) Submap {
	return &storedSubmap{
		localPose:    rec.LocalPose,
		numRangeData: rec.NumRangeData,
		finished:     rec.Finished,
		cells:        rec.Cells,
		gridData:     rec.GridData,
	}
}

// NewSubmapRecord linearizes a live submap.
func NewSubmapRecord(id SubmapID, submap Submap) *SubmapRecord {
	return &SubmapRecord{
		SubmapID:     id,
		LocalPose:    submap.LocalPose(),
		NumRangeData: submap.NumRangeData(),
		Finished:     submap.InsertionFinished(),
		Cells:        submap.CoveredCells(),
		GridData:     submap.GridData(),
	}
}

type storedSubmap struct {
	localPose    transform.Rigid
	numRangeData int
	finished     bool
	cells        []GridCell
	gridData     []byte
}

func (s *storedSubmap) LocalPose() transform.Rigid { return s.localPose }
func (s *storedSubmap) NumRangeData() int          { return s.numRangeData }
func (s *storedSubmap) InsertionFinished() bool    { return s.finished }
func (s *storedSubmap) CoveredCells() []GridCell   { return s.cells }
func (s *storedSubmap) GridData() []byte           { return s.gridData }
