package mapping

import (
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/cartograph-go/cartograph/sensor"
	"github.com/cartograph-go/cartograph/transform"
)

// ConstraintTag distinguishes submap-membership edges from loop-closure
// hypotheses.
type ConstraintTag int32

const (
	// ConstraintIntraSubmap marks a node originally inserted into the submap
	// it helped build. These edges define membership and survive as long as
	// both endpoints do.
	ConstraintIntraSubmap ConstraintTag = iota
	// ConstraintInterSubmap marks an advisory loop-closure edge. It may be
	// dropped when an endpoint is trimmed.
	ConstraintInterSubmap
)

// Constraint is a relative-pose edge between a node and a submap.
type Constraint struct {
	NodeID            NodeID
	SubmapID          SubmapID
	RelativePose      transform.Rigid
	TranslationWeight float64
	RotationWeight    float64
	Tag               ConstraintTag
}

// TrajectoryState tracks what a trajectory may still accept.
type TrajectoryState int

const (
	// TrajectoryActive accepts sensor data and new nodes.
	TrajectoryActive TrajectoryState = iota
	// TrajectoryFinished accepts no new nodes but still optimizes.
	TrajectoryFinished
	// TrajectoryFrozen is immutable reference data.
	TrajectoryFrozen
)

// TrajectoryNode is one timestamped local pose estimate together with the
// opaque sensor payload the local estimator attached to it.
type TrajectoryNode struct {
	Time       time.Time
	LocalPose  transform.Rigid
	SensorData []byte
}

// TrajectoryData carries per-trajectory calibration produced by the
// optimizer.
type TrajectoryData struct {
	GravityConstant       float64
	IMUCalibration        quat.Number
	FixedFrameOriginInMap *transform.Rigid
}

// GridCell addresses one cell of a submap's coverage footprint.
type GridCell struct {
	X, Y int
}

// Submap is the external, locally built partial map representation. Grid
// internals stay with the local estimator; the graph needs only poses,
// insertion state and a coverage footprint.
type Submap interface {
	LocalPose() transform.Rigid
	NumRangeData() int
	InsertionFinished() bool
	CoveredCells() []GridCell
	GridData() []byte
}

// SubmapData pairs a submap with its optimized global pose. The zero value
// (nil Submap) means the submap does not exist.
type SubmapData struct {
	Submap Submap
	Pose   transform.Rigid
}

// SensorContext is a snapshot of the raw per-trajectory sensor buffers the
// graph retains for optimization context.
type SensorContext struct {
	IMU            []sensor.IMUData
	Odometry       []sensor.OdometryData
	FixedFramePose []sensor.FixedFramePoseData
	Landmark       []sensor.LandmarkData
}

// OptimizationSnapshot is the consistent view handed to the external
// optimizer.
type OptimizationSnapshot struct {
	NodePoses          *MapByID[NodeID, transform.Rigid]
	SubmapPoses        *MapByID[SubmapID, transform.Rigid]
	Constraints        []Constraint
	LandmarkPoses      map[string]transform.Rigid
	FrozenTrajectories map[int]bool
}

// OptimizationResult carries updated global poses back from the optimizer.
// Entries for frozen trajectories or since-trimmed entities are ignored.
type OptimizationResult struct {
	NodePoses     map[NodeID]transform.Rigid
	SubmapPoses   map[SubmapID]transform.Rigid
	LandmarkPoses map[string]transform.Rigid
}

// Optimizer computes updated global poses from a snapshot of the graph. It
// runs on the background worker pool and must not call back into the graph.
type Optimizer interface {
	Solve(snapshot OptimizationSnapshot) OptimizationResult
}

type noopOptimizer struct{}

func (noopOptimizer) Solve(OptimizationSnapshot) OptimizationResult {
	return OptimizationResult{}
}

// PoseGraph is the authoritative global store of nodes, submaps,
// constraints, landmarks and per-trajectory state. Implementations are safe
// for concurrent use; readers observe pre- or post-optimization poses,
// never torn ones.
type PoseGraph interface {
	// AddNode registers a live node from local estimation, allocating the
	// next node index for the trajectory and fresh submap ids for any
	// insertion submaps not yet known to the graph.
	AddNode(trajectoryID int, node TrajectoryNode, insertionSubmaps []Submap) NodeID

	// Raw sensor context; silently skipped for frozen trajectories.
	AddIMUData(trajectoryID int, data sensor.IMUData)
	AddOdometryData(trajectoryID int, data sensor.OdometryData)
	AddFixedFramePoseData(trajectoryID int, data sensor.FixedFramePoseData)
	AddLandmarkData(trajectoryID int, data sensor.LandmarkData)

	// Deserialization surface.
	AddNodeFromProto(globalPose transform.Rigid, rec *NodeRecord)
	AddSubmapFromProto(globalPose transform.Rigid, rec *SubmapRecord)
	AddSerializedConstraints(constraints []Constraint) error
	AddNodeToSubmap(nodeID NodeID, submapID SubmapID)
	SetTrajectoryData(trajectoryID int, data TrajectoryData)

	SetLandmarkPose(landmarkID string, globalPose transform.Rigid)
	SetInitialTrajectoryPose(fromTrajectoryID, toTrajectoryID int, relativePose transform.Rigid, at time.Time)

	FreezeTrajectory(trajectoryID int)
	IsTrajectoryFrozen(trajectoryID int) bool
	FinishTrajectory(trajectoryID int)
	IsTrajectoryFinished(trajectoryID int) bool

	// Queries. A zero SubmapData result is the normal outcome for trimmed or
	// unknown submaps.
	GetSubmapData(id SubmapID) SubmapData
	GetAllSubmapData() *MapByID[SubmapID, SubmapData]
	GetLocalCurrentSubmap() SubmapData
	GetTrajectoryNodes() *MapByID[NodeID, TrajectoryNode]
	GetNodePoses() *MapByID[NodeID, transform.Rigid]
	GetSubmapNodes(id SubmapID) []NodeID
	Constraints() []Constraint
	GetLandmarkPoses() map[string]transform.Rigid
	GetTrajectoryData() map[int]TrajectoryData
	GetTrajectoryStates() map[int]TrajectoryState
	SensorContext(trajectoryID int) SensorContext

	AddTrimmer(trimmer Trimmer)

	// RunFinalOptimization drains scheduled background work and runs one
	// last optimization pass synchronously.
	RunFinalOptimization()
}
