package mapping

import (
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/cartograph-go/cartograph/sensor"
	"github.com/cartograph-go/cartograph/transform"
	"github.com/cartograph-go/cartograph/workers"
)

// PoseGraphOptions configures the shared pose graph core.
type PoseGraphOptions struct {
	// OptimizeEveryNNodes schedules a background optimization pass each time
	// this many nodes have been added. Zero disables periodic passes.
	OptimizeEveryNNodes int `mapstructure:"optimize_every_n_nodes"`
}

type initialPoseAnchor struct {
	toTrajectoryID int
	relativePose   transform.Rigid
	at             time.Time
}

type activeSubmap struct {
	id     SubmapID
	submap Submap
}

// poseGraph is the shared core behind the 2D and 3D variants. All mutable
// state is guarded by mu; optimization passes copy a snapshot out, solve
// unlocked, and apply results back under the lock.
type poseGraph struct {
	logger    golog.Logger
	pool      *workers.Pool
	optimizer Optimizer
	options   PoseGraphOptions
	// project constrains incoming local poses; the 2D variant flattens onto
	// the XY plane, the 3D variant is the identity.
	project func(transform.Rigid) transform.Rigid

	mu               sync.Mutex
	trajectoryNodes  *MapByID[NodeID, TrajectoryNode]
	nodePoses        *MapByID[NodeID, transform.Rigid]
	submaps          *MapByID[SubmapID, Submap]
	submapPoses      *MapByID[SubmapID, transform.Rigid]
	submapNodes      map[SubmapID]map[NodeID]bool
	constraints      []Constraint
	landmarkPoses    map[string]transform.Rigid
	trajectoryStates map[int]TrajectoryState
	trajectoryData   map[int]TrajectoryData
	initialPoses     map[int]initialPoseAnchor
	origins          map[int]*transform.Rigid
	imuData          map[int][]sensor.IMUData
	odometryData     map[int][]sensor.OdometryData
	fixedFrameData   map[int][]sensor.FixedFramePoseData
	landmarkData     map[int][]sensor.LandmarkData
	trimmers         []Trimmer
	activeSubmaps    map[int][]activeSubmap
	currentSubmapID  *SubmapID

	// Next free per-trajectory indices. Kept separately from the live maps
	// so trimming never causes an index to be reissued.
	nextNodeIndex   map[int]int
	nextSubmapIndex map[int]int

	nodesSinceOptimization int
}

func newPoseGraph(
	options PoseGraphOptions,
	optimizer Optimizer,
	pool *workers.Pool,
	logger golog.Logger,
	project func(transform.Rigid) transform.Rigid,
) *poseGraph {
	if optimizer == nil {
		optimizer = noopOptimizer{}
	}
	return &poseGraph{
		logger:           logger,
		pool:             pool,
		optimizer:        optimizer,
		options:          options,
		project:          project,
		trajectoryNodes:  NewMapByID[NodeID, TrajectoryNode](),
		nodePoses:        NewMapByID[NodeID, transform.Rigid](),
		submaps:          NewMapByID[SubmapID, Submap](),
		submapPoses:      NewMapByID[SubmapID, transform.Rigid](),
		submapNodes:      map[SubmapID]map[NodeID]bool{},
		landmarkPoses:    map[string]transform.Rigid{},
		trajectoryStates: map[int]TrajectoryState{},
		trajectoryData:   map[int]TrajectoryData{},
		initialPoses:     map[int]initialPoseAnchor{},
		origins:          map[int]*transform.Rigid{},
		imuData:          map[int][]sensor.IMUData{},
		odometryData:     map[int][]sensor.OdometryData{},
		fixedFrameData:   map[int][]sensor.FixedFramePoseData{},
		landmarkData:     map[int][]sensor.LandmarkData{},
		activeSubmaps:    map[int][]activeSubmap{},
		nextNodeIndex:    map[int]int{},
		nextSubmapIndex:  map[int]int{},
	}
}

func (pg *poseGraph) ensureTrajectoryLocked(trajectoryID int) {
	if trajectoryID < 0 {
		panic("mapping: negative trajectory id")
	}
	if _, ok := pg.trajectoryStates[trajectoryID]; !ok {
		pg.trajectoryStates[trajectoryID] = TrajectoryActive
	}
}

// originLocked resolves the trajectory's origin in the global frame,
// honoring any initial-pose anchor against another trajectory.
func (pg *poseGraph) originLocked(trajectoryID int) transform.Rigid {
	if cached, ok := pg.origins[trajectoryID]; ok {
		return *cached
	}
	origin := transform.Identity()
	if anchor, ok := pg.initialPoses[trajectoryID]; ok {
		reference := pg.nearestNodePoseLocked(anchor.toTrajectoryID, anchor.at)
		origin = reference.Mul(anchor.relativePose)
	}
	pg.origins[trajectoryID] = &origin
	return origin
}

// nearestNodePoseLocked returns the global pose of the reference
// trajectory's node closest in time, or identity when it has no nodes yet.
func (pg *poseGraph) nearestNodePoseLocked(trajectoryID int, at time.Time) transform.Rigid {
	best := transform.Identity()
	var bestDelta time.Duration
	found := false
	for _, id := range pg.trajectoryNodes.IDsOfTrajectory(trajectoryID) {
		node := pg.trajectoryNodes.At(id)
		delta := node.Time.Sub(at)
		if delta < 0 {
			delta = -delta
		}
		if !found || delta < bestDelta {
			if pose, ok := pg.nodePoses.Get(id); ok {
				best, bestDelta, found = pose, delta, true
			}
		}
	}
	return best
}

func (pg *poseGraph) AddNode(trajectoryID int, node TrajectoryNode, insertionSubmaps []Submap) NodeID {
	pg.mu.Lock()
	pg.ensureTrajectoryLocked(trajectoryID)
	if pg.trajectoryStates[trajectoryID] != TrajectoryActive {
		pg.mu.Unlock()
		panic(errors.Errorf("mapping: AddNode on non-active trajectory %d", trajectoryID))
	}
	node.LocalPose = pg.project(node.LocalPose)
	nodeID := NodeID{trajectoryID, pg.nextNodeIndex[trajectoryID]}
	pg.nextNodeIndex[trajectoryID]++
	origin := pg.originLocked(trajectoryID)
	pg.trajectoryNodes.Insert(nodeID, node)
	pg.nodePoses.Insert(nodeID, origin.Mul(node.LocalPose))

	submapFinished := false
	for _, submap := range insertionSubmaps {
		submapID, known := pg.activeSubmapIDLocked(trajectoryID, submap)
		if !known {
			submapID = SubmapID{trajectoryID, pg.nextSubmapIndex[trajectoryID]}
			pg.nextSubmapIndex[trajectoryID]++
			pg.submaps.Insert(submapID, submap)
			pg.submapPoses.Insert(submapID, origin.Mul(pg.project(submap.LocalPose())))
			pg.activeSubmaps[trajectoryID] = append(pg.activeSubmaps[trajectoryID], activeSubmap{submapID, submap})
		}
		pg.addConstraintLocked(Constraint{
			NodeID:            nodeID,
			SubmapID:          submapID,
			RelativePose:      pg.project(submap.LocalPose()).Inverse().Mul(node.LocalPose),
			TranslationWeight: 1,
			RotationWeight:    1,
			Tag:               ConstraintIntraSubmap,
		})
		current := submapID
		pg.currentSubmapID = &current
		if submap.InsertionFinished() {
			pg.removeActiveSubmapLocked(trajectoryID, submapID)
			submapFinished = true
		}
	}

	pg.nodesSinceOptimization++
	needOptimize := pg.options.OptimizeEveryNNodes > 0 &&
		pg.nodesSinceOptimization >= pg.options.OptimizeEveryNNodes
	if needOptimize {
		pg.nodesSinceOptimization = 0
	}
	if submapFinished {
		pg.runTrimmersLocked()
	}
	pg.mu.Unlock()

	if needOptimize {
		pg.pool.Schedule(pg.runOptimizationPass)
	}
	return nodeID
}

func (pg *poseGraph) activeSubmapIDLocked(trajectoryID int, submap Submap) (SubmapID, bool) {
	for _, active := range pg.activeSubmaps[trajectoryID] {
		if active.submap == submap {
			return active.id, true
		}
	}
	return SubmapID{}, false
}

func (pg *poseGraph) removeActiveSubmapLocked(trajectoryID int, id SubmapID) {
	actives := pg.activeSubmaps[trajectoryID]
	for i, active := range actives {
		if active.id == id {
			pg.activeSubmaps[trajectoryID] = append(actives[:i], actives[i+1:]...)
			return
		}
	}
}

func (pg *poseGraph) addConstraintLocked(c Constraint) {
	pg.constraints = append(pg.constraints, c)
	if c.Tag == ConstraintIntraSubmap {
		pg.addNodeToSubmapLocked(c.NodeID, c.SubmapID)
	}
}

func (pg *poseGraph) addNodeToSubmapLocked(nodeID NodeID, submapID SubmapID) {
	nodes, ok := pg.submapNodes[submapID]
	if !ok {
		nodes = map[NodeID]bool{}
		pg.submapNodes[submapID] = nodes
	}
	nodes[nodeID] = true
}

func (pg *poseGraph) AddIMUData(trajectoryID int, data sensor.IMUData) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(trajectoryID)
	if pg.trajectoryStates[trajectoryID] == TrajectoryFrozen {
		return
	}
	pg.imuData[trajectoryID] = append(pg.imuData[trajectoryID], data)
}

func (pg *poseGraph) AddOdometryData(trajectoryID int, data sensor.OdometryData) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(trajectoryID)
	if pg.trajectoryStates[trajectoryID] == TrajectoryFrozen {
		return
	}
	pg.odometryData[trajectoryID] = append(pg.odometryData[trajectoryID], data)
}

func (pg *poseGraph) AddFixedFramePoseData(trajectoryID int, data sensor.FixedFramePoseData) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(trajectoryID)
	if pg.trajectoryStates[trajectoryID] == TrajectoryFrozen {
		return
	}
	pg.fixedFrameData[trajectoryID] = append(pg.fixedFrameData[trajectoryID], data)
}

func (pg *poseGraph) AddLandmarkData(trajectoryID int, data sensor.LandmarkData) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(trajectoryID)
	if pg.trajectoryStates[trajectoryID] == TrajectoryFrozen {
		return
	}
	pg.landmarkData[trajectoryID] = append(pg.landmarkData[trajectoryID], data)
}

func (pg *poseGraph) AddNodeFromProto(globalPose transform.Rigid, rec *NodeRecord) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(rec.NodeID.TrajectoryID)
	pg.trajectoryNodes.Insert(rec.NodeID, TrajectoryNode{
		Time:       rec.Time,
		LocalPose:  rec.LocalPose,
		SensorData: rec.SensorData,
	})
	pg.nodePoses.Insert(rec.NodeID, globalPose)
	if rec.NodeID.NodeIndex >= pg.nextNodeIndex[rec.NodeID.TrajectoryID] {
		pg.nextNodeIndex[rec.NodeID.TrajectoryID] = rec.NodeID.NodeIndex + 1
	}
}

func (pg *poseGraph) AddSubmapFromProto(globalPose transform.Rigid, rec *SubmapRecord) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(rec.SubmapID.TrajectoryID)
	pg.submaps.Insert(rec.SubmapID, NewSubmapFromRecord(rec))
	pg.submapPoses.Insert(rec.SubmapID, globalPose)
	if rec.SubmapID.SubmapIndex >= pg.nextSubmapIndex[rec.SubmapID.TrajectoryID] {
		pg.nextSubmapIndex[rec.SubmapID.TrajectoryID] = rec.SubmapID.SubmapIndex + 1
	}
}

// AddSerializedConstraints registers restored constraints exactly as if
// they had been produced by local estimation, scheduling optimization for
// the restored trajectories. Constraints referencing unknown entities are a
// corruption error and nothing is applied.
func (pg *poseGraph) AddSerializedConstraints(constraints []Constraint) error {
	pg.mu.Lock()
	for _, c := range constraints {
		if !pg.trajectoryNodes.Contains(c.NodeID) {
			pg.mu.Unlock()
			return errors.Errorf("mapping: serialized constraint references unknown node %v", c.NodeID)
		}
		if !pg.submaps.Contains(c.SubmapID) {
			pg.mu.Unlock()
			return errors.Errorf("mapping: serialized constraint references unknown submap %v", c.SubmapID)
		}
	}
	for _, c := range constraints {
		pg.addConstraintLocked(c)
	}
	pg.mu.Unlock()

	pg.pool.Schedule(pg.runOptimizationPass)
	return nil
}

// AddNodeToSubmap records submap membership without scheduling optimizer
// work; used when restoring frozen trajectories.
func (pg *poseGraph) AddNodeToSubmap(nodeID NodeID, submapID SubmapID) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.addNodeToSubmapLocked(nodeID, submapID)
}

func (pg *poseGraph) SetTrajectoryData(trajectoryID int, data TrajectoryData) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(trajectoryID)
	pg.trajectoryData[trajectoryID] = data
}

func (pg *poseGraph) SetLandmarkPose(landmarkID string, globalPose transform.Rigid) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.landmarkPoses[landmarkID] = globalPose
}

func (pg *poseGraph) SetInitialTrajectoryPose(fromTrajectoryID, toTrajectoryID int, relativePose transform.Rigid, at time.Time) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(fromTrajectoryID)
	pg.initialPoses[fromTrajectoryID] = initialPoseAnchor{toTrajectoryID, relativePose, at}
	delete(pg.origins, fromTrajectoryID)
}

func (pg *poseGraph) FreezeTrajectory(trajectoryID int) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.ensureTrajectoryLocked(trajectoryID)
	pg.trajectoryStates[trajectoryID] = TrajectoryFrozen
}

func (pg *poseGraph) IsTrajectoryFrozen(trajectoryID int) bool {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.trajectoryStates[trajectoryID] == TrajectoryFrozen
}

func (pg *poseGraph) FinishTrajectory(trajectoryID int) {
	pg.mu.Lock()
	pg.ensureTrajectoryLocked(trajectoryID)
	if pg.trajectoryStates[trajectoryID] == TrajectoryActive {
		pg.trajectoryStates[trajectoryID] = TrajectoryFinished
	}
	delete(pg.activeSubmaps, trajectoryID)
	pg.mu.Unlock()

	pg.pool.Schedule(pg.runOptimizationPass)
}

func (pg *poseGraph) IsTrajectoryFinished(trajectoryID int) bool {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	state := pg.trajectoryStates[trajectoryID]
	return state == TrajectoryFinished || state == TrajectoryFrozen
}

func (pg *poseGraph) GetSubmapData(id SubmapID) SubmapData {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.submapDataLocked(id)
}

func (pg *poseGraph) submapDataLocked(id SubmapID) SubmapData {
	submap, ok := pg.submaps.Get(id)
	if !ok {
		return SubmapData{}
	}
	return SubmapData{Submap: submap, Pose: pg.submapPoses.At(id)}
}

func (pg *poseGraph) GetAllSubmapData() *MapByID[SubmapID, SubmapData] {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	out := NewMapByID[SubmapID, SubmapData]()
	for _, id := range pg.submaps.SortedIDs() {
		out.Insert(id, pg.submapDataLocked(id))
	}
	return out
}

func (pg *poseGraph) GetLocalCurrentSubmap() SubmapData {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.currentSubmapID == nil {
		return SubmapData{}
	}
	return pg.submapDataLocked(*pg.currentSubmapID)
}

func (pg *poseGraph) GetTrajectoryNodes() *MapByID[NodeID, TrajectoryNode] {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	out := NewMapByID[NodeID, TrajectoryNode]()
	for _, id := range pg.trajectoryNodes.SortedIDs() {
		out.Insert(id, pg.trajectoryNodes.At(id))
	}
	return out
}

func (pg *poseGraph) GetNodePoses() *MapByID[NodeID, transform.Rigid] {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return copyPoseMap(pg.nodePoses)
}

func (pg *poseGraph) Constraints() []Constraint {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	out := make([]Constraint, len(pg.constraints))
	copy(out, pg.constraints)
	return out
}

func (pg *poseGraph) GetSubmapNodes(id SubmapID) []NodeID {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	ids := NewMapByID[NodeID, bool]()
	for nodeID := range pg.submapNodes[id] {
		ids.Insert(nodeID, true)
	}
	return ids.SortedIDs()
}

func (pg *poseGraph) GetLandmarkPoses() map[string]transform.Rigid {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	out := make(map[string]transform.Rigid, len(pg.landmarkPoses))
	for id, pose := range pg.landmarkPoses {
		out[id] = pose
	}
	return out
}

func (pg *poseGraph) GetTrajectoryData() map[int]TrajectoryData {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	out := make(map[int]TrajectoryData, len(pg.trajectoryData))
	for id, data := range pg.trajectoryData {
		out[id] = data
	}
	return out
}

func (pg *poseGraph) GetTrajectoryStates() map[int]TrajectoryState {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	out := make(map[int]TrajectoryState, len(pg.trajectoryStates))
	for id, state := range pg.trajectoryStates {
		out[id] = state
	}
	return out
}

func (pg *poseGraph) SensorContext(trajectoryID int) SensorContext {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return SensorContext{
		IMU:            append([]sensor.IMUData(nil), pg.imuData[trajectoryID]...),
		Odometry:       append([]sensor.OdometryData(nil), pg.odometryData[trajectoryID]...),
		FixedFramePose: append([]sensor.FixedFramePoseData(nil), pg.fixedFrameData[trajectoryID]...),
		Landmark:       append([]sensor.LandmarkData(nil), pg.landmarkData[trajectoryID]...),
	}
}

func (pg *poseGraph) AddTrimmer(trimmer Trimmer) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.trimmers = append(pg.trimmers, trimmer)
}

func (pg *poseGraph) RunFinalOptimization() {
	pg.pool.Drain()
	pg.runOptimizationPass()
}

// runOptimizationPass snapshots the graph, solves unlocked, and applies the
// result under the lock, skipping frozen trajectories and entities trimmed
// in the meantime.
func (pg *poseGraph) runOptimizationPass() {
	pg.mu.Lock()
	snapshot := OptimizationSnapshot{
		NodePoses:          copyPoseMap(pg.nodePoses),
		SubmapPoses:        copyPoseMap(pg.submapPoses),
		Constraints:        append([]Constraint(nil), pg.constraints...),
		LandmarkPoses:      map[string]transform.Rigid{},
		FrozenTrajectories: map[int]bool{},
	}
	for id, pose := range pg.landmarkPoses {
		snapshot.LandmarkPoses[id] = pose
	}
	for id, state := range pg.trajectoryStates {
		if state == TrajectoryFrozen {
			snapshot.FrozenTrajectories[id] = true
		}
	}
	pg.mu.Unlock()

	result := pg.optimizer.Solve(snapshot)

	pg.mu.Lock()
	for id, pose := range result.NodePoses {
		if pg.trajectoryStates[id.TrajectoryID] == TrajectoryFrozen {
			continue
		}
		if pg.nodePoses.Contains(id) {
			pg.nodePoses.Set(id, pose)
		}
	}
	for id, pose := range result.SubmapPoses {
		if pg.trajectoryStates[id.TrajectoryID] == TrajectoryFrozen {
			continue
		}
		if pg.submapPoses.Contains(id) {
			pg.submapPoses.Set(id, pose)
		}
	}
	for id, pose := range result.LandmarkPoses {
		pg.landmarkPoses[id] = pose
	}
	pg.runTrimmersLocked()
	pg.mu.Unlock()
}

func (pg *poseGraph) runTrimmersLocked() {
	if len(pg.trimmers) == 0 {
		return
	}
	view := &trimmableView{pg}
	var remaining []Trimmer
	for _, trimmer := range pg.trimmers {
		trimmer.Trim(view)
		if !trimmer.IsFinished() {
			remaining = append(remaining, trimmer)
		}
	}
	pg.trimmers = remaining
}

// trimSubmapLocked removes a submap, detaches its constraints, and deletes
// nodes left without any surviving constraint. Node records referenced by
// constraints to other submaps are retained.
func (pg *poseGraph) trimSubmapLocked(id SubmapID) {
	if !pg.submaps.Contains(id) {
		return
	}
	pg.submaps.Trim(id)
	pg.submapPoses.Trim(id)
	delete(pg.submapNodes, id)
	pg.removeActiveSubmapLocked(id.TrajectoryID, id)
	if pg.currentSubmapID != nil && *pg.currentSubmapID == id {
		pg.currentSubmapID = nil
	}

	touched := map[NodeID]bool{}
	kept := pg.constraints[:0]
	for _, c := range pg.constraints {
		if c.SubmapID == id {
			touched[c.NodeID] = true
			continue
		}
		kept = append(kept, c)
	}
	pg.constraints = kept

	stillReferenced := map[NodeID]bool{}
	for _, c := range pg.constraints {
		stillReferenced[c.NodeID] = true
	}
	for nodeID := range touched {
		if stillReferenced[nodeID] {
			continue
		}
		if pg.trajectoryNodes.Contains(nodeID) {
			pg.trajectoryNodes.Trim(nodeID)
		}
		if pg.nodePoses.Contains(nodeID) {
			pg.nodePoses.Trim(nodeID)
		}
	}
}

func copyPoseMap[K compositeID](src *MapByID[K, transform.Rigid]) *MapByID[K, transform.Rigid] {
	out := NewMapByID[K, transform.Rigid]()
	for _, id := range src.SortedIDs() {
		out.Insert(id, src.At(id))
	}
	return out
}
