package mapping

// Trimmable is the view of the pose graph handed to trimmers. It is only
// valid for the duration of one Trim call.
type Trimmable interface {
	NumSubmaps(trajectoryID int) int
	GetOptimizedSubmapData() *MapByID[SubmapID, SubmapData]
	GetTrajectoryNodes() *MapByID[NodeID, TrajectoryNode]
	Constraints() []Constraint
	IsFinishedTrajectory(trajectoryID int) bool
	TrimSubmap(id SubmapID)
}

// Trimmer is a pluggable eviction policy invoked by the pose graph after
// each optimization pass and after submap-finish events. Once IsFinished
// reports true the trimmer is dropped.
type Trimmer interface {
	Trim(view Trimmable)
	IsFinished() bool
}

// trimmableView adapts the locked pose graph for trimmer callbacks. All
// methods assume pg.mu is held by the caller of runTrimmersLocked.
type trimmableView struct {
	pg *poseGraph
}

func (v *trimmableView) NumSubmaps(trajectoryID int) int {
	return v.pg.submaps.SizeOfTrajectory(trajectoryID)
}

func (v *trimmableView) GetOptimizedSubmapData() *MapByID[SubmapID, SubmapData] {
	out := NewMapByID[SubmapID, SubmapData]()
	for _, id := range v.pg.submaps.SortedIDs() {
		out.Insert(id, v.pg.submapDataLocked(id))
	}
	return out
}

func (v *trimmableView) GetTrajectoryNodes() *MapByID[NodeID, TrajectoryNode] {
	out := NewMapByID[NodeID, TrajectoryNode]()
	for _, id := range v.pg.trajectoryNodes.SortedIDs() {
		out.Insert(id, v.pg.trajectoryNodes.At(id))
	}
	return out
}

func (v *trimmableView) Constraints() []Constraint {
	return v.pg.constraints
}

func (v *trimmableView) IsFinishedTrajectory(trajectoryID int) bool {
	state := v.pg.trajectoryStates[trajectoryID]
	return state == TrajectoryFinished || state == TrajectoryFrozen
}

func (v *trimmableView) TrimSubmap(id SubmapID) {
	v.pg.trimSubmapLocked(id)
}

// pureLocalizationTrimmer keeps only the most recent submaps of one
// trajectory. Older submaps contribute nothing once the robot has moved on
// and is localizing against a frozen reference map.
type pureLocalizationTrimmer struct {
	trajectoryID     int
	maxSubmapsToKeep int
	finished         bool
}

// NewPureLocalizationTrimmer returns a trimmer keeping the
// maxSubmapsToKeep freshest submaps of trajectoryID.
func NewPureLocalizationTrimmer(trajectoryID, maxSubmapsToKeep int) Trimmer {
	if maxSubmapsToKeep < 1 {
		panic("mapping: maxSubmapsToKeep must be positive")
	}
	return &pureLocalizationTrimmer{trajectoryID: trajectoryID, maxSubmapsToKeep: maxSubmapsToKeep}
}

func (t *pureLocalizationTrimmer) Trim(view Trimmable) {
	if t.finished {
		return
	}
	submapData := view.GetOptimizedSubmapData()
	ids := submapData.IDsOfTrajectory(t.trajectoryID)
	for len(ids) > t.maxSubmapsToKeep {
		view.TrimSubmap(ids[0])
		ids = ids[1:]
	}
	if view.IsFinishedTrajectory(t.trajectoryID) {
		t.finished = true
	}
}

func (t *pureLocalizationTrimmer) IsFinished() bool { return t.finished }

// overlappingSubmapsTrimmer2D evicts finished submaps whose coverage is
// almost entirely shadowed by fresher submaps.
type overlappingSubmapsTrimmer2D struct {
	freshSubmapsCount    int
	minCoveredArea       float64
	minAddedSubmapsCount int
	trimmedSubmapsCount  int
}

// NewOverlappingSubmapsTrimmer2D returns a trimmer that keeps each grid
// cell's freshSubmapsCount freshest finished submaps and trims submaps
// whose retained covered cell count falls below minCoveredArea. It stays
// idle until at least minAddedSubmapsCount finished submaps exist.
func NewOverlappingSubmapsTrimmer2D(freshSubmapsCount int, minCoveredArea float64, minAddedSubmapsCount int) Trimmer {
	return &overlappingSubmapsTrimmer2D{
		freshSubmapsCount:    freshSubmapsCount,
		minCoveredArea:       minCoveredArea,
		minAddedSubmapsCount: minAddedSubmapsCount,
	}
}

func (t *overlappingSubmapsTrimmer2D) Trim(view Trimmable) {
	submapData := view.GetOptimizedSubmapData()
	var finished []SubmapID
	for _, id := range submapData.SortedIDs() {
		if submapData.At(id).Submap.InsertionFinished() {
			finished = append(finished, id)
		}
	}
	if len(finished)+t.trimmedSubmapsCount < t.minAddedSubmapsCount {
		return
	}
	if len(finished) <= t.freshSubmapsCount {
		return
	}

	// Per cell, all covering submaps in insertion order; only cells whose
	// freshest freshSubmapsCount covers include a submap count toward its
	// retained area.
	coverage := map[GridCell][]int{}
	for i, id := range finished {
		for _, cell := range submapData.At(id).Submap.CoveredCells() {
			coverage[cell] = append(coverage[cell], i)
		}
	}
	retained := make([]int, len(finished))
	for _, covering := range coverage {
		fresh := covering
		if len(fresh) > t.freshSubmapsCount {
			fresh = fresh[len(fresh)-t.freshSubmapsCount:]
		}
		for _, i := range fresh {
			retained[i]++
		}
	}
	for i, id := range finished {
		if float64(retained[i]) < t.minCoveredArea {
			view.TrimSubmap(id)
			t.trimmedSubmapsCount++
		}
	}
}

func (t *overlappingSubmapsTrimmer2D) IsFinished() bool { return false }
