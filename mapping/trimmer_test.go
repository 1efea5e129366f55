package mapping

import (
	"testing"

	"go.viam.com/test"

	"github.com/cartograph-go/cartograph/transform"
)

type fakeTrimView struct {
	submaps  *MapByID[SubmapID, SubmapData]
	nodes    *MapByID[NodeID, TrajectoryNode]
	finished map[int]bool
	trimmed  []SubmapID
}

func newFakeTrimView() *fakeTrimView {
	return &fakeTrimView{
		submaps:  NewMapByID[SubmapID, SubmapData](),
		nodes:    NewMapByID[NodeID, TrajectoryNode](),
		finished: map[int]bool{},
	}
}

func (v *fakeTrimView) NumSubmaps(trajectoryID int) int {
	return v.submaps.SizeOfTrajectory(trajectoryID)
}

func (v *fakeTrimView) GetOptimizedSubmapData() *MapByID[SubmapID, SubmapData] {
	return v.submaps
}

func (v *fakeTrimView) GetTrajectoryNodes() *MapByID[NodeID, TrajectoryNode] {
	return v.nodes
}

func (v *fakeTrimView) Constraints() []Constraint { return nil }

func (v *fakeTrimView) IsFinishedTrajectory(trajectoryID int) bool {
	return v.finished[trajectoryID]
}

func (v *fakeTrimView) TrimSubmap(id SubmapID) {
	v.submaps.Trim(id)
	v.trimmed = append(v.trimmed, id)
}

func (v *fakeTrimView) addSubmap(id SubmapID, cells []GridCell) {
	v.submaps.Insert(id, SubmapData{
		Submap: &fakeSubmap{finished: true, cells: cells},
		Pose:   transform.Identity(),
	})
}

func TestPureLocalizationTrimmerKeepsFreshest(t *testing.T) {
	view := newFakeTrimView()
	for i := 0; i < 5; i++ {
		view.addSubmap(SubmapID{0, i}, nil)
	}
	trimmer := NewPureLocalizationTrimmer(0, 3)
	trimmer.Trim(view)

	test.That(t, view.trimmed, test.ShouldResemble, []SubmapID{{0, 0}, {0, 1}})
	test.That(t, view.submaps.SortedIDs(), test.ShouldResemble,
		[]SubmapID{{0, 2}, {0, 3}, {0, 4}})
	test.That(t, trimmer.IsFinished(), test.ShouldBeFalse)
}

func TestPureLocalizationTrimmerIgnoresOtherTrajectories(t *testing.T) {
	view := newFakeTrimView()
	for i := 0; i < 4; i++ {
		view.addSubmap(SubmapID{1, i}, nil)
	}
	trimmer := NewPureLocalizationTrimmer(0, 2)
	trimmer.Trim(view)
	test.That(t, view.trimmed, test.ShouldBeEmpty)
}

func TestPureLocalizationTrimmerFinishesWithTrajectory(t *testing.T) {
	view := newFakeTrimView()
	view.addSubmap(SubmapID{0, 0}, nil)
	view.finished[0] = true
	trimmer := NewPureLocalizationTrimmer(0, 3)
	trimmer.Trim(view)
	test.That(t, trimmer.IsFinished(), test.ShouldBeTrue)
}

func TestOverlappingSubmapsTrimmer2DTrimsShadowedSubmaps(t *testing.T) {
	view := newFakeTrimView()
	// Submap 0 is almost fully covered again by submap 1; only cell (1,0)
	// remains uniquely its own.
	view.addSubmap(SubmapID{0, 0}, []GridCell{{0, 0}, {0, 1}, {1, 0}})
	view.addSubmap(SubmapID{0, 1}, []GridCell{{0, 0}, {0, 1}, {2, 2}, {2, 3}})

	trimmer := NewOverlappingSubmapsTrimmer2D(1, 2, 0)
	trimmer.Trim(view)

	test.That(t, view.trimmed, test.ShouldResemble, []SubmapID{{0, 0}})
	test.That(t, view.submaps.Contains(SubmapID{0, 1}), test.ShouldBeTrue)
	test.That(t, trimmer.IsFinished(), test.ShouldBeFalse)
}

func TestOverlappingSubmapsTrimmer2DIdleBelowMinimum(t *testing.T) {
	view := newFakeTrimView()
	view.addSubmap(SubmapID{0, 0}, []GridCell{{0, 0}})
	view.addSubmap(SubmapID{0, 1}, []GridCell{{0, 0}})

	trimmer := NewOverlappingSubmapsTrimmer2D(1, 1, 10)
	trimmer.Trim(view)
	test.That(t, view.trimmed, test.ShouldBeEmpty)
}

func TestTrimmingDropsDanglingConstraintsAndNodes(t *testing.T) {
	graph, _ := newTestGraph(t, PoseGraphOptions{}, nil)
	graph.AddTrimmer(NewPureLocalizationTrimmer(0, 3))

	// Each node lands in its own finished submap, so every finish event runs
	// the trimmer.
	for i := 0; i < 5; i++ {
		graph.AddNode(0, nodeAt(i*10, float64(i)), []Submap{&fakeSubmap{finished: true}})
	}

	submaps := graph.GetAllSubmapData()
	test.That(t, submaps.SortedIDs(), test.ShouldResemble,
		[]SubmapID{{0, 2}, {0, 3}, {0, 4}})

	// Nodes whose constraints all referenced trimmed submaps are gone too.
	nodes := graph.GetTrajectoryNodes()
	test.That(t, nodes.SortedIDs(), test.ShouldResemble,
		[]NodeID{{0, 2}, {0, 3}, {0, 4}})

	for _, constraint := range graph.Constraints() {
		test.That(t, submaps.Contains(constraint.SubmapID), test.ShouldBeTrue)
		test.That(t, nodes.Contains(constraint.NodeID), test.ShouldBeTrue)
	}
}

func TestIndicesNotReusedAfterTrimming(t *testing.T) {
	graph, _ := newTestGraph(t, PoseGraphOptions{}, nil)
	graph.AddTrimmer(NewOverlappingSubmapsTrimmer2D(1, 10, 0))

	// Two nodes in two finished submaps covering the same single cell; on
	// the second finish event both fall below the retained-area threshold,
	// so both submaps and both nodes are removed.
	cells := []GridCell{{0, 0}}
	graph.AddNode(0, nodeAt(0, 0), []Submap{&fakeSubmap{finished: true, cells: cells}})
	graph.AddNode(0, nodeAt(10, 1), []Submap{&fakeSubmap{finished: true, cells: cells}})
	test.That(t, graph.GetAllSubmapData().Len(), test.ShouldEqual, 0)
	test.That(t, graph.GetTrajectoryNodes().Len(), test.ShouldEqual, 0)

	// Fresh indices continue past the trimmed ones.
	nodeID := graph.AddNode(0, nodeAt(20, 2), []Submap{&fakeSubmap{}})
	test.That(t, nodeID, test.ShouldResemble, NodeID{0, 2})
	test.That(t, graph.GetAllSubmapData().SortedIDs(), test.ShouldResemble, []SubmapID{{0, 2}})
}

func TestIndicesContinueAfterRestore(t *testing.T) {
	graph, _ := newTestGraph(t, PoseGraphOptions{}, nil)
	graph.AddNodeFromProto(transform.Identity(), &NodeRecord{NodeID: NodeID{0, 4}})
	graph.AddSubmapFromProto(transform.Identity(), &SubmapRecord{SubmapID: SubmapID{0, 2}})

	nodeID := graph.AddNode(0, nodeAt(0, 0), []Submap{&fakeSubmap{}})
	test.That(t, nodeID, test.ShouldResemble, NodeID{0, 5})
	test.That(t, graph.GetAllSubmapData().SortedIDs(), test.ShouldResemble,
		[]SubmapID{{0, 2}, {0, 3}})
}
