package mapping

import (
	"testing"

	"go.viam.com/test"
)

func TestMapByIDInsertAndAt(t *testing.T) {
	m := NewMapByID[NodeID, string]()
	m.Insert(NodeID{0, 0}, "a")
	m.Insert(NodeID{0, 1}, "b")
	test.That(t, m.At(NodeID{0, 0}), test.ShouldEqual, "a")
	test.That(t, m.Len(), test.ShouldEqual, 2)
	test.That(t, func() { m.Insert(NodeID{0, 1}, "dup") }, test.ShouldPanic)
	test.That(t, func() { m.At(NodeID{3, 0}) }, test.ShouldPanic)
}

func TestMapByIDOrderedIteration(t *testing.T) {
	m := NewMapByID[SubmapID, int]()
	m.Insert(SubmapID{1, 1}, 11)
	m.Insert(SubmapID{0, 2}, 2)
	m.Insert(SubmapID{1, 0}, 10)
	m.Insert(SubmapID{0, 0}, 0)

	test.That(t, m.SortedIDs(), test.ShouldResemble, []SubmapID{
		{0, 0}, {0, 2}, {1, 0}, {1, 1},
	})
	test.That(t, m.IDsOfTrajectory(1), test.ShouldResemble, []SubmapID{{1, 0}, {1, 1}})
	test.That(t, m.TrajectoryIDs(), test.ShouldResemble, []int{0, 1})
	test.That(t, m.SizeOfTrajectory(0), test.ShouldEqual, 2)
	test.That(t, m.LastIndexOfTrajectory(0), test.ShouldEqual, 2)
	test.That(t, m.LastIndexOfTrajectory(5), test.ShouldEqual, -1)
}

func TestMapByIDTrim(t *testing.T) {
	m := NewMapByID[SubmapID, int]()
	m.Insert(SubmapID{0, 0}, 0)
	m.Insert(SubmapID{0, 1}, 1)
	m.Trim(SubmapID{0, 0})
	test.That(t, m.Contains(SubmapID{0, 0}), test.ShouldBeFalse)
	test.That(t, m.SortedIDs(), test.ShouldResemble, []SubmapID{{0, 1}})
	test.That(t, func() { m.Trim(SubmapID{0, 0}) }, test.ShouldPanic)
}
