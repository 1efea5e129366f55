// Package mapping contains the global pose graph, the trajectory builders
// feeding it, trimmer policies and the map builder that orchestrates them.
package mapping

import (
	"fmt"
	"sort"
)

// NodeID identifies one local pose estimate within a trajectory.
type NodeID struct {
	TrajectoryID int
	NodeIndex    int
}

func (id NodeID) String() string {
	return fmt.Sprintf("(%d, %d)", id.TrajectoryID, id.NodeIndex)
}

func (id NodeID) trajectory() int { return id.TrajectoryID }
func (id NodeID) localIndex() int { return id.NodeIndex }

// SubmapID identifies one locally built partial map within a trajectory.
type SubmapID struct {
	TrajectoryID int
	SubmapIndex  int
}

func (id SubmapID) String() string {
	return fmt.Sprintf("(%d, %d)", id.TrajectoryID, id.SubmapIndex)
}

func (id SubmapID) trajectory() int { return id.TrajectoryID }
func (id SubmapID) localIndex() int { return id.SubmapIndex }

type compositeID interface {
	comparable
	trajectory() int
	localIndex() int
}

// MapByID is an associative container keyed by a two-part (trajectory,
// index) id, iterable in order first by trajectory id then by local index.
// It carries no trajectory semantics of its own.
type MapByID[K compositeID, V any] struct {
	data map[K]V
	ids  []K
}

// NewMapByID returns an empty container.
func NewMapByID[K compositeID, V any]() *MapByID[K, V] {
	return &MapByID[K, V]{data: map[K]V{}}
}

func lessID[K compositeID](a, b K) bool {
	if a.trajectory() != b.trajectory() {
		return a.trajectory() < b.trajectory()
	}
	return a.localIndex() < b.localIndex()
}

// Insert adds a new entry. Inserting a duplicate key is a programmer error.
func (m *MapByID[K, V]) Insert(id K, value V) {
	if _, ok := m.data[id]; ok {
		panic(fmt.Sprintf("mapping: duplicate id %v", id))
	}
	m.data[id] = value
	i := sort.Search(len(m.ids), func(i int) bool { return !lessID(m.ids[i], id) })
	m.ids = append(m.ids, id)
	copy(m.ids[i+1:], m.ids[i:])
	m.ids[i] = id
}

// At returns the value for id. A missing key is a programmer error.
func (m *MapByID[K, V]) At(id K) V {
	v, ok := m.data[id]
	if !ok {
		panic(fmt.Sprintf("mapping: id %v not found", id))
	}
	return v
}

// Get returns the value for id and whether it exists.
func (m *MapByID[K, V]) Get(id K) (V, bool) {
	v, ok := m.data[id]
	return v, ok
}

// Contains reports whether id exists.
func (m *MapByID[K, V]) Contains(id K) bool {
	_, ok := m.data[id]
	return ok
}

// Set overwrites or inserts the value for id.
func (m *MapByID[K, V]) Set(id K, value V) {
	if _, ok := m.data[id]; ok {
		m.data[id] = value
		return
	}
	m.Insert(id, value)
}

// Trim removes an entry. Trimming a missing key is a programmer error.
func (m *MapByID[K, V]) Trim(id K) {
	if _, ok := m.data[id]; !ok {
		panic(fmt.Sprintf("mapping: id %v not found", id))
	}
	delete(m.data, id)
	i := sort.Search(len(m.ids), func(i int) bool { return !lessID(m.ids[i], id) })
	m.ids = append(m.ids[:i], m.ids[i+1:]...)
}

// Len returns the number of entries.
func (m *MapByID[K, V]) Len() int { return len(m.data) }

// SortedIDs returns all ids in iteration order.
func (m *MapByID[K, V]) SortedIDs() []K {
	out := make([]K, len(m.ids))
	copy(out, m.ids)
	return out
}

// IDsOfTrajectory returns the ids belonging to one trajectory in index
// order.
func (m *MapByID[K, V]) IDsOfTrajectory(trajectoryID int) []K {
	var out []K
	for _, id := range m.ids {
		if id.trajectory() == trajectoryID {
			out = append(out, id)
		}
	}
	return out
}

// SizeOfTrajectory returns the number of entries for one trajectory.
func (m *MapByID[K, V]) SizeOfTrajectory(trajectoryID int) int {
	n := 0
	for _, id := range m.ids {
		if id.trajectory() == trajectoryID {
			n++
		}
	}
	return n
}

// TrajectoryIDs returns the distinct trajectory ids present, ascending.
func (m *MapByID[K, V]) TrajectoryIDs() []int {
	var out []int
	for _, id := range m.ids {
		if len(out) == 0 || out[len(out)-1] != id.trajectory() {
			out = append(out, id.trajectory())
		}
	}
	return out
}

// LastIndexOfTrajectory returns the highest local index present for a
// trajectory, or -1 when the trajectory has no entries.
func (m *MapByID[K, V]) LastIndexOfTrajectory(trajectoryID int) int {
	last := -1
	for _, id := range m.ids {
		if id.trajectory() == trajectoryID && id.localIndex() > last {
			last = id.localIndex()
		}
	}
	return last
}
