package mapping

import (
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/cartograph-go/cartograph/sensor/collator"
	"github.com/cartograph-go/cartograph/workers"
)

// MapBuilder owns the single global pose graph shared by all trajectories
// and wires sensor collation into it. Serialization lives in package mapio
// and operates on this interface.
type MapBuilder interface {
	// AddTrajectoryBuilder allocates the next trajectory id and wires a new
	// adapter from the collator into the pose graph.
	AddTrajectoryBuilder(expectedSensorIDs []SensorID, options TrajectoryBuilderOptions, cb LocalSlamResultCallback) int

	// AddTrajectoryForDeserialization allocates an id with identical
	// bookkeeping but a placeholder adapter; used exclusively while loading.
	AddTrajectoryForDeserialization(options TrajectoryBuilderOptionsWithSensorIDs) int

	// GetTrajectoryBuilder returns the adapter for a trajectory, nil for
	// deserialization placeholders.
	GetTrajectoryBuilder(trajectoryID int) TrajectoryBuilder

	// FinishTrajectory cascades to both the collator and the pose graph.
	FinishTrajectory(trajectoryID int) error

	NumTrajectoryBuilders() int
	AllTrajectoryBuilderOptions() []TrajectoryBuilderOptionsWithSensorIDs
	PoseGraph() PoseGraph

	// SubmapQuery returns the submap payload, or a *QueryError describing
	// why it is unavailable; a query failure is not fatal.
	SubmapQuery(id SubmapID) (*SubmapResponse, error)
	LocalSubmapQuery() (*SubmapResponse, error)

	// Close drains background work and shuts the worker pool down.
	Close() error
}

type mapBuilder struct {
	logger         golog.Logger
	options        MapBuilderOptions
	pool           *workers.Pool
	poseGraph      PoseGraph
	sensorCollator collator.Collator

	mu                 sync.Mutex
	trajectoryBuilders []TrajectoryBuilder
	allOptions         []TrajectoryBuilderOptionsWithSensorIDs
}

// NewMapBuilder constructs the orchestrator. Inconsistent options are a
// programmer error.
func NewMapBuilder(options MapBuilderOptions, logger golog.Logger) MapBuilder {
	if err := options.Validate(); err != nil {
		panic(err)
	}
	pool := workers.NewPool(options.NumBackgroundThreads, logger)
	var graph PoseGraph
	if options.UseTrajectoryBuilder2D {
		graph = NewPoseGraph2D(options.PoseGraph, options.Optimizer, pool, logger)
	} else {
		graph = NewPoseGraph3D(options.PoseGraph, options.Optimizer, pool, logger)
	}
	var sensorCollator collator.Collator
	if options.CollateByTrajectory {
		sensorCollator = collator.NewTrajectoryCollator(logger)
	} else {
		sensorCollator = collator.NewCollator(logger)
	}
	return &mapBuilder{
		logger:         logger,
		options:        options,
		pool:           pool,
		poseGraph:      graph,
		sensorCollator: sensorCollator,
	}
}

func (m *mapBuilder) AddTrajectoryBuilder(
	expectedSensorIDs []SensorID,
	options TrajectoryBuilderOptions,
	cb LocalSlamResultCallback,
) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	trajectoryID := len(m.trajectoryBuilders)

	var localBuilder LocalTrajectoryBuilder
	if m.options.LocalBuilderFactory != nil {
		localBuilder = m.options.LocalBuilderFactory(options, selectRangeSensorIDs(expectedSensorIDs))
	}
	wrapped := newGlobalTrajectoryBuilder(localBuilder, trajectoryID, m.poseGraph, cb, m.logger)
	builder := newCollatedTrajectoryBuilder(m.sensorCollator, trajectoryID, sensorNames(expectedSensorIDs), wrapped, m.logger)
	m.trajectoryBuilders = append(m.trajectoryBuilders, builder)

	if m.options.UseTrajectoryBuilder2D && options.OverlappingSubmapsTrimmer2D != nil {
		trimmerOptions := options.OverlappingSubmapsTrimmer2D
		minCoveredCells := trimmerOptions.MinCoveredArea
		if options.TrajectoryBuilder2DOptions != nil && options.TrajectoryBuilder2DOptions.GridResolution > 0 {
			resolution := options.TrajectoryBuilder2DOptions.GridResolution
			minCoveredCells = trimmerOptions.MinCoveredArea / (resolution * resolution)
		}
		m.poseGraph.AddTrimmer(NewOverlappingSubmapsTrimmer2D(
			trimmerOptions.FreshSubmapsCount,
			minCoveredCells,
			trimmerOptions.MinAddedSubmapsCount,
		))
	}
	if options.PureLocalization {
		const submapsToKeep = 3
		m.poseGraph.AddTrimmer(NewPureLocalizationTrimmer(trajectoryID, submapsToKeep))
	}
	if options.InitialTrajectoryPose != nil {
		initial := options.InitialTrajectoryPose
		m.poseGraph.SetInitialTrajectoryPose(trajectoryID, initial.ToTrajectoryID, initial.RelativePose, initial.At)
	}

	m.allOptions = append(m.allOptions, TrajectoryBuilderOptionsWithSensorIDs{
		SensorIDs: append([]SensorID(nil), expectedSensorIDs...),
		Options:   options,
	})
	m.checkBuilderOptionsCountLocked()
	return trajectoryID
}

func (m *mapBuilder) AddTrajectoryForDeserialization(options TrajectoryBuilderOptionsWithSensorIDs) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	trajectoryID := len(m.trajectoryBuilders)
	m.trajectoryBuilders = append(m.trajectoryBuilders, nil)
	m.allOptions = append(m.allOptions, options)
	m.checkBuilderOptionsCountLocked()
	return trajectoryID
}

func (m *mapBuilder) checkBuilderOptionsCountLocked() {
	if len(m.trajectoryBuilders) != len(m.allOptions) {
		panic("mapping: trajectory builder and options counts diverged")
	}
}

func (m *mapBuilder) GetTrajectoryBuilder(trajectoryID int) TrajectoryBuilder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if trajectoryID < 0 || trajectoryID >= len(m.trajectoryBuilders) {
		return nil
	}
	return m.trajectoryBuilders[trajectoryID]
}

func (m *mapBuilder) FinishTrajectory(trajectoryID int) error {
	m.mu.Lock()
	if trajectoryID < 0 || trajectoryID >= len(m.trajectoryBuilders) {
		m.mu.Unlock()
		return errors.Errorf("mapping: cannot finish unknown trajectory %d", trajectoryID)
	}
	builder := m.trajectoryBuilders[trajectoryID]
	m.mu.Unlock()

	var err error
	if builder != nil {
		err = m.sensorCollator.FinishTrajectory(trajectoryID)
	}
	m.poseGraph.FinishTrajectory(trajectoryID)
	return err
}

func (m *mapBuilder) NumTrajectoryBuilders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trajectoryBuilders)
}

func (m *mapBuilder) AllTrajectoryBuilderOptions() []TrajectoryBuilderOptionsWithSensorIDs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TrajectoryBuilderOptionsWithSensorIDs(nil), m.allOptions...)
}

func (m *mapBuilder) PoseGraph() PoseGraph { return m.poseGraph }

func (m *mapBuilder) SubmapQuery(id SubmapID) (*SubmapResponse, error) {
	numTrajectories := m.NumTrajectoryBuilders()
	if id.TrajectoryID < 0 || id.TrajectoryID >= numTrajectories {
		return nil, newQueryError(QueryOutOfRange,
			"requested submap from trajectory %d but there are only %d trajectories",
			id.TrajectoryID, numTrajectories)
	}
	data := m.poseGraph.GetSubmapData(id)
	if data.Submap == nil {
		return nil, newQueryError(QueryNotFound,
			"requested submap %d from trajectory %d but it does not exist: maybe it has been trimmed",
			id.SubmapIndex, id.TrajectoryID)
	}
	return newSubmapResponse(data), nil
}

func (m *mapBuilder) LocalSubmapQuery() (*SubmapResponse, error) {
	data := m.poseGraph.GetLocalCurrentSubmap()
	if data.Submap == nil {
		return nil, newQueryError(QueryNotFound,
			"requested local submap but it does not exist: maybe it has not been set")
	}
	return newSubmapResponse(data), nil
}

// Close flushes pending collation, lets scheduled optimization finish and
// stops the worker pool.
func (m *mapBuilder) Close() error {
	m.sensorCollator.Flush()
	m.poseGraph.RunFinalOptimization()
	m.pool.Close()
	return nil
}
