package mapping

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/cartograph-go/cartograph/transform"
)

// SensorType classifies the sensors a trajectory expects.
type SensorType int32

const (
	// RangeSensor produces range scans consumed by local estimation.
	RangeSensor SensorType = iota
	// IMUSensor produces inertial measurements.
	IMUSensor
	// OdometrySensor produces odometry poses.
	OdometrySensor
	// FixedFramePoseSensor produces poses in a fixed external frame.
	FixedFramePoseSensor
	// LandmarkSensor produces landmark observations.
	LandmarkSensor
)

// SensorID names one expected sensor of a trajectory.
type SensorID struct {
	Type SensorType
	Name string
}

// InitialTrajectoryPose anchors a trajectory's origin relative to another
// trajectory's pose at a given time, so trajectories recorded with a known
// rigid offset start approximately aligned.
type InitialTrajectoryPose struct {
	ToTrajectoryID int
	RelativePose   transform.Rigid
	At             time.Time
}

// OverlappingSubmapsTrimmer2DOptions configures the overlap trimmer for a
// 2D trajectory.
type OverlappingSubmapsTrimmer2DOptions struct {
	FreshSubmapsCount    int     `mapstructure:"fresh_submaps_count"`
	MinCoveredArea       float64 `mapstructure:"min_covered_area"`
	MinAddedSubmapsCount int     `mapstructure:"min_added_submaps_count"`
}

// TrajectoryBuilder2DOptions configures planar local estimation. The graph
// only needs the grid resolution, to convert covered area into cells.
type TrajectoryBuilder2DOptions struct {
	GridResolution float64 `mapstructure:"grid_resolution"`
}

// TrajectoryBuilder3DOptions configures 3D local estimation.
type TrajectoryBuilder3DOptions struct{}

// TrajectoryBuilderOptions configures one trajectory.
type TrajectoryBuilderOptions struct {
	TrajectoryBuilder2DOptions  *TrajectoryBuilder2DOptions         `mapstructure:"trajectory_builder_2d"`
	TrajectoryBuilder3DOptions  *TrajectoryBuilder3DOptions         `mapstructure:"trajectory_builder_3d"`
	PureLocalization            bool                                `mapstructure:"pure_localization"`
	InitialTrajectoryPose       *InitialTrajectoryPose              `mapstructure:"-"`
	OverlappingSubmapsTrimmer2D *OverlappingSubmapsTrimmer2DOptions `mapstructure:"overlapping_submaps_trimmer_2d"`
}

// LocalTrajectoryBuilderFactory constructs the external local estimator for
// a new trajectory. A nil factory, or a nil return, leaves the trajectory
// without local estimation.
type LocalTrajectoryBuilderFactory func(options TrajectoryBuilderOptions, rangeSensorIDs []string) LocalTrajectoryBuilder

// MapBuilderOptions configures the orchestrator.
type MapBuilderOptions struct {
	UseTrajectoryBuilder2D bool             `mapstructure:"use_trajectory_builder_2d"`
	UseTrajectoryBuilder3D bool             `mapstructure:"use_trajectory_builder_3d"`
	NumBackgroundThreads   int              `mapstructure:"num_background_threads"`
	CollateByTrajectory    bool             `mapstructure:"collate_by_trajectory"`
	PoseGraph              PoseGraphOptions `mapstructure:"pose_graph"`

	// Optimizer and LocalBuilderFactory are wiring, not configuration, and
	// never serialize.
	Optimizer           Optimizer                     `mapstructure:"-"`
	LocalBuilderFactory LocalTrajectoryBuilderFactory `mapstructure:"-"`
}

// Validate checks option consistency.
func (o MapBuilderOptions) Validate() error {
	if o.UseTrajectoryBuilder2D == o.UseTrajectoryBuilder3D {
		return errors.New("mapping: exactly one of use_trajectory_builder_2d and use_trajectory_builder_3d must be set")
	}
	if o.NumBackgroundThreads < 0 {
		return errors.New("mapping: num_background_threads must be non-negative")
	}
	return nil
}

// MapBuilderOptionsFromAttributes decodes options from an untyped
// attribute map.
func MapBuilderOptionsFromAttributes(attrs map[string]interface{}) (MapBuilderOptions, error) {
	var options MapBuilderOptions
	if err := mapstructure.Decode(attrs, &options); err != nil {
		return MapBuilderOptions{}, errors.Wrap(err, "decoding map builder options")
	}
	if err := options.Validate(); err != nil {
		return MapBuilderOptions{}, err
	}
	return options, nil
}

func selectRangeSensorIDs(expectedSensorIDs []SensorID) []string {
	var out []string
	for _, id := range expectedSensorIDs {
		if id.Type == RangeSensor {
			out = append(out, id.Name)
		}
	}
	return out
}

func sensorNames(expectedSensorIDs []SensorID) map[string]bool {
	out := make(map[string]bool, len(expectedSensorIDs))
	for _, id := range expectedSensorIDs {
		out[id.Name] = true
	}
	return out
}
