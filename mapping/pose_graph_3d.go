package mapping

import (
	"github.com/edaniels/golog"

	"github.com/cartograph-go/cartograph/transform"
	"github.com/cartograph-go/cartograph/workers"
)

// poseGraph3D keeps full 6DOF poses.
type poseGraph3D struct {
	*poseGraph
}

// NewPoseGraph3D returns the full 3D pose graph variant.
func NewPoseGraph3D(options PoseGraphOptions, optimizer Optimizer, pool *workers.Pool, logger golog.Logger) PoseGraph {
	return &poseGraph3D{newPoseGraph(options, optimizer, pool, logger, func(p transform.Rigid) transform.Rigid {
		return p
	})}
}
