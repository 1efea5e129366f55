package mapping

import (
	"github.com/edaniels/golog"

	"github.com/cartograph-go/cartograph/transform"
	"github.com/cartograph-go/cartograph/workers"
)

// poseGraph2D constrains the graph to the XY plane: every incoming local
// pose is flattened to its planar component before entering the graph.
type poseGraph2D struct {
	*poseGraph
}

// NewPoseGraph2D returns the planar pose graph variant.
func NewPoseGraph2D(options PoseGraphOptions, optimizer Optimizer, pool *workers.Pool, logger golog.Logger) PoseGraph {
	return &poseGraph2D{newPoseGraph(options, optimizer, pool, logger, func(p transform.Rigid) transform.Rigid {
		return p.ProjectToXY()
	})}
}
