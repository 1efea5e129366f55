package mapping

import (
	"fmt"

	"github.com/cartograph-go/cartograph/transform"
)

// QueryFailureReason classifies why a submap query produced no payload.
type QueryFailureReason int

const (
	// QueryOutOfRange means the requested trajectory id is not known to the
	// orchestrator.
	QueryOutOfRange QueryFailureReason = iota
	// QueryNotFound means the entity does not exist, typically because it
	// was trimmed or never set.
	QueryNotFound
)

// QueryError reports a failed submap query. It is a normal outcome, not a
// fault: trimmed submaps and out-of-range trajectories are expected in
// mixed live/frozen deployments.
type QueryError struct {
	Reason  QueryFailureReason
	message string
}

func (e *QueryError) Error() string { return e.message }

func newQueryError(reason QueryFailureReason, format string, args ...interface{}) *QueryError {
	return &QueryError{Reason: reason, message: fmt.Sprintf(format, args...)}
}

// SubmapResponse is the query payload for one submap.
type SubmapResponse struct {
	SubmapVersion int
	Finished      bool
	GridData      []byte
	LocalPose     transform.Rigid
	GlobalPose    transform.Rigid
}

func newSubmapResponse(data SubmapData) *SubmapResponse {
	return &SubmapResponse{
		SubmapVersion: data.Submap.NumRangeData(),
		Finished:      data.Submap.InsertionFinished(),
		GridData:      data.Submap.GridData(),
		LocalPose:     data.Submap.LocalPose(),
		GlobalPose:    data.Pose,
	}
}
