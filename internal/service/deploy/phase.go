package deploy

import (
	"context"

	"github.com/cha777/pro11-push-update-server/internal/logger"
	"github.com/cha777/pro11-push-update-server/internal/service/snapshot"
)

// phase is a state of the deployment state machine.
type phase int

const (
	phaseStart phase = iota
	phaseSnapshotTaken
	phaseBundleValidated
	phaseMetadataExtracted
	phaseReleasePlaced
	phaseMetadataCommitted
	phaseCleanedUp
	phaseRolledBack
)

func (p phase) String() string {
	switch p {
	case phaseStart:
		return "START"
	case phaseSnapshotTaken:
		return "SNAPSHOT_TAKEN"
	case phaseBundleValidated:
		return "BUNDLE_VALIDATED"
	case phaseMetadataExtracted:
		return "METADATA_EXTRACTED"
	case phaseReleasePlaced:
		return "RELEASE_PLACED"
	case phaseMetadataCommitted:
		return "METADATA_COMMITTED"
	case phaseCleanedUp:
		return "CLEANED_UP"
	case phaseRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// deployment is the state of one Deploy call.
type deployment struct {
	// deploymentID identifies the deployment in logs and events.
	deploymentID string
	// label is derived from the uploaded file name.
	label string
	// request is the original request.
	request Request
	// phase is the current state.
	phase phase
	// handle is the snapshot taken for this deployment.
	handle *snapshot.Handle
	// placedDir is set once the release directory starts moving into the assets root.
	placedDir string
}

func (d *deployment) advance(ctx context.Context, next phase) {
	logger.DebugKV(ctx, "Deployment phase changed", "from", d.phase.String(), "to", next.String())

	d.phase = next
}
