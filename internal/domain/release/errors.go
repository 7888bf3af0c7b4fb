package release

import (
	"errors"
	"fmt"
)

// Error kinds reported by the pipeline. Components wrap the underlying cause
// with Wrap so that callers can match the kind with errors.Is and still log the cause.
var (
	// ErrInvalidLabel means the uploaded file name does not match the declared version name.
	ErrInvalidLabel = errors.New("InvalidLabel")
	// ErrInvalidBundle means the archive structure or its embedded documents are wrong.
	ErrInvalidBundle = errors.New("InvalidBundle")
	// ErrBackupFailed means the pre-flight snapshot could not be taken.
	ErrBackupFailed = errors.New("BackupFailed")
	// ErrExtractionFailed means the bundle could not be read or unpacked.
	ErrExtractionFailed = errors.New("ExtractionFailed")
	// ErrInvalidReleaseRecord means a ledger record misses a required field or locale.
	ErrInvalidReleaseRecord = errors.New("InvalidReleaseRecord")
	// ErrMetadataWriteFailed means a metadata document or the release directory could not be written.
	ErrMetadataWriteFailed = errors.New("MetadataWriteFailed")
	// ErrDeploymentInProgress means another deployment owns the assets root.
	ErrDeploymentInProgress = errors.New("DeploymentInProgress")
	// ErrRollbackIncomplete means restoring a snapshot hit a secondary failure.
	ErrRollbackIncomplete = errors.New("RollbackIncomplete")
)

// kinds lists every kind in matching order.
//
//nolint:gochecknoglobals // Immutable lookup table.
var kinds = []error{
	ErrInvalidLabel,
	ErrInvalidBundle,
	ErrBackupFailed,
	ErrExtractionFailed,
	ErrInvalidReleaseRecord,
	ErrMetadataWriteFailed,
	ErrDeploymentInProgress,
	ErrRollbackIncomplete,
}

// Wrap attaches the error kind to the cause.
// A nil cause produces the bare kind; an error that already carries a kind is returned as is.
func Wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}

	if KindOf(cause) != "" {
		return cause
	}

	return fmt.Errorf("%w: %w", kind, cause)
}

// KindOf returns the name of the first error kind found in the chain, or "" when none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}

	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}

	return ""
}
