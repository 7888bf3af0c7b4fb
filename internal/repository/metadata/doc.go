// Package metadata persists the two release documents of an assets root: the
// version pointer (versionInfo.json) and the release ledger (prevReleases.json).
//
// Reads fail open to an empty document so that a fresh or damaged assets root can
// still be served; writes replace the file atomically and report
// MetadataWriteFailed.
package metadata
