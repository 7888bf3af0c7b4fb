// Package fsutil holds the file system primitives shared by the metadata store,
// the snapshot manager and the deployment orchestrator.
//
// ReplaceFile swaps a file's content atomically through go-update with a
// checksum check; MoveDir and CopyFile relocate release files, falling back to a
// copy when a rename crosses devices.
package fsutil
