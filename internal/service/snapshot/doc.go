// Package snapshot captures the live state of an assets root before a deployment
// and restores it when the deployment fails.
//
// A snapshot is a directory named by a second-resolution timestamp. It holds
// copies of the metadata documents, any release directory displaced from the
// assets root, and a snapshot.yaml manifest describing both, so that a snapshot
// left behind by a crash can be restored by hand.
package snapshot
