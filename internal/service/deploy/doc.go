// Package deploy runs the release deployment pipeline.
//
// A deployment derives the label from the uploaded file name, takes a snapshot of
// the assets root, inspects the bundle, moves the release directory into place
// and commits the version pointer and the release ledger. Any failure after the
// snapshot restores the assets root to its previous state. Guard serializes
// deployments within the process and across processes sharing a work directory.
package deploy
