// Package integration exercises the release tools end to end against a real
// release server listening on local ports.
package integration
