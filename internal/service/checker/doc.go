// Package checker polls the release-info service and logs when the published
// version changes.
package checker
