// Package version exposes build metadata of the release tools.
//
// Version, Commit and BuildTime are injected at build time via ldflags.
package version
