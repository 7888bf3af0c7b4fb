// Package config defines the release server settings and provides helpers to
// load, validate and save them in YAML format.
//
// Paths resolves every file system location used by a deployment once, so the
// components receive absolute paths instead of reading configuration themselves.
package config
