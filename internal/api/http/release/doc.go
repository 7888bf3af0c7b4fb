// Package release exposes the release pipeline over HTTP.
//
// Routes, relative to the configured base path:
//
//	GET  /               health text
//	POST /createRelease  multipart upload (file "release", field "versionName")
//	GET  /latestVersion  current version pointer
//	GET  /prevReleases   release ledger
//	GET  /metrics        Prometheus metrics
//
// Every other path is served from the assets root, so published releases can be
// downloaded from the same server.
package release
