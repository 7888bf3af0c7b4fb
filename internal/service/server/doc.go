// Package server runs the release server: the HTTP deployment API, the optional
// gRPC release-info service and everything they depend on, built once from the
// configuration and stopped gracefully when the context ends.
package server
