// Package common holds helpers shared by several services.
//
// It provides a lightweight client for the release-info gRPC service with
// per-call timeouts, decoding responses back into release documents.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
