// Package release contains core domain types of the release pipeline.
//
// It defines the persisted documents (VersionPointer, ReleaseLedger and
// ReleaseRecord), the documents carried inside an uploaded bundle (VersionInfo,
// ReleaseNote), the label rules that tie an uploaded file to a declared version
// name, and the error kinds every component reports.
package release
