// Package release implements the gRPC transport of the release-info service.
//
// The service is described by a hand-written grpc.ServiceDesc over protobuf
// well-known types (google.protobuf.Empty in, google.protobuf.Struct out), so no
// generated code is required on either side.
package release
