package release

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/logger"
)

// MetadataReader abstracts the metadata reads the transport layer depends on.
type MetadataReader interface {
	ReadVersionPointer(ctx context.Context) domain.VersionPointer
	ReadReleaseLedger(ctx context.Context) *domain.ReleaseLedger
}

// Server implements the ReleaseInfoService gRPC API.
type Server struct {
	// metadata provides the published documents.
	metadata MetadataReader
}

// NewServer wires the provided metadata reader into a gRPC handler.
func NewServer(metadata MetadataReader) *Server {
	return &Server{
		metadata: metadata,
	}
}

// GetLatestVersion returns the version pointer, or NotFound until both versions are published.
func (s *Server) GetLatestVersion(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	pointer := s.metadata.ReadVersionPointer(ctx)
	if !pointer.IsComplete() {
		return nil, status.Error(codes.NotFound, "Build not found")
	}

	return toStruct(ctx, pointer)
}

// GetPreviousReleases returns the release ledger.
func (s *Server) GetPreviousReleases(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(ctx, s.metadata.ReadReleaseLedger(ctx))
}

// toStruct converts a JSON document type into a protobuf Struct with the same shape.
func toStruct(ctx context.Context, v any) (*structpb.Struct, error) {
	fields, err := toFields(v)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to convert document", "error", err)

		return nil, status.Error(codes.Internal, "unable to encode document")
	}

	result, err := structpb.NewStruct(fields)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to convert document", "error", err)

		return nil, status.Error(codes.Internal, "unable to encode document")
	}

	return result, nil
}

func toFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	var fields map[string]any
	if err = json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	return fields, nil
}
