package release

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "pushupdate.v1.ReleaseInfoService"

	// GetLatestVersionMethod is the full method name of GetLatestVersion.
	GetLatestVersionMethod = "/" + ServiceName + "/GetLatestVersion"
	// GetPreviousReleasesMethod is the full method name of GetPreviousReleases.
	GetPreviousReleasesMethod = "/" + ServiceName + "/GetPreviousReleases"
)

// ReleaseInfoServer is the server API of the release-info service.
type ReleaseInfoServer interface {
	GetLatestVersion(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	GetPreviousReleases(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the release-info service for grpc.Server.
//
//nolint:gochecknoglobals // Service descriptors are registered by address.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReleaseInfoServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetLatestVersion",
			Handler:    getLatestVersionHandler,
		},
		{
			MethodName: "GetPreviousReleases",
			Handler:    getPreviousReleasesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pushupdate/v1/release_info.proto",
}

// RegisterReleaseInfoServer registers srv with registrar.
func RegisterReleaseInfoServer(registrar grpc.ServiceRegistrar, srv ReleaseInfoServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func getLatestVersionHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ReleaseInfoServer).GetLatestVersion(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetLatestVersionMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReleaseInfoServer).GetLatestVersion(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

func getPreviousReleasesHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ReleaseInfoServer).GetPreviousReleases(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetPreviousReleasesMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReleaseInfoServer).GetPreviousReleases(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}
