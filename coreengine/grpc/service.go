// Package grpc exposes the orchestrator as the lgorch.v1.OrchestrationService.
//
// Messages are google.protobuf.Struct values, so the service needs no
// generated code; the descriptor below is what protoc-gen-go-grpc would
// emit for:
//
//	service OrchestrationService {
//	  rpc Run(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc ExportGraph(google.protobuf.Struct) returns (google.protobuf.Struct);
//	}
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified service name.
const ServiceName = "lgorch.v1.OrchestrationService"

// Full method names.
const (
	RunMethod         = "/" + ServiceName + "/Run"
	ExportGraphMethod = "/" + ServiceName + "/ExportGraph"
)

// OrchestrationServiceServer is the server API for OrchestrationService.
type OrchestrationServiceServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ExportGraph(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterOrchestrationServiceServer registers srv on s.
func RegisterOrchestrationServiceServer(s grpc.ServiceRegistrar, srv OrchestrationServiceServer) {
	s.RegisterService(&OrchestrationServiceDesc, srv)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrchestrationServiceServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrchestrationServiceServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func exportGraphHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrchestrationServiceServer).ExportGraph(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExportGraphMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrchestrationServiceServer).ExportGraph(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// OrchestrationServiceDesc is the grpc.ServiceDesc for OrchestrationService.
var OrchestrationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrchestrationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "ExportGraph", Handler: exportGraphHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lgorch/v1/orchestration.proto",
}
