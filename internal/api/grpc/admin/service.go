package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarmd.admin.v1.AdminService"

// Full method names, as used by clients with grpc.ClientConn.Invoke.
const (
	MethodGetStats         = "/" + ServiceName + "/GetStats"
	MethodListAlarms       = "/" + ServiceName + "/ListAlarms"
	MethodScheduleAlarm    = "/" + ServiceName + "/ScheduleAlarm"
	MethodCancelAlarm      = "/" + ServiceName + "/CancelAlarm"
	MethodGetLockTable     = "/" + ServiceName + "/GetLockTable"
	MethodForceReleaseLock = "/" + ServiceName + "/ForceReleaseLock"
)

// ActorMetadataKey carries "user@host" of the caller for the audit log.
const ActorMetadataKey = "x-alarmd-actor"

// AdminServiceServer is the server API for the admin service. Messages are
// protobuf well-known types so no generated code is needed.
type AdminServiceServer interface {
	GetStats(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	ListAlarms(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	ScheduleAlarm(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error)
	CancelAlarm(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	GetLockTable(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	ForceReleaseLock(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.UInt32Value, error)
}

// RegisterAdminServiceServer registers srv with s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// AdminServiceDesc describes the admin service for grpc.Server.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStats",
			Handler:    unaryHandler(MethodGetStats, AdminServiceServer.GetStats),
		},
		{
			MethodName: "ListAlarms",
			Handler:    unaryHandler(MethodListAlarms, AdminServiceServer.ListAlarms),
		},
		{
			MethodName: "ScheduleAlarm",
			Handler:    unaryHandler(MethodScheduleAlarm, AdminServiceServer.ScheduleAlarm),
		},
		{
			MethodName: "CancelAlarm",
			Handler:    unaryHandler(MethodCancelAlarm, AdminServiceServer.CancelAlarm),
		},
		{
			MethodName: "GetLockTable",
			Handler:    unaryHandler(MethodGetLockTable, AdminServiceServer.GetLockTable),
		},
		{
			MethodName: "ForceReleaseLock",
			Handler:    unaryHandler(MethodForceReleaseLock, AdminServiceServer.ForceReleaseLock),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "alarmd/admin/v1/admin.proto",
}

// unaryHandler adapts a typed AdminServiceServer method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(AdminServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(AdminServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServiceServer), ctx, req.(*Req))
		}

		return interceptor(ctx, in, info, handler)
	}
}
