// Package memorypb defines the recall.v1.MemoryService gRPC contract. Every
// method takes and returns a google.protobuf.Struct; the typed request and
// response shapes live in messages.go.
package memorypb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "recall.v1.MemoryService"

const (
	MethodAppendMessage = "AppendMessage"
	MethodEnqueue       = "Enqueue"
	MethodSearch        = "Search"
	MethodRemember      = "Remember"
	MethodCoreProfile   = "CoreProfile"
	MethodListFacts     = "ListFacts"
	MethodQueueStatus   = "QueueStatus"
	MethodDrain         = "Drain"
	MethodInfo          = "Info"
)

// FullMethod returns the wire name of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// MemoryServiceServer is the server API for recall.v1.MemoryService.
type MemoryServiceServer interface {
	AppendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Enqueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Remember(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CoreProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueueStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Drain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Info(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedMemoryServiceServer can be embedded to satisfy the interface
// while only some methods are implemented.
type UnimplementedMemoryServiceServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedMemoryServiceServer) AppendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodAppendMessage)
}

func (UnimplementedMemoryServiceServer) Enqueue(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodEnqueue)
}

func (UnimplementedMemoryServiceServer) Search(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodSearch)
}

func (UnimplementedMemoryServiceServer) Remember(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodRemember)
}

func (UnimplementedMemoryServiceServer) CoreProfile(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodCoreProfile)
}

func (UnimplementedMemoryServiceServer) ListFacts(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodListFacts)
}

func (UnimplementedMemoryServiceServer) QueueStatus(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodQueueStatus)
}

func (UnimplementedMemoryServiceServer) Drain(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodDrain)
}

func (UnimplementedMemoryServiceServer) Info(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodInfo)
}

type unaryCall func(MemoryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MemoryServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(MemoryServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// MemoryService_ServiceDesc is the grpc.ServiceDesc for recall.v1.MemoryService.
var MemoryService_ServiceDesc = grpc.ServiceDesc{ //nolint:revive // matches generated naming
	ServiceName: ServiceName,
	HandlerType: (*MemoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodAppendMessage, MemoryServiceServer.AppendMessage),
		unary(MethodEnqueue, MemoryServiceServer.Enqueue),
		unary(MethodSearch, MemoryServiceServer.Search),
		unary(MethodRemember, MemoryServiceServer.Remember),
		unary(MethodCoreProfile, MemoryServiceServer.CoreProfile),
		unary(MethodListFacts, MemoryServiceServer.ListFacts),
		unary(MethodQueueStatus, MemoryServiceServer.QueueStatus),
		unary(MethodDrain, MemoryServiceServer.Drain),
		unary(MethodInfo, MemoryServiceServer.Info),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "recall/v1/memory.proto",
}

// RegisterMemoryServiceServer registers srv with s.
func RegisterMemoryServiceServer(s grpc.ServiceRegistrar, srv MemoryServiceServer) {
	s.RegisterService(&MemoryService_ServiceDesc, srv)
}

// MemoryServiceClient is the raw client API for recall.v1.MemoryService.
type MemoryServiceClient interface {
	Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type memoryServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMemoryServiceClient creates a raw client over cc.
func NewMemoryServiceClient(cc grpc.ClientConnInterface) MemoryServiceClient {
	return &memoryServiceClient{cc: cc}
}

func (c *memoryServiceClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
