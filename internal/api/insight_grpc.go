package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nestling.v1.InsightEngine"

const (
	MethodAnalyzeSleep       = "/" + ServiceName + "/AnalyzeSleep"
	MethodAnalyzeRoutine     = "/" + ServiceName + "/AnalyzeRoutine"
	MethodGeneratePrediction = "/" + ServiceName + "/GeneratePrediction"
	MethodRecordActivity     = "/" + ServiceName + "/RecordActivity"
)

// InsightEngineServer is the server API for the InsightEngine service.
// Messages are google.protobuf.Struct values shaped by the request and result types of this package.
type InsightEngineServer interface {
	AnalyzeSleep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnalyzeRoutine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GeneratePrediction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordActivity(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedInsightEngineServer can be embedded to satisfy InsightEngineServer.
type UnimplementedInsightEngineServer struct{}

func (UnimplementedInsightEngineServer) AnalyzeSleep(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method AnalyzeSleep not implemented")
}

func (UnimplementedInsightEngineServer) AnalyzeRoutine(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method AnalyzeRoutine not implemented")
}

func (UnimplementedInsightEngineServer) GeneratePrediction(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GeneratePrediction not implemented")
}

func (UnimplementedInsightEngineServer) RecordActivity(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method RecordActivity not implemented")
}

// RegisterInsightEngineServer attaches srv to the registrar.
func RegisterInsightEngineServer(s grpc.ServiceRegistrar, srv InsightEngineServer) {
	s.RegisterService(&InsightEngineServiceDesc, srv)
}

func unaryHandler(method string, call func(InsightEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InsightEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(InsightEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// InsightEngineServiceDesc describes the InsightEngine service for grpc.Server.
var InsightEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InsightEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzeSleep", Handler: unaryHandler(MethodAnalyzeSleep, InsightEngineServer.AnalyzeSleep)},
		{MethodName: "AnalyzeRoutine", Handler: unaryHandler(MethodAnalyzeRoutine, InsightEngineServer.AnalyzeRoutine)},
		{MethodName: "GeneratePrediction", Handler: unaryHandler(MethodGeneratePrediction, InsightEngineServer.GeneratePrediction)},
		{MethodName: "RecordActivity", Handler: unaryHandler(MethodRecordActivity, InsightEngineServer.RecordActivity)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nestling/v1/insight.proto",
}

// InsightEngineClient is the client API for the InsightEngine service.
type InsightEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewInsightEngineClient wraps a client connection.
func NewInsightEngineClient(cc grpc.ClientConnInterface) *InsightEngineClient {
	return &InsightEngineClient{cc: cc}
}

func (c *InsightEngineClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InsightEngineClient) AnalyzeSleep(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAnalyzeSleep, in, opts...)
}

func (c *InsightEngineClient) AnalyzeRoutine(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAnalyzeRoutine, in, opts...)
}

func (c *InsightEngineClient) GeneratePrediction(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGeneratePrediction, in, opts...)
}

func (c *InsightEngineClient) RecordActivity(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRecordActivity, in, opts...)
}
