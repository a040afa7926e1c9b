// Package rpc exposes the decoder over gRPC. The service uses the well-known
// StringValue wrapper for every request and response, so no generated code is
// needed on either side.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "autodecode.v1.Decoder"

// Method names served by the Decoder service.
const (
	MethodDecode = "Decode"
	MethodRepair = "Repair"
	MethodPretty = "Pretty"
	MethodFormat = "Format"
)

// DecoderServer is the server API for the Decoder service.
type DecoderServer interface {
	Decode(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Repair(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Pretty(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Format(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

type unaryCall func(DecoderServer, context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)

// FullMethod returns the path a client invokes for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DecoderServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DecoderServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DecoderServiceDesc describes the Decoder service for grpc.Server.
var DecoderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DecoderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodDecode, Handler: unaryHandler(MethodDecode, DecoderServer.Decode)},
		{MethodName: MethodRepair, Handler: unaryHandler(MethodRepair, DecoderServer.Repair)},
		{MethodName: MethodPretty, Handler: unaryHandler(MethodPretty, DecoderServer.Pretty)},
		{MethodName: MethodFormat, Handler: unaryHandler(MethodFormat, DecoderServer.Format)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autodecode/v1/decoder.proto",
}

// RegisterDecoderServer registers srv on s.
func RegisterDecoderServer(s grpc.ServiceRegistrar, srv DecoderServer) {
	s.RegisterService(&DecoderServiceDesc, srv)
}
