// Package pb holds the gRPC contract of the ppe.v1.ComplianceEngine service.
//
// Messages are protobuf well-known types: requests and responses travel as
// google.protobuf.Struct documents whose fields mirror the JSON form of the
// models package, so HTTP, WebSocket and gRPC callers share one schema.
package pb

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "ppe.v1.ComplianceEngine"

	ObserveMethod       = "/" + ServiceName + "/Observe"
	ObserveStreamMethod = "/" + ServiceName + "/ObserveStream"
	StatsMethod         = "/" + ServiceName + "/Stats"
)

// ComplianceEngineServer is implemented by the service handler.
type ComplianceEngineServer interface {
	Observe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ObserveStream(ComplianceEngine_ObserveStreamServer) error
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedComplianceEngineServer can be embedded for forward
// compatibility.
type UnimplementedComplianceEngineServer struct{}

func (UnimplementedComplianceEngineServer) Observe(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Observe not implemented")
}

func (UnimplementedComplianceEngineServer) ObserveStream(ComplianceEngine_ObserveStreamServer) error {
	return status.Error(codes.Unimplemented, "method ObserveStream not implemented")
}

func (UnimplementedComplianceEngineServer) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Stats not implemented")
}

type ComplianceEngine_ObserveStreamServer interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ServerStream
}

type observeStreamServer struct {
	grpc.ServerStream
}

func (s *observeStreamServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func (s *observeStreamServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func RegisterComplianceEngineServer(s grpc.ServiceRegistrar, srv ComplianceEngineServer) {
	s.RegisterService(&ComplianceEngine_ServiceDesc, srv)
}

func observeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ComplianceEngineServer).Observe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ObserveMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ComplianceEngineServer).Observe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ComplianceEngineServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ComplianceEngineServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func observeStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ComplianceEngineServer).ObserveStream(&observeStreamServer{stream})
}

var ComplianceEngine_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ComplianceEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Observe", Handler: observeHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ObserveStream",
			Handler:       observeStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ppe/v1/compliance.proto",
}

// ComplianceEngineClient is the client side of the service.
type ComplianceEngineClient interface {
	Observe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ObserveStream(ctx context.Context, opts ...grpc.CallOption) (ComplianceEngine_ObserveStreamClient, error)
	Stats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type complianceEngineClient struct {
	cc grpc.ClientConnInterface
}

func NewComplianceEngineClient(cc grpc.ClientConnInterface) ComplianceEngineClient {
	return &complianceEngineClient{cc}
}

func (c *complianceEngineClient) Observe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ObserveMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *complianceEngineClient) Stats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, StatsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type ComplianceEngine_ObserveStreamClient interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type observeStreamClient struct {
	grpc.ClientStream
}

func (c *observeStreamClient) Send(m *structpb.Struct) error {
	return c.ClientStream.SendMsg(m)
}

func (c *observeStreamClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *complianceEngineClient) ObserveStream(ctx context.Context, opts ...grpc.CallOption) (ComplianceEngine_ObserveStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ComplianceEngine_ServiceDesc.Streams[0], ObserveStreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &observeStreamClient{stream}, nil
}

// Encode converts a JSON-tagged Go value into a Struct message.
func Encode(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// Decode fills the JSON-tagged Go value v from a Struct message.
func Decode(s *structpb.Struct, v interface{}) error {
	if s == nil {
		return fmt.Errorf("decode %T: nil message", v)
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
