// Package rpc exposes the field model over gRPC as geomag.v1.FieldService.
// Requests and responses are google.protobuf.Struct messages; the codecs in
// this package validate and convert them to the model's types.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/geomag/apex"
	"github.com/signalsfoundry/geomag/internal/logging"
	"github.com/signalsfoundry/geomag/synth"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "geomag.v1.FieldService"

// Method names of the FieldService.
const (
	MethodSynthesize      = "Synthesize"
	MethodFindApex        = "FindApex"
	MethodLocateNorthPole = "LocateNorthPole"
	MethodInfo            = "Info"
)

// FieldServiceServer is the server API for the FieldService.
type FieldServiceServer interface {
	Synthesize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindApex(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LocateNorthPole(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Info(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// FieldServiceDesc describes the service for grpc.Server.RegisterService.
var FieldServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FieldServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodSynthesize, Handler: unaryHandler(MethodSynthesize, FieldServiceServer.Synthesize)},
		{MethodName: MethodFindApex, Handler: unaryHandler(MethodFindApex, FieldServiceServer.FindApex)},
		{MethodName: MethodLocateNorthPole, Handler: unaryHandler(MethodLocateNorthPole, FieldServiceServer.LocateNorthPole)},
		{MethodName: MethodInfo, Handler: unaryHandler(MethodInfo, FieldServiceServer.Info)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geomag/v1/field_service",
}

// RegisterFieldServiceServer registers srv on s.
func RegisterFieldServiceServer(s grpc.ServiceRegistrar, srv FieldServiceServer) {
	s.RegisterService(&FieldServiceDesc, srv)
}

func fullMethod(method string) string { return "/" + ServiceName + "/" + method }

type unaryMethod func(FieldServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FieldServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FieldServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server implements FieldServiceServer by decoding each request and
// delegating to a Local.
type Server struct {
	local *Local
}

// NewServer wires the FieldService handlers.
func NewServer(s *synth.Synthesizer, t *apex.Tracer, log logging.Logger) *Server {
	return &Server{local: NewLocal(s, t, log)}
}

// Synthesize evaluates the field, or its secular variation, at one point.
func (s *Server) Synthesize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := SynthesizeRequestFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	res, err := s.local.Synthesize(ctx, req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return encoded(FieldResultToStruct(res))
}

// FindApex traces the field line through a geodetic point to its apex.
func (s *Server) FindApex(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := ApexRequestFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	tr, err := s.local.FindApex(ctx, req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return encoded(TraceToStruct(tr, req.IncludePath))
}

// LocateNorthPole returns the dipole north pole at an epoch.
func (s *Server) LocateNorthPole(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	epoch, err := PoleRequestFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	lat, lon, err := s.local.LocateNorthPole(ctx, epoch)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return encoded(PoleToStruct(lat, lon))
}

// Info describes the loaded coefficient table.
func (s *Server) Info(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	info, err := s.local.Info(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return encoded(ModelInfoToStruct(info))
}

func encoded(out *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}
