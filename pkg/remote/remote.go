// Package remote implements the gRPC remote management channel: health
// checking (the ISALIVE-equivalent for remote operators) plus a small
// Describe service. There is no protoc run in this exercise, so Describe
// is a hand-wired grpc.ServiceDesc exchanging structpb.Struct — a real,
// already-compiled protobuf message type, rather than code generated from
// a .proto file (see DESIGN.md).
package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shikharish/pgmoneta/pkg/config"
)

// serviceName is the gRPC health service name this supervisor reports
// under; health.Server tracks per-service status independently.
const serviceName = "pgmoneta.Supervisor"

// Describer answers the Describe RPC with a snapshot of the running
// configuration.
type Describer interface {
	Describe() *config.Region
}

// Service wraps the grpc.Server, the health server, and the Describe
// handler.
type Service struct {
	grpcServer *grpc.Server
	healthSrv  *health.Server
	describer  Describer
}

// describeServiceDesc is a hand-wired grpc.ServiceDesc (no .proto/protoc
// step available) for a single unary RPC, Describe, that takes an empty
// structpb.Struct and returns one populated with server names and ports.
var describeServiceDesc = grpc.ServiceDesc{
	ServiceName: "pgmoneta.Describe",
	HandlerType: (*describeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Describe",
			Handler:    describeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pgmoneta/describe.proto",
}

type describeServer interface {
	Describe(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func describeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(describeServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pgmoneta.Describe/Describe"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(describeServer).Describe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// NewService constructs the gRPC server, registers health checking,
// reflection, and the Describe service, and marks serviceName SERVING.
func NewService(describer Describer) *Service {
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()

	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	s := &Service{grpcServer: grpcServer, healthSrv: healthSrv, describer: describer}
	grpcServer.RegisterService(&describeServiceDesc, s)

	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return s
}

// Describe implements describeServer: it reports every configured server
// name and its metrics/management ports as a structpb.Struct.
func (s *Service) Describe(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.describer == nil {
		return nil, status.Error(codes.Unavailable, "no configuration available")
	}

	snap := s.describer.Describe().Snapshot()

	names := make([]interface{}, 0, len(snap.Servers))
	for _, srv := range snap.Servers {
		names = append(names, srv.Name)
	}

	out, err := structpb.NewStruct(map[string]interface{}{
		"servers":         names,
		"metrics_port":    snap.MetricsPort,
		"management_port": snap.ManagementPort,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "building describe response: %v", err)
	}
	return out, nil
}

// SetNotServing flips the reported health status, used during shutdown.
func (s *Service) SetNotServing() {
	s.healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// GRPCServer returns the underlying *grpc.Server so the caller can Serve()
// it against a net.Listener.
func (s *Service) GRPCServer() *grpc.Server {
	return s.grpcServer
}
