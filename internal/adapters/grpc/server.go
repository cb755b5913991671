package grpc

import (
	"context"

	"google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alekb/botesq/internal/application"
)

type ArbitrationInternalServer struct {
	grpc_health_v1.UnimplementedHealthServer
	service *application.Service
}

func NewArbitrationInternalServer(service *application.Service) *ArbitrationInternalServer {
	return &ArbitrationInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc *ArbitrationInternalServer) {
	grpc_health_v1.RegisterHealthServer(server, svc)
}

func (s *ArbitrationInternalServer) Check(context.Context, *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	_ = s.service
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (s *ArbitrationInternalServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	_ = req
	return stream.Send(&grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING})
}
