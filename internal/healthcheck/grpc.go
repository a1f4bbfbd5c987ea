package healthcheck

import (
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "fruitcheck.Analyzer"

// Server exposes the standard grpc.health.v1 service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer builds a health server reporting SERVING.
func NewServer(logger *zap.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{grpc: gs, health: hs, logger: logger.Named("grpc_health")}
}

// Serve blocks serving on listener until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("gRPC health listening", zap.String("addr", listener.Addr().String()))
	err := s.grpc.Serve(listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Draining flips every service to NOT_SERVING ahead of shutdown.
func (s *Server) Draining() {
	s.health.Shutdown()
}

// Stop drains and stops the gRPC server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
