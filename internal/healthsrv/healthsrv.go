// Package healthsrv serves the standard gRPC health protocol so supervisors
// can check on the daemon.
package healthsrv

import (
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

// Service is the name reported alongside the overall ("") status.
const Service = "checkpoint"

type Server struct {
	logger *logging.Logger
	grpc   *grpc.Server
	health *health.Server
}

func New(logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{logger: logger, grpc: gs, health: hs}
}

// SetServing flips both the overall and the checkpoint status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(Service, st)
}

func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("healthsrv: listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve blocks until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Infof("healthsrv: listening on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("healthsrv: serve: %w", err)
	}
	return nil
}

// Stop reports NOT_SERVING to watchers and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
