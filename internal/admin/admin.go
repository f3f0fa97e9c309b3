// Package admin exposes the relay's gRPC health endpoint for orchestrators.
package admin

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
)

// ServiceName is the health service name reported for the relay.
const ServiceName = "elastoclash.relay"

// Server serves grpc.health.v1.Health.
type Server struct {
	cfg    config.AdminConfig
	logger *zap.Logger
	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a health server. Both the relay service and the overall
// server start as NOT_SERVING.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a Server ready for Serve or ListenAndServe.
func NewServer(cfg config.AdminConfig, logger *zap.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{cfg: cfg, logger: logger, grpc: gs, health: hs}
	s.SetServing(false)
	return s
}

// SetServing flips the reported status of the relay service.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
	s.logger.Info("health status changed",
		zap.String("service", ServiceName),
		zap.String("status", status.String()),
	)
}

// ListenAndServe listens on the configured address and serves until Stop.
//
// Precondition: cfg.Enabled() must be true.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener, such as a bufconn in tests.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("admin grpc listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("serving grpc: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs, forcing
// the stop when ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("admin grpc graceful stop timed out", zap.Error(ctx.Err()))
		s.grpc.Stop()
	}
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
