package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// =============================================================================
// Graceful Server
// =============================================================================

// GracefulServer wraps a gRPC server with graceful shutdown support.
// It listens for context cancellation and shuts down cleanly.
type GracefulServer struct {
	grpcServer *grpc.Server
	logger     Logger
	address    string
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a server for svc. Without opts the standard
// interceptors from ServerOptions are installed.
func NewGracefulServer(svc OrchestrationServiceServer, logger Logger, address string, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		opts = ServerOptions(logger)
	}

	grpcServer := grpc.NewServer(opts...)
	RegisterOrchestrationServiceServer(grpcServer, svc)

	return &GracefulServer{
		grpcServer: grpcServer,
		logger:     logger,
		address:    address,
	}
}

// Start listens on the configured address and blocks until ctx is
// cancelled, then stops gracefully within shutdownTimeout.
func (s *GracefulServer) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis, shutdownTimeout)
}

// Serve serves on lis until ctx is cancelled or the server fails.
// Cancellation is a clean shutdown and returns nil.
func (s *GracefulServer) Serve(ctx context.Context, lis net.Listener, shutdownTimeout time.Duration) error {
	s.logger.Info("grpc_server_started", "address", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated",
			"reason", ctx.Err().Error(),
		)
		s.ShutdownWithTimeout(shutdownTimeout)
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop stops accepting new connections and waits for in-flight calls.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.logger.Info("grpc_graceful_stop_started")
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout performs graceful shutdown with a timeout.
// If shutdown doesn't complete within timeout, it forces an immediate stop.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})

	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout",
			"timeout_ms", timeout.Milliseconds(),
		)
		s.grpcServer.Stop()
	}
}

// Address returns the configured listen address.
func (s *GracefulServer) Address() string {
	return s.address
}
