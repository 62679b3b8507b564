// Package server exposes scheduler liveness over the standard gRPC health
// protocol (grpc.health.v1.Health).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var log = slog.Default()

// ServiceName is the health service name reported for the scheduler.
// The empty name reports the same status for the whole server.
const ServiceName = "stresslab.Scheduler"

const defaultProbeInterval = time.Second

// Probe reports whether the scheduler is accepting work
type Probe interface {
	IsRunning() bool
}

// Server serves gRPC health checks driven by a Probe
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	probe      Probe
	interval   time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewServer creates a health server. interval is how often the probe is
// polled; one second when non-positive.
func NewServer(probe Probe, interval time.Duration) (*Server, error) {
	if probe == nil {
		return nil, errors.New("health probe is required")
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		probe:      probe,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.Refresh()
	return s, nil
}

// Refresh polls the probe once and publishes the resulting status
func (s *Server) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.probe.IsRunning() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return grpc.ErrServerStopped
	}
	s.wg.Add(1)
	go s.watchLoop()
	s.mu.Unlock()

	log.Info("Health server listening", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// watchLoop keeps the published status in line with the probe
func (s *Server) watchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := s.Refresh()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if status := s.Refresh(); status != last {
				log.Info("Health status changed", "from", last.String(), "to", status.String())
				last = status
			}
		}
	}
}

// Stop marks every service NOT_SERVING and shuts the server down gracefully
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	log.Info("Health server stopped")
}

// Check queries the health service at addr and returns the scheduler status
func Check(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	return check(ctx, addr)
}

func check(ctx context.Context, addr string, opts ...grpc.DialOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}
