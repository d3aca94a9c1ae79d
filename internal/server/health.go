package server

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves grpc.health.v1 for the agent. The overall service ""
// is SERVING while the agent runs; each backend service follows the outcome
// of its most recent call.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server

	mu      sync.Mutex
	serving map[string]bool
}

// NewHealthServer registers the given backend services as NOT_SERVING until
// their first successful call.
func NewHealthServer(services ...string) *HealthServer {
	s := &HealthServer{
		grpc:    grpc.NewServer(),
		health:  health.NewServer(),
		serving: make(map[string]bool, len(services)),
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, svc := range services {
		s.serving[svc] = false
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	return s
}

// Report records the outcome of a backend call.
func (s *HealthServer) Report(service string, err error) {
	ok := err == nil

	s.mu.Lock()
	prev, known := s.serving[service]
	s.serving[service] = ok
	s.mu.Unlock()

	if known && prev == ok {
		return
	}

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)

	ev := log.Info()
	if !ok {
		ev = log.Warn().Err(err)
	}
	ev.Str("service", service).Str("status", status.String()).Msg("Backend health changed")
}

// ListenAndServe serves on port until Stop is called.
func (s *HealthServer) ListenAndServe(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *HealthServer) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains connections.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
