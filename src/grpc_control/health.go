package grpc_control

import (
	"fmt"
	"net"
	"sync"

	"dashboard-sync/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service; "" reports the whole server.
const ServiceName = "dashboard-sync.Sync"

// -----------------------------------------------------------------------------
// HealthService exposes the standard gRPC health protocol. Status follows the
// outcome of the last executed refresh.
// -----------------------------------------------------------------------------

type HealthService struct {
	health *health.Server
	server *grpc.Server

	mu       sync.Mutex
	serving  bool
	listener net.Listener

	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

// NewHealthService starts out NOT_SERVING until the first refresh succeeds.
func NewHealthService(log *logger.Logger) *HealthService {
	if log == nil {
		log = logger.NewLogger(nil, "HealthService")
	}
	h := &HealthService{
		health: health.NewServer(),
		server: grpc.NewServer(),
		Logger: log,
	}
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	healthpb.RegisterHealthServer(h.server, h.health)
	reflection.Register(h.server)
	return h
}

// -----------------------------------------------------------------------------

// Observe records the result of a refresh. Hook it into the scheduler's
// OnResult.
func (h *HealthService) Observe(err error) {
	h.mu.Lock()
	serving := err == nil
	changed := serving != h.serving
	h.serving = serving
	h.mu.Unlock()

	if !changed {
		return
	}
	if serving {
		h.setStatus(healthpb.HealthCheckResponse_SERVING)
		h.Logger.Info("Health: SERVING")
	} else {
		h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		h.Logger.Warning("Health: NOT_SERVING after failed refresh: %v", err)
	}
}

// Serving reports the current status.
func (h *HealthService) Serving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serving
}

func (h *HealthService) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// -----------------------------------------------------------------------------

// Listen binds the gRPC listener on host:port.
func (h *HealthService) Listen(host string, port int) (net.Addr, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	h.mu.Lock()
	h.listener = lis
	h.mu.Unlock()
	return lis.Addr(), nil
}

// Serve blocks serving on the listener bound by Listen.
func (h *HealthService) Serve() error {
	h.mu.Lock()
	lis := h.listener
	h.mu.Unlock()
	if lis == nil {
		return fmt.Errorf("gRPC listener not bound")
	}

	h.Logger.Info("Starting gRPC health server on %s", lis.Addr())
	return h.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
