package observability

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RelayService is the gRPC health service name reported for the relay
const RelayService = "callbob.relay"

// GRPCHealth exposes readiness over the standard grpc.health.v1 protocol
type GRPCHealth struct {
	Server *grpc.Server
	health *health.Server
	checks []DependencyCheck
}

// NewGRPCHealth creates a gRPC server with the health service registered
func NewGRPCHealth(checks ...DependencyCheck) *GRPCHealth {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealth{
		Server: srv,
		health: hs,
		checks: checks,
	}
}

// Refresh runs the dependency checks and publishes the result for both the
// overall server ("") and the relay service.
func (g *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	_, ok := CheckDependencies(ctx, g.checks...)

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(RelayService, status)
	return status
}

// Watch refreshes the serving status every interval until ctx is done
func (g *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			g.Refresh(checkCtx)
			cancel()
		}
	}
}

// Shutdown marks every service as not serving and stops the server
func (g *GRPCHealth) Shutdown() {
	g.health.Shutdown()
	g.Server.GracefulStop()
}
