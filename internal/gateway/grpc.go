// ABOUTME: gRPC server carrying the standard grpc.health.v1 service
// ABOUTME: Reports SERVING while the gateway runs and NOT_SERVING once shutdown begins

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthServiceName is the service name reported alongside the overall ("") status
const HealthServiceName = "campaign.Gateway"

// newGRPCServer creates a gRPC server with the health service registered.
// Both statuses start as NOT_SERVING.
func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return server, healthServer
}

// setServing marks the gateway healthy
func (g *Gateway) setServing() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)
}
