package relay

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves the standard gRPC health protocol for the relay.
type HealthServer struct {
	server *grpc.Server
	status *health.Server
}

// NewHealthServer reports SERVING only when the relay can reach upstream with
// a configured credential.
func NewHealthServer(credentialSet bool) *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(),
		status: health.NewServer(),
	}
	h.SetServing(credentialSet)
	healthpb.RegisterHealthServer(h.server, h.status)
	return h
}

// SetServing updates the overall service status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus("", status)
}

// Serve blocks serving on lis until Stop.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.status.Shutdown()
	h.server.GracefulStop()
}
