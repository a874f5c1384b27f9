// Package health probes the relay's gRPC health service.
package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// Probe dials target, waits for the connection to become ready, and runs one
// health check for service ("" is the overall server status).
func Probe(ctx context.Context, target, service string, timeout time.Duration) (*healthpb.HealthCheckResponse, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("health target is empty")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial health grpc %q: %w", target, err)
	}
	defer conn.Close()

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(probeCtx, conn); err != nil {
		return nil, fmt.Errorf("wait for health grpc readiness: %w", err)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(probeCtx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return resp, nil
}

// Serving reports whether resp carries the SERVING status.
func Serving(resp *healthpb.HealthCheckResponse) bool {
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Render formats resp as compact JSON.
func Render(resp *healthpb.HealthCheckResponse) string {
	data, err := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(resp)
	if err != nil {
		return resp.GetStatus().String()
	}
	return string(data)
}

// waitForReady blocks until the connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
