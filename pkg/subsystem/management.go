package subsystem

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/paddockd/paddock/pkg/config"
)

// grpcManagement talks to the platform management daemon over gRPC and
// uses its standard health service to verify it is serving.
type grpcManagement struct {
	addr    string
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	timeout time.Duration
}

// NewManagementHandle dials the management daemon and verifies it is
// serving before returning. A daemon that is down or not serving is a
// construction failure, not something to retry here.
func NewManagementHandle(ctx context.Context, cfg config.ManagementConfig) (ManagementHandle, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial management node %s: %w", cfg.Addr, err)
	}

	h := &grpcManagement{
		addr:    cfg.Addr,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		timeout: cfg.Timeout.Std(),
	}

	if err := h.CheckServing(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return h, nil
}

// CheckServing queries the daemon's health service.
func (h *grpcManagement) CheckServing(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("management node %s health check failed: %w", h.addr, err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("management node %s is not serving: %s", h.addr, resp.Status)
	}
	return nil
}

// Close releases the gRPC connection.
func (h *grpcManagement) Close() error {
	return h.conn.Close()
}
