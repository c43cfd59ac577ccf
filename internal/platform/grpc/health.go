// Package grpc hosts the gRPC health surface of the tracker runtime and the
// client-side probe used by container health checks.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves the standard gRPC health protocol for named services.
type HealthServer struct {
	server *gogrpc.Server
	health *health.Server
	lis    net.Listener
}

// NewHealthServer binds a health server to lis. The overall ("") service
// reports SERVING immediately.
func NewHealthServer(lis net.Listener) *HealthServer {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	return &HealthServer{server: server, health: healthServer, lis: lis}
}

// SetServing toggles the status reported for service.
func (s *HealthServer) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Serve blocks until ctx ends, then drains the server.
func (s *HealthServer) Serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(s.lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve health: %w", err)
	case <-ctx.Done():
	}
	s.health.Shutdown()
	s.server.GracefulStop()
	<-serveErr
	return nil
}

// Addr reports the bound address.
func (s *HealthServer) Addr() net.Addr {
	return s.lis.Addr()
}

// Probe dials addr and waits until service reports SERVING or ctx ends.
func Probe(ctx context.Context, addr, service string, logf func(string, ...any)) error {
	conn, err := gogrpc.NewClient(addr,
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	return WaitForHealth(ctx, conn, service, logf)
}

// WaitForHealth blocks until the health check reports SERVING or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	client := grpc_health_v1.NewHealthClient(conn)
	backoff := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		switch {
		case err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING:
			return nil
		case err != nil:
			logf("waiting for health service=%q err=%v", service, err)
		default:
			logf("waiting for health service=%q status=%s", service, resp.GetStatus())
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, time.Second)
	}
}
