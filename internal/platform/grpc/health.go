// Package grpc serves and probes the standard gRPC health service.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const maxHealthBackoff = time.Second

// NewHealthServer builds a gRPC server that only serves the standard health
// service. Every name in services starts SERVING alongside the empty
// overall name.
func NewHealthServer(services ...string) (*gogrpc.Server, *health.Server) {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, service := range services {
		healthServer.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	return server, healthServer
}

// WaitForHealth probes addr until service reports SERVING or ctx ends.
func WaitForHealth(ctx context.Context, addr, service string, logf func(string, ...any)) error {
	backoff := 100 * time.Millisecond
	for {
		err := Probe(ctx, addr, service, time.Second)
		if err == nil {
			return nil
		}
		if logf != nil {
			logf("waiting for gRPC health addr=%s service=%q err=%v", addr, service, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, maxHealthBackoff)
	}
}
