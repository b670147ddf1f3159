package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestProbeServing(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	defer stop()

	if err := Probe(context.Background(), addr, "", time.Second); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestProbeNotServing(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	defer stop()

	err := Probe(context.Background(), addr, "", time.Second)
	if !errors.Is(err, ErrNotServing) {
		t.Fatalf("probe error = %v, want ErrNotServing", err)
	}
}

func TestProbeUnknownService(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	defer stop()

	if err := Probe(context.Background(), addr, "missing.Service", time.Second); err == nil {
		t.Fatal("expected error for unregistered service name")
	}
}

func TestProbeUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	if err := Probe(context.Background(), addr, "", 200*time.Millisecond); err == nil {
		t.Fatal("expected error for closed port")
	}
}
