package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("CMD_TEST_MODE", "env-mode")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfgRef := testConfig{}
	if err := ParseConfig(&cfgRef); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	fs.StringVar(&cfgRef.Address, "address", cfgRef.Address, "address")
	fs.StringVar(&cfgRef.Mode, "mode", cfgRef.Mode, "mode")

	if err := ParseArgs(fs, []string{"-address", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfgRef.Address != "flag:9001" {
		t.Fatalf("expected flag value for address, got %q", cfgRef.Address)
	}
	if cfgRef.Mode != "env-mode" {
		t.Fatalf("expected env default mode, got %q", cfgRef.Mode)
	}
}

func TestParseConfigRejectsNilTarget(t *testing.T) {
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected nil config target error")
	}
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	if err := ParseArgs(nil, []string{}); err == nil {
		t.Fatal("expected parse args to reject nil parser")
	}
}

func TestRunWithTelemetryRejectsMissingInputs(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), "", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceReviewDesk, nil); err == nil {
		t.Fatal("expected missing run function error")
	}
}

func TestRunWithTelemetryReturnsRunError(t *testing.T) {
	t.Setenv("REVIEWDESK_OTEL_ENDPOINT", "")

	want := errors.New("boom")
	err := RunWithTelemetry(context.Background(), ServiceReviewDesk, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("run error = %v, want %v", err, want)
	}
}

func stubTelemetry(t *testing.T, setupErr error) *int {
	t.Helper()
	prev := setupTelemetry
	t.Cleanup(func() { setupTelemetry = prev })

	shutdowns := 0
	setupTelemetry = func(context.Context, string) (func(context.Context) error, error) {
		if setupErr != nil {
			return nil, setupErr
		}
		return func(context.Context) error {
			shutdowns++
			return nil
		}, nil
	}
	return &shutdowns
}

func TestRunWithTelemetryFlushesAfterRun(t *testing.T) {
	shutdowns := stubTelemetry(t, nil)

	ran := false
	err := RunWithTelemetry(context.Background(), ServiceReviewDesk, func(context.Context) error {
		ran = true
		if *shutdowns != 0 {
			t.Fatal("telemetry shut down before run finished")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatal("expected run to be called")
	}
	if *shutdowns != 1 {
		t.Fatalf("shutdowns = %d, want 1", *shutdowns)
	}
}

func TestRunWithTelemetryStopsOnSetupError(t *testing.T) {
	want := errors.New("exporter unavailable")
	stubTelemetry(t, want)

	err := RunWithTelemetry(context.Background(), ServiceReviewDesk, func(context.Context) error {
		t.Fatal("run should not be called")
		return nil
	})
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}
