package otel

import (
	"context"
	"testing"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("REVIEWDESK_OTEL_ENDPOINT", "http://collector:4318")
	t.Setenv("REVIEWDESK_OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Endpoint != "http://collector:4318" || cfg.SampleRatio != 0.25 || !cfg.Enabled() {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestLoadConfigFromEnvRejectsRatioOutOfRange(t *testing.T) {
	t.Setenv("REVIEWDESK_OTEL_SAMPLE_RATIO", "1.5")

	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected sample ratio error")
	}
}

func TestConfigEnabled(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
		want bool
	}{
		{name: "empty", cfg: Config{}, want: false},
		{name: "blank endpoint", cfg: Config{Endpoint: "  "}, want: false},
		{name: "disabled", cfg: Config{Endpoint: "http://localhost:4318", Disabled: true}, want: false},
		{name: "endpoint", cfg: Config{Endpoint: "http://localhost:4318"}, want: true},
	}
	for _, tc := range testCases {
		if got := tc.cfg.Enabled(); got != tc.want {
			t.Fatalf("%s: Enabled() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	t.Setenv("REVIEWDESK_OTEL_ENDPOINT", "")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupWithConfigInstallsProvider(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation, so nothing is exported.
	shutdown, err := SetupWithConfig(context.Background(), "test-service", Config{Endpoint: "http://192.0.2.1:4318", SampleRatio: 1})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
