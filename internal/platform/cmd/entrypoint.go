// Package cmd holds the shared startup plumbing for reviewdesk commands:
// env-then-flag configuration parsing and a telemetry-wrapped run loop.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/reviewdesk/internal/platform/config"
	"github.com/louisbranch/reviewdesk/internal/platform/otel"
	"github.com/louisbranch/reviewdesk/internal/platform/timeouts"
)

// Service identifiers for command startup telemetry and CLI naming consistency.
const (
	ServiceReviewDesk = "reviewdesk"
)

var setupTelemetry = otel.Setup

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry installs tracing for service, runs run, and flushes
// pending spans once run returns.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := setupTelemetry(ctx, service)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	started := time.Now()
	log.Printf("%s starting", service)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
		log.Printf("%s stopped uptime=%s", service, time.Since(started).Round(time.Second))
	}()
	return run(ctx)
}
