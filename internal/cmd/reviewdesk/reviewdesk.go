// Package reviewdesk parses review service flags and launches the service.
package reviewdesk

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/reviewdesk/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/reviewdesk/internal/platform/grpc"
	"github.com/louisbranch/reviewdesk/internal/services/review/app"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/notify"
)

// Config holds review command configuration.
type Config struct {
	Port          int           `env:"REVIEWDESK_PORT"            envDefault:"8095"`
	HealthPort    int           `env:"REVIEWDESK_HEALTH_PORT"     envDefault:"8096"`
	DBPath        string        `env:"REVIEWDESK_DB_PATH"         envDefault:"data/reviewdesk.db"`
	FilesDir      string        `env:"REVIEWDESK_FILES_DIR"       envDefault:"data/files"`
	PublicBaseURL string        `env:"REVIEWDESK_PUBLIC_BASE_URL" envDefault:"http://localhost:8095"`
	AdminHeader   string        `env:"REVIEWDESK_ADMIN_HEADER"    envDefault:"X-Admin-ID"`
	Locale        string        `env:"REVIEWDESK_LOCALE"          envDefault:"en-US"`
	MaxConns      int           `env:"REVIEWDESK_MAX_CONNS"       envDefault:"256"`
	ExpiryIndex   string        `env:"REVIEWDESK_EXPIRY_INDEX"    envDefault:"sqlite"`
	ExpiryWindow  time.Duration `env:"REVIEWDESK_EXPIRY_WINDOW"   envDefault:"30m"`
	ReapInterval  time.Duration `env:"REVIEWDESK_REAP_INTERVAL"   envDefault:"1m"`
	NotifyTimeout time.Duration `env:"REVIEWDESK_NOTIFY_TIMEOUT"  envDefault:"5s"`

	// HealthCheck probes a running instance instead of starting one.
	HealthCheck bool
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The review HTTP API port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The gRPC health port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the review SQLite database")
	fs.StringVar(&cfg.FilesDir, "files", cfg.FilesDir, "Directory for stored artifacts")
	fs.StringVar(&cfg.PublicBaseURL, "public-url", cfg.PublicBaseURL, "Base URL used in emailed links")
	fs.StringVar(&cfg.ExpiryIndex, "expiry-index", cfg.ExpiryIndex, "Viewing marker store (sqlite or memory)")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Probe the local health port and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the review service, or probes one when cfg.HealthCheck is set.
func Run(ctx context.Context, cfg Config) error {
	if cfg.HealthCheck {
		return healthCheck(ctx, cfg)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceReviewDesk, func(ctx context.Context) error {
		appCfg, err := appConfig(cfg)
		if err != nil {
			return err
		}
		return app.Run(ctx, appCfg)
	})
}

func healthCheck(ctx context.Context, cfg Config) error {
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.HealthPort)
	if err := platformgrpc.Probe(ctx, addr, app.HealthService, 2*time.Second); err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	return nil
}

// appConfig resolves the signing key and SMTP relay from the environment
// and combines them with cfg.
func appConfig(cfg Config) (app.Config, error) {
	capabilityCfg, err := capability.LoadConfigFromEnv(time.Now)
	if err != nil {
		return app.Config{}, fmt.Errorf("load capability config: %w", err)
	}
	smtpCfg, err := notify.LoadSMTPConfigFromEnv()
	if err != nil {
		return app.Config{}, fmt.Errorf("load smtp config: %w", err)
	}
	return app.Config{
		HTTPAddr:      fmt.Sprintf(":%d", cfg.Port),
		HealthAddr:    fmt.Sprintf(":%d", cfg.HealthPort),
		DBPath:        cfg.DBPath,
		FilesDir:      cfg.FilesDir,
		PublicBaseURL: cfg.PublicBaseURL,
		AdminHeader:   cfg.AdminHeader,
		Locale:        cfg.Locale,
		MaxConns:      cfg.MaxConns,
		ExpiryIndex:   cfg.ExpiryIndex,
		ExpiryWindow:  cfg.ExpiryWindow,
		ReapInterval:  cfg.ReapInterval,
		NotifyTimeout: cfg.NotifyTimeout,
		Capability:    capabilityCfg,
		SMTP:          smtpCfg,
	}, nil
}
