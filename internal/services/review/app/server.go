// Package app wires the review runtime: storage, services, the HTTP API,
// the gRPC health endpoint and the expiry reaper.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	platformgrpc "github.com/louisbranch/reviewdesk/internal/platform/grpc"
	"github.com/louisbranch/reviewdesk/internal/platform/timeouts"
	"github.com/louisbranch/reviewdesk/internal/services/review/api/httpapi"
	"github.com/louisbranch/reviewdesk/internal/services/review/assignment"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/expiry"
	"github.com/louisbranch/reviewdesk/internal/services/review/filestore"
	"github.com/louisbranch/reviewdesk/internal/services/review/notify"
	"github.com/louisbranch/reviewdesk/internal/services/review/request"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage"
	"github.com/louisbranch/reviewdesk/internal/services/review/storage/sqlite"
)

// HealthService is the gRPC health name reported for the review API.
const HealthService = "reviewdesk.ReviewService"

const (
	// ExpiryIndexSQLite keeps viewing markers in the review database.
	ExpiryIndexSQLite = "sqlite"
	// ExpiryIndexMemory keeps viewing markers in process memory.
	ExpiryIndexMemory = "memory"
)

const defaultStoreCheckInterval = 15 * time.Second

// Config holds the runtime settings resolved by the command layer.
type Config struct {
	HTTPAddr   string
	HealthAddr string
	DBPath     string
	FilesDir   string
	// PublicBaseURL prefixes links in outbound email.
	PublicBaseURL string
	AdminHeader   string
	Locale        string
	MaxConns      int

	ExpiryIndex   string
	ExpiryWindow  time.Duration
	ReapInterval  time.Duration
	NotifyTimeout time.Duration

	Capability capability.Config
	SMTP       notify.SMTPConfig
}

// Server owns the listeners and stores of one review process.
type Server struct {
	httpListener     net.Listener
	healthListener   net.Listener
	httpServer       *http.Server
	grpcServer       *gogrpc.Server
	health           *health.Server
	store            *sqlite.Store
	expiry           *expiry.Service
	reapInterval     time.Duration
	storeCheckPeriod time.Duration
}

// New opens storage, builds the services and binds both listeners.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, errors.New("database path is required")
	}
	if strings.TrimSpace(cfg.FilesDir) == "" {
		return nil, errors.New("files directory is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	server, err := newWithStore(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return server, nil
}

func newWithStore(cfg Config, store *sqlite.Store) (*Server, error) {
	files, err := filestore.New(cfg.FilesDir)
	if err != nil {
		return nil, err
	}
	authority, err := capability.NewAuthority(cfg.Capability)
	if err != nil {
		return nil, fmt.Errorf("build capability authority: %w", err)
	}
	notifier, err := buildNotifier(cfg.SMTP)
	if err != nil {
		return nil, err
	}
	markerStore, err := buildExpiryStore(cfg.ExpiryIndex, store)
	if err != nil {
		return nil, err
	}
	index := expiry.NewService(markerStore, cfg.ExpiryWindow)
	renderer := notify.NewRenderer(cfg.Locale)

	requests, err := request.NewService(request.Config{
		Requests:      store,
		Proposals:     store,
		Submissions:   store,
		Files:         files,
		Tokens:        authority,
		Expiry:        index,
		Notifier:      notifier,
		Renderer:      renderer,
		PublicBaseURL: cfg.PublicBaseURL,
		NotifyTimeout: cfg.NotifyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build request service: %w", err)
	}
	assignments, err := assignment.NewService(assignment.Config{
		Proposals:           store,
		Reviewers:           store,
		Assignments:         store,
		Tokens:              authority,
		Notifier:            notifier,
		Renderer:            renderer,
		PublicBaseURL:       cfg.PublicBaseURL,
		NotifyTimeout:       cfg.NotifyTimeout,
		CompensationTimeout: timeouts.Compensation,
	})
	if err != nil {
		return nil, fmt.Errorf("build assignment service: %w", err)
	}
	handler, err := httpapi.New(httpapi.Config{
		Requests:    requests,
		Assignments: assignments,
		Files:       files,
		AdminHeader: cfg.AdminHeader,
		Logger:      log.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("build http api: %w", err)
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	if cfg.MaxConns > 0 {
		httpListener = netutil.LimitListener(httpListener, cfg.MaxConns)
	}
	healthListener, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		_ = httpListener.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HealthAddr, err)
	}
	grpcServer, healthServer := platformgrpc.NewHealthServer(HealthService)

	reapInterval := cfg.ReapInterval
	if reapInterval <= 0 {
		reapInterval = time.Minute
	}
	return &Server{
		httpListener:   httpListener,
		healthListener: healthListener,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		grpcServer:       grpcServer,
		health:           healthServer,
		store:            store,
		expiry:           index,
		reapInterval:     reapInterval,
		storeCheckPeriod: defaultStoreCheckInterval,
	}, nil
}

func buildNotifier(cfg notify.SMTPConfig) (notify.Notifier, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		log.Printf("smtp relay not configured; emails are logged only")
		return notify.LogNotifier{}, nil
	}
	notifier, err := notify.NewSMTPNotifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("build smtp notifier: %w", err)
	}
	return notifier, nil
}

func buildExpiryStore(kind string, store *sqlite.Store) (storage.ExpiryStore, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", ExpiryIndexSQLite:
		return store, nil
	case ExpiryIndexMemory:
		return expiry.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown expiry index %q", kind)
	}
}

// HTTPAddr returns the bound HTTP API address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// HealthAddr returns the bound gRPC health address.
func (s *Server) HealthAddr() string {
	if s == nil || s.healthListener == nil {
		return ""
	}
	return s.healthListener.Addr().String()
}

// Run creates and serves a review server until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the HTTP API, the health endpoint, the reaper and the store
// check until ctx is cancelled or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	defer s.Close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("review api listening at %v", s.httpListener.Addr())
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		log.Printf("review health listening at %v", s.healthListener.Addr())
		if err := s.grpcServer.Serve(s.healthListener); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
			return fmt.Errorf("serve health: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return s.expiry.RunReaper(ctx, s.reapInterval)
	})
	group.Go(func() error {
		s.watchStore(ctx)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})
	return group.Wait()
}

// watchStore reports NOT_SERVING while the database cannot be reached.
func (s *Server) watchStore(ctx context.Context) {
	ticker := time.NewTicker(s.storeCheckPeriod)
	defer ticker.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, time.Second)
			err := s.store.Ping(pingCtx)
			cancel()
			if ctx.Err() != nil {
				return
			}
			next := err == nil
			if next == serving {
				continue
			}
			serving = next
			status := grpc_health_v1.HealthCheckResponse_SERVING
			if !serving {
				status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
				log.Printf("review store unreachable err=%v", err)
			}
			s.health.SetServingStatus(HealthService, status)
		}
	}
}

func (s *Server) shutdown() {
	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("review api shutdown: %v", err)
	}
	s.grpcServer.GracefulStop()
}

// Close releases the store. Listeners are closed by their servers.
func (s *Server) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close review store: %v", err)
	}
}
