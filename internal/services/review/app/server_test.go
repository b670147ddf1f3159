package app

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/reviewdesk/internal/platform/grpc"
	"github.com/louisbranch/reviewdesk/internal/services/review/api/httpapi"
	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
	"github.com/louisbranch/reviewdesk/internal/services/review/proposal"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 7)
	}
	dir := t.TempDir()
	return Config{
		HTTPAddr:      "127.0.0.1:0",
		HealthAddr:    "127.0.0.1:0",
		DBPath:        filepath.Join(dir, "db", "reviewdesk.db"),
		FilesDir:      filepath.Join(dir, "files"),
		PublicBaseURL: "https://review.example",
		MaxConns:      16,
		ExpiryIndex:   ExpiryIndexMemory,
		ReapInterval:  time.Hour,
		Capability: capability.Config{
			Issuer:   "reviewdesk-test",
			Audience: "reviewdesk-links",
			Key:      ed25519.NewKeyFromSeed(seed),
		},
	}
}

func startServer(t *testing.T, cfg Config) (*Server, func()) {
	t.Helper()
	server, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	return server, func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	}
}

func TestNewRejectsMissingPaths(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = ""
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing database path")
	}
	cfg = testConfig(t)
	cfg.FilesDir = " "
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing files directory")
	}
}

func TestNewRejectsUnknownExpiryIndex(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExpiryIndex = "redis"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown expiry index")
	}
}

func TestNewRejectsMissingSigningKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capability.Key = nil
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing capability key")
	}
}

func TestServeReportsHealth(t *testing.T) {
	server, stop := startServer(t, testConfig(t))
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := platformgrpc.WaitForHealth(ctx, server.HealthAddr(), HealthService, t.Logf); err != nil {
		t.Fatalf("wait for review health: %v", err)
	}
}

func TestServeCreatesAndEntersRequest(t *testing.T) {
	server, stop := startServer(t, testConfig(t))
	defer stop()

	now := time.Now().UTC()
	if err := server.store.CreateProposal(context.Background(), proposal.Proposal{
		ID:         "prop-1",
		Kind:       proposal.KindTeacher,
		Title:      "Coastal erosion",
		Abstract:   "Measuring dunes.",
		OwnerName:  "Grace",
		OwnerEmail: "grace@example.com",
		Status:     proposal.StatusSubmitted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	base := "http://" + server.HTTPAddr()
	req, err := http.NewRequest(http.MethodPost, base+"/admin/requests",
		strings.NewReader(`{"target_id":"prop-1","recipient_address":"grace@example.com","ttl_days":3}`))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(httpapi.DefaultAdminHeader, "admin-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	var created struct {
		ID   string `json:"id"`
		Link string `json:"link"`
	}
	err = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	link, err := url.Parse(created.Link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if link.Host != "review.example" {
		t.Fatalf("link host = %q", link.Host)
	}
	resp, err = http.Get(base + link.Path + "?" + link.RawQuery)
	if err != nil {
		t.Fatalf("enter request: %v", err)
	}
	var entry struct {
		Request struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"request"`
		Proposal struct {
			Title string `json:"title"`
		} `json:"proposal"`
	}
	err = json.NewDecoder(resp.Body).Decode(&entry)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enter status = %d", resp.StatusCode)
	}
	if entry.Request.ID != created.ID || entry.Request.Status != "viewed" || entry.Proposal.Title != "Coastal erosion" {
		t.Fatalf("entry = %+v", entry)
	}

	resp, err = http.Get(base + "/requests/enter?token=not-a-token")
	if err != nil {
		t.Fatalf("enter with bad token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		t.Fatalf("bad token status = %d, want 4xx", resp.StatusCode)
	}
}
