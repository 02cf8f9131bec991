package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/markumedium/loading-server/internal/adapters/server/common"
	"github.com/markumedium/loading-server/internal/adapters/storage/sqlite"
	"github.com/markumedium/loading-server/internal/app"
)

type failingPing struct{}

func (failingPing) Ping(context.Context) error {
	return errors.New("database is locked")
}

func newYard(t *testing.T) (*common.AppServiceAdapter, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	svc := app.NewService(repo, func() string { return "v1" }, func() time.Time { return now }, app.ServiceConfig{})
	return common.NewAppServiceAdapter(svc, ""), repo
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return rec.Code, string(body)
}

func TestNewHandlerRoutes(t *testing.T) {
	yard, repo := newYard(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "yard_alerts_total 0\n")
	})
	h, cfg, err := NewHandler(Config{}, Dependencies{Yard: yard, Readiness: repo, Metrics: metrics})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api/v1" || cfg.MCPEndpoint != "/mcp" || cfg.MetricsEndpoint != "/metrics" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	if code, body := get(t, h, "/healthz"); code != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthz = %d %q", code, body)
	}
	if code, _ := get(t, h, "/readyz"); code != http.StatusOK {
		t.Fatalf("readyz = %d", code)
	}
	if code, body := get(t, h, "/api/v1/vehicles"); code != http.StatusOK || !strings.Contains(body, `"vehicles"`) {
		t.Fatalf("vehicles = %d %q", code, body)
	}
	if code, body := get(t, h, "/metrics"); code != http.StatusOK || !strings.Contains(body, "yard_alerts_total") {
		t.Fatalf("metrics = %d %q", code, body)
	}
}

func TestReadinessReportsStorageFailure(t *testing.T) {
	yard, _ := newYard(t)
	h, _, err := NewHandler(Config{}, Dependencies{Yard: yard, Readiness: failingPing{}})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if code, body := get(t, h, "/readyz"); code != http.StatusServiceUnavailable || !strings.Contains(body, "unavailable") {
		t.Fatalf("readyz = %d %q", code, body)
	}
	if code, _ := get(t, h, "/metrics"); code != http.StatusNotFound {
		t.Fatalf("metrics without handler = %d, want 404", code)
	}
}

func TestNewHandlerRejectsBadConfig(t *testing.T) {
	yard, _ := newYard(t)
	if _, _, err := NewHandler(Config{APIEndpoint: "/x", MCPEndpoint: "x/"}, Dependencies{Yard: yard}); err == nil {
		t.Fatal("expected collision error")
	}
	if _, _, err := NewHandler(Config{MetricsEndpoint: "/healthz"}, Dependencies{Yard: yard}); err == nil {
		t.Fatal("expected reserved endpoint error")
	}
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected missing dependency error")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"":          "/fallback",
		"/":         "/fallback",
		"api":       "/api",
		"/api/v1/":  "/api/v1",
		"  /mcp  ":  "/mcp",
		"//nested/": "/nested",
	}
	for in, want := range cases {
		if got := normalizeEndpoint(in, "/fallback"); got != want {
			t.Fatalf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	yard, _ := newYard(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, Dependencies{Yard: yard})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
