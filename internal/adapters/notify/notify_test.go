package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
)

type capturedLog struct {
	mu      sync.Mutex
	entries []string
}

func (c *capturedLog) add(level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, level+":"+msg)
}

func (c *capturedLog) Debug(msg string, _ ...any) { c.add("debug", msg) }
func (c *capturedLog) Info(msg string, _ ...any)  { c.add("info", msg) }
func (c *capturedLog) Warn(msg string, _ ...any)  { c.add("warn", msg) }
func (c *capturedLog) Error(msg string, _ ...any) { c.add("error", msg) }

func sampleAlert() app.Alert {
	return app.Alert{
		Vehicle: domain.Vehicle{ID: "v1", Model: "KAMAZ", LicensePlate: "K001AA", Status: domain.StateLoading, Cycle: 2},
		Since:   time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
		Elapsed: 45 * time.Minute,
	}
}

func TestLogNotifier(t *testing.T) {
	logs := &capturedLog{}
	n := NewLogNotifier(logs)
	if err := n.NotifyAlert(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("NotifyAlert() error = %v", err)
	}
	if err := n.DeliverReport(context.Background(), app.Report{Day: "2026-03-02"}, "# report"); err != nil {
		t.Fatalf("DeliverReport() error = %v", err)
	}
	if len(logs.entries) != 2 || logs.entries[0] != "warn:vehicle loading too long" || logs.entries[1] != "info:daily report" {
		t.Fatalf("unexpected log entries %v", logs.entries)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body error = %v", err)
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	n, err := NewWebhookNotifier(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}
	if err := n.NotifyAlert(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("NotifyAlert() error = %v", err)
	}
	if err := n.DeliverReport(context.Background(), app.Report{Day: "2026-03-02"}, "# Yard report"); err != nil {
		t.Fatalf("DeliverReport() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(bodies))
	}
	if bodies[0]["kind"] != "loading_alert" || bodies[0]["vehicle_id"] != "v1" || bodies[0]["elapsed_seconds"] != float64(2700) {
		t.Fatalf("unexpected alert body %#v", bodies[0])
	}
	if text, _ := bodies[0]["text"].(string); !strings.Contains(text, "K001AA") {
		t.Fatalf("expected plate in alert text, got %q", text)
	}
	if bodies[1]["kind"] != "daily_report" || bodies[1]["text"] != "# Yard report" {
		t.Fatalf("unexpected report body %#v", bodies[1])
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	n, err := NewWebhookNotifier(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}
	err = n.NotifyAlert(context.Background(), sampleAlert())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	if _, err := NewWebhookNotifier("  ", nil); err == nil {
		t.Fatal("expected error for empty url")
	}
}

type failingNotifier struct{ err error }

func (f failingNotifier) NotifyAlert(context.Context, app.Alert) error { return f.err }
func (f failingNotifier) DeliverReport(context.Context, app.Report, string) error {
	return f.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	logs := &capturedLog{}
	boom := errors.New("boom")
	f := Fanout{NewLogNotifier(logs), failingNotifier{err: boom}}
	if err := f.NotifyAlert(context.Background(), sampleAlert()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected the log notifier to still run, got %v", logs.entries)
	}
	if err := (Fanout{NewLogNotifier(logs)}).DeliverReport(context.Background(), app.Report{}, ""); err != nil {
		t.Fatalf("DeliverReport() error = %v", err)
	}
}
