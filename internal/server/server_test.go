package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oharashane/cs16relay/internal/config"
	"github.com/oharashane/cs16relay/internal/metrics"
	"github.com/oharashane/cs16relay/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("RELAY_ALLOWED_ORIGINS", "https://play.example.com")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	s := NewServer(cfg, metrics.New(), session.NewRegistry(), slog.Default())
	t.Cleanup(s.Close)
	return s
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"service":"cs16relay"`) {
		t.Errorf("body = %s", body)
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://play.example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://play.example.com" {
		t.Errorf("allow-origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("allow-credentials = %q", got)
	}
}

func TestCORSRejectedOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin header, got %q", got)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pkt_to_udp_total") {
		t.Error("expected pkt_to_udp_total in exposition")
	}
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	if !rl.Allow("1.2.3.4") {
		t.Fatal("expected first request to be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("expected second immediate request to be rate limited")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("expected a different IP to have its own bucket")
	}
	if rl.TrackedIPs() != 2 {
		t.Errorf("TrackedIPs() = %d, want 2", rl.TrackedIPs())
	}
}

func TestRateLimiterEvictsStaleEntries(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	rl.evictEvery = time.Millisecond
	rl.staleAfter = time.Millisecond

	rl.Allow("1.2.3.4")
	if rl.TrackedIPs() != 1 {
		t.Fatalf("TrackedIPs() = %d, want 1", rl.TrackedIPs())
	}

	time.Sleep(20 * time.Millisecond)
	go rl.evictLoop()
	time.Sleep(20 * time.Millisecond)

	if rl.TrackedIPs() != 0 {
		t.Errorf("TrackedIPs() = %d after eviction, want 0", rl.TrackedIPs())
	}
}
