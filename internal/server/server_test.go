package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/routes"
	"github.com/coah80/yoinktube/internal/services"
)

type fakeSessions struct{ stats services.Stats }

func (f fakeSessions) Stats() services.Stats { return f.stats }

type fakeCookies bool

func (f fakeCookies) Available() bool { return bool(f) }

func newTestServer() *httptest.Server {
	s := New(Options{Addr: ":0"}, routes.StatusDeps{
		Sessions:  fakeSessions{services.Stats{Sessions: 2, ActiveDownloads: 1}},
		Cookies:   fakeCookies(true),
		Version:   "v1.2.3",
		StartedAt: time.Now().Add(-time.Minute),
	}, zerolog.Nop())
	return httptest.NewServer(s.Handler())
}

func TestHealth(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] != "v1.2.3" {
		t.Errorf("Unexpected body %v", body)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected security headers")
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body routes.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Cookies || body.Sessions != 2 || body.ActiveDownloads != 1 {
		t.Errorf("Unexpected status %+v", body)
	}
	if body.Uptime == "" {
		t.Error("Expected an uptime")
	}
}
