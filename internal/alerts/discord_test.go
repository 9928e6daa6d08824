package alerts

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type webhook struct {
	mu       sync.Mutex
	payloads []payload
}

func (w *webhook) handler(rw http.ResponseWriter, r *http.Request) {
	var p payload
	json.NewDecoder(r.Body).Decode(&p)
	w.mu.Lock()
	w.payloads = append(w.payloads, p)
	w.mu.Unlock()
	rw.WriteHeader(http.StatusNoContent)
}

func TestReportFailure(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()

	n := New(srv.URL, "42", "v1", zerolog.Nop())
	n.ReportFailure("u1", "https://youtu.be/x", errors.New("download: Sign in to confirm your age"))
	n.Wait()

	if len(hook.payloads) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(hook.payloads))
	}
	p := hook.payloads[0]
	if p.Content != "<@42>" {
		t.Errorf("Expected a ping, got %q", p.Content)
	}
	e := p.Embeds[0]
	if e.Title != "Download Failed" || !strings.Contains(e.Description, "Sign in") {
		t.Errorf("Unexpected embed %+v", e)
	}
	if len(e.Fields) != 3 || e.Fields[0].Value != "u1" {
		t.Errorf("Unexpected fields %+v", e.Fields)
	}
}

func TestCooldown(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()

	n := New(srv.URL, "", "v1", zerolog.Nop())
	now := time.Now()
	n.now = func() time.Time { return now }

	n.CookieIssue("expired")
	n.CookieIssue("expired again")
	now = now.Add(2 * time.Minute)
	n.CookieIssue("still expired")
	n.Wait()

	if len(hook.payloads) != 2 {
		t.Errorf("Expected the cooldown to drop one alert, got %d", len(hook.payloads))
	}
}

func TestDisabled(t *testing.T) {
	var nilNotifier *Notifier
	nilNotifier.ReportFailure("u", "url", errors.New("x"))
	nilNotifier.Wait()

	n := New("", "", "v1", zerolog.Nop())
	if n.Enabled() {
		t.Error("Expected a notifier without a webhook to be disabled")
	}
	n.BotStarted("bot")
	n.Wait()
}
