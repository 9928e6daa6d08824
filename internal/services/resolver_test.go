package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestResolveSanitizesTitle(t *testing.T) {
	ex := &fakeExtractor{probe: func(context.Context, string, ExtractOptions) (*VideoInfo, error) {
		info := testInfo()
		info.Title = `a/b: "c"?`
		info.WebpageURL = ""
		return info, nil
	}}
	r := NewResolver(ex, testPolicy, NetworkOptions{}, zerolog.Nop())

	info, err := r.Resolve(context.Background(), "https://youtu.be/abc123", "")
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "ab c" {
		t.Errorf("Expected a sanitized title, got %q", info.Title)
	}
	if info.WebpageURL != "https://youtu.be/abc123" {
		t.Errorf("Expected the request URL as page URL, got %q", info.WebpageURL)
	}
}

func TestResolveRotatesAndRetries(t *testing.T) {
	calls := 0
	ex := &fakeExtractor{probe: func(context.Context, string, ExtractOptions) (*VideoInfo, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("HTTP Error 503")
		}
		return testInfo(), nil
	}}
	r := NewResolver(ex, testPolicy, NetworkOptions{Proxies: []string{"http://a:1", "http://b:2"}}, zerolog.Nop())

	if _, err := r.Resolve(context.Background(), "https://youtu.be/abc123", ""); err != nil {
		t.Fatalf("Expected the third attempt to succeed, got %v", err)
	}
	want := []string{"http://a:1", "http://b:2", "http://a:1"}
	for i, opts := range ex.probes {
		if opts.Proxy != want[i] {
			t.Errorf("Attempt %d: Expected proxy %q, got %q", i, want[i], opts.Proxy)
		}
	}
	if ex.probes[0].UserAgent == ex.probes[1].UserAgent {
		t.Error("Expected the user agent to rotate between attempts")
	}
}

func TestResolveFallsBackWithoutCookies(t *testing.T) {
	ex := &fakeExtractor{probe: func(_ context.Context, _ string, opts ExtractOptions) (*VideoInfo, error) {
		if opts.CookiesPath != "" {
			return nil, errors.New("HTTP Error 400: Bad Request")
		}
		return testInfo(), nil
	}}
	r := NewResolver(ex, testPolicy, NetworkOptions{}, zerolog.Nop())

	if _, err := r.Resolve(context.Background(), "https://youtu.be/abc123", "/tmp/cookies.txt"); err != nil {
		t.Fatalf("Expected the cookie-less attempt to succeed, got %v", err)
	}
	if got := len(ex.probes); got != testPolicy.Attempts+1 {
		t.Errorf("Expected %d probes, got %d", testPolicy.Attempts+1, got)
	}
}

func TestResolveClassifies(t *testing.T) {
	tests := []struct {
		msg   string
		want  Kind
		calls int
	}{
		{"Sign in to confirm your age", KindContentRestricted, 3},
		{"Read timed out", KindTimeout, 3},
		{"Video unavailable", KindMetadataUnavailable, 3},
		{"Unsupported URL: https://youtu.be/x", KindMetadataUnavailable, 1},
	}
	for _, tt := range tests {
		ex := &fakeExtractor{probe: func(context.Context, string, ExtractOptions) (*VideoInfo, error) {
			return nil, &EngineError{Message: tt.msg}
		}}
		r := NewResolver(ex, testPolicy, NetworkOptions{}, zerolog.Nop())

		_, err := r.Resolve(context.Background(), "https://youtu.be/x", "")
		if !errors.Is(err, tt.want) {
			t.Errorf("%q: Expected %q, got %v", tt.msg, tt.want, err)
		}
		if len(ex.probes) != tt.calls {
			t.Errorf("%q: Expected %d probes, got %d", tt.msg, tt.calls, len(ex.probes))
		}
	}
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := &fakeExtractor{probe: func(ctx context.Context, _ string, _ ExtractOptions) (*VideoInfo, error) {
		return nil, ctx.Err()
	}}
	r := NewResolver(ex, testPolicy, NetworkOptions{}, zerolog.Nop())
	if _, err := r.Resolve(ctx, "https://youtu.be/x", "/tmp/c.txt"); !errors.Is(err, KindCancelled) {
		t.Errorf("Expected KindCancelled, got %v", err)
	}
}
