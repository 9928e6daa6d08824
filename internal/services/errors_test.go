package services

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("run: %w", newError(KindAuthRequired, opDownload, errors.New("Sign in to confirm your age")))

	if !errors.Is(err, KindAuthRequired) {
		t.Error("Expected errors.Is to find KindAuthRequired")
	}
	if !errors.Is(err, KindDownloadFailed) {
		t.Error("Expected an auth failure to also count as a download failure")
	}
	if errors.Is(err, KindTimeout) {
		t.Error("Did not expect KindTimeout to match")
	}
	if got := KindOf(err); got != KindAuthRequired {
		t.Errorf("Expected kind %q, got %q", KindAuthRequired, got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("Expected no kind for a plain error, got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Kind
	}{
		{"ERROR: [youtube] x: Sign in to confirm your age. This video may be inappropriate", KindContentRestricted},
		{"ERROR: [youtube] x: Sign in to confirm you're not a bot", KindContentRestricted},
		{"ERROR: [youtube] x: Private video. Sign in if you've been granted access", KindContentRestricted},
		{"ERROR: unable to download webpage: HTTP Error 429: Too Many Requests", KindRateLimited},
		{"ERROR: Read timed out.", KindTimeout},
		{"ERROR: Unsupported URL: https://example.com", KindInvalidInput},
		{"ERROR: [youtube] x: Video unavailable", KindMetadataUnavailable},
		{"something nobody anticipated", KindDownloadFailed},
	}
	for _, tt := range tests {
		if got := Classify(tt.text, KindDownloadFailed); got != tt.want {
			t.Errorf("Classify(%q): Expected %q, got %q", tt.text, tt.want, got)
		}
	}
}

func TestIsFormatUnavailable(t *testing.T) {
	if !isFormatUnavailable("ERROR: [youtube] x: Requested format is not available. Use --list-formats") {
		t.Error("Expected the format error to be recognised")
	}
	if isFormatUnavailable("ERROR: Video unavailable") {
		t.Error("Did not expect an unavailable video to count as a format error")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want []string
	}{
		{newError(KindCancelled, opDownload, nil), []string{"cancelled"}},
		{newError(KindAuthRequired, opDownload, errors.New("Sign in to confirm your age")), []string{"age-restricted", "cookies"}},
		{newError(KindContentRestricted, opResolve, errors.New("Private video")), []string{"private", "cookies"}},
		{newError(KindTooLong, opResolve, errors.New("duration 40:00 exceeds the 30:00 limit")), []string{"too long", "40:00"}},
		{newError(KindTimeout, opResolve, errors.New("deadline")), []string{"Fetching video info timed out"}},
		{newError(KindDeliveryFailed, opDeliver, errors.New("413 entity too large")), []string{"Upload failed"}},
		{newError(KindMetadataUnavailable, opResolve, errors.New("Video unavailable")), []string{"unavailable"}},
	}
	for _, tt := range tests {
		got := Describe(tt.err)
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("Describe(%v): Expected %q in %q", tt.err, w, got)
			}
		}
	}
	if Describe(nil) != "" {
		t.Error("Expected an empty description for nil")
	}
}
