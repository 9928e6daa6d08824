package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestTask() *DownloadTask {
	return &DownloadTask{ID: "u1_1", UserID: "u1", StartedAt: time.Now()}
}

func testRequest(dir string) DownloadRequest {
	tier, _ := ParseTier("720p")
	return DownloadRequest{URL: "https://youtu.be/abc123", Info: testInfo(), Tier: tier, Dir: dir}
}

func TestDownloaderSeparateStreams(t *testing.T) {
	ex := &fakeExtractor{fetch: separateStreams}
	d := newTestDownloader(ex)
	dir := filepath.Join(t.TempDir(), "item_1")

	media, err := d.Run(context.Background(), newTestTask(), testRequest(dir))
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if filepath.Base(media.Video) != "abc123.f136.mp4" {
		t.Errorf("Expected the video stream, got %q", media.Video)
	}
	if filepath.Base(media.Audio) != "abc123.f140.m4a" {
		t.Errorf("Expected the audio stream, got %q", media.Audio)
	}

	tier, _ := ParseTier("720p")
	if got, want := ex.formats()[0], SelectFormat(tier, 0).Primary; got != want {
		t.Errorf("Expected first selector %q, got %q", want, got)
	}
	if got := ex.fetches[0].URL; got != testInfo().WebpageURL {
		t.Errorf("Expected the canonical page URL, got %q", got)
	}
}

func TestDownloaderFormatFallback(t *testing.T) {
	ex := &fakeExtractor{}
	ex.fetch = func(_ context.Context, dir string, req FetchRequest) error {
		if req.Format != fallbackSelector {
			return &EngineError{Message: "[youtube] abc123: Requested format is not available. Use --list-formats"}
		}
		return writeMedia(dir, "abc123.f18.mp4", 48*1024)
	}
	d := newTestDownloader(ex)

	media, err := d.Run(context.Background(), newTestTask(), testRequest(t.TempDir()))
	if err != nil {
		t.Fatalf("Expected the fallback to succeed, got %v", err)
	}
	if media.Audio != "" {
		t.Errorf("Expected a combined stream with no separate audio, got %q", media.Audio)
	}
	formats := ex.formats()
	if len(formats) != 2 || formats[1] != fallbackSelector {
		t.Errorf("Expected primary then fallback in one attempt, got %v", formats)
	}
}

func TestDownloaderDropsTinyArtifacts(t *testing.T) {
	ex := &fakeExtractor{}
	ex.fetch = func(_ context.Context, dir string, _ FetchRequest) error {
		if err := writeMedia(dir, "abc123.f136.mp4", 64*1024); err != nil {
			return err
		}
		if err := writeMedia(dir, "abc123.f140.m4a", 10); err != nil {
			return err
		}
		return writeMedia(dir, "abc123.f136.mp4.part", 64*1024)
	}
	d := newTestDownloader(ex)
	dir := t.TempDir()

	media, err := d.Run(context.Background(), newTestTask(), testRequest(dir))
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if media.Audio != "" {
		t.Errorf("Expected the tiny audio file to be ignored, got %q", media.Audio)
	}
	if _, err := os.Stat(filepath.Join(dir, "abc123.f140.m4a")); !os.IsNotExist(err) {
		t.Error("Expected the tiny audio file to be deleted")
	}
}

func TestDownloaderAuthRequired(t *testing.T) {
	ex := &fakeExtractor{}
	ex.fetch = func(context.Context, string, FetchRequest) error {
		return &EngineError{Message: "[youtube] abc123: Sign in to confirm your age. This video may be inappropriate for some users."}
	}
	d := newTestDownloader(ex)

	_, err := d.Run(context.Background(), newTestTask(), testRequest(t.TempDir()))
	if !errors.Is(err, KindAuthRequired) {
		t.Fatalf("Expected KindAuthRequired, got %v", err)
	}
	if !errors.Is(err, KindDownloadFailed) {
		t.Error("Expected an auth failure to also be a download failure")
	}
	if got := ex.fetchCount(); got != testPolicy.Attempts {
		t.Errorf("Expected %d attempts, got %d", testPolicy.Attempts, got)
	}
}

func TestDownloaderRestrictedWithoutCookies(t *testing.T) {
	ex := &fakeExtractor{}
	ex.fetch = func(context.Context, string, FetchRequest) error {
		return &EngineError{Message: "HTTP Error 403: Forbidden"}
	}
	d := newTestDownloader(ex)
	req := testRequest(t.TempDir())
	req.Info.AgeLimit = 18

	_, err := d.Run(context.Background(), newTestTask(), req)
	if !errors.Is(err, KindAuthRequired) {
		t.Errorf("Expected KindAuthRequired, got %v", err)
	}

	req.CookiesPath = "/tmp/cookies.txt"
	_, err = d.Run(context.Background(), newTestTask(), req)
	if errors.Is(err, KindAuthRequired) || !errors.Is(err, KindDownloadFailed) {
		t.Errorf("Expected a plain download failure with cookies, got %v", err)
	}
}

func TestDownloaderCancellation(t *testing.T) {
	started := make(chan struct{})
	ex := &fakeExtractor{}
	ex.fetch = func(ctx context.Context, dir string, _ FetchRequest) error {
		if err := writeMedia(dir, "abc123.f136.mp4.part", 64*1024); err != nil {
			return err
		}
		close(started)
		<-ctx.Done()
		return &EngineError{Message: "cancelled", Err: ctx.Err()}
	}
	d := newTestDownloader(ex)
	dir := t.TempDir()
	task := newTestTask()

	go func() {
		<-started
		task.Cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(context.Background(), task, testRequest(dir))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, KindCancelled) {
			t.Errorf("Expected KindCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the download to stop after cancel")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected partial files to be removed, found %d", len(entries))
	}
	if got := ex.fetchCount(); got != 1 {
		t.Errorf("Expected no retry after cancel, got %d fetches", got)
	}
}

func TestClassifyFile(t *testing.T) {
	info := testInfo()
	tests := []struct {
		name string
		want mediaKind
	}{
		{"abc123.f136.mp4", mediaVideo},
		{"abc123.f140.m4a", mediaAudio},
		{"abc123.f140.mp4", mediaAudio},
		{"abc123.f999.webm", mediaVideo},
		{"abc123.f999.opus", mediaAudio},
		{"notes.bin", mediaUnknown},
	}
	for _, tt := range tests {
		if got := classifyFile(tt.name, info); got != tt.want {
			t.Errorf("classifyFile(%q): Expected %d, got %d", tt.name, tt.want, got)
		}
	}
}
