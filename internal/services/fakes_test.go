package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/chat"
)

var testPolicy = RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

// fakeExtractor stands in for yt-dlp. fetch receives the resolved output
// directory so handlers can drop files there.
type fakeExtractor struct {
	mu      sync.Mutex
	probes  []ExtractOptions
	fetches []FetchRequest

	probe func(ctx context.Context, url string, opts ExtractOptions) (*VideoInfo, error)
	fetch func(ctx context.Context, dir string, req FetchRequest) error
}

func (f *fakeExtractor) Probe(ctx context.Context, url string, opts ExtractOptions) (*VideoInfo, error) {
	f.mu.Lock()
	f.probes = append(f.probes, opts)
	f.mu.Unlock()
	if f.probe == nil {
		return testInfo(), nil
	}
	return f.probe(ctx, url, opts)
}

func (f *fakeExtractor) Fetch(ctx context.Context, req FetchRequest) error {
	f.mu.Lock()
	f.fetches = append(f.fetches, req)
	f.mu.Unlock()
	if f.fetch == nil {
		return nil
	}
	return f.fetch(ctx, filepath.Dir(req.OutputTemplate), req)
}

func (f *fakeExtractor) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeExtractor) formats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.fetches {
		out = append(out, r.Format)
	}
	return out
}

func testInfo() *VideoInfo {
	return &VideoInfo{
		ID:         "abc123",
		Title:      "Test Video",
		Duration:   120,
		Uploader:   "Someone",
		WebpageURL: "https://www.youtube.com/watch?v=abc123",
		Width:      1280,
		Height:     720,
		Formats: []FormatDescriptor{
			{ID: "136", Ext: "mp4", Height: 720, VCodec: "avc1", ACodec: "none"},
			{ID: "140", Ext: "m4a", VCodec: "none", ACodec: "mp4a"},
			{ID: "18", Ext: "mp4", Height: 360, VCodec: "avc1", ACodec: "mp4a"},
		},
	}
}

func writeMedia(dir, name string, size int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644)
}

// separateStreams writes a 720p video and an m4a audio file.
func separateStreams(_ context.Context, dir string, _ FetchRequest) error {
	if err := writeMedia(dir, "abc123.f136.mp4", 64*1024); err != nil {
		return err
	}
	return writeMedia(dir, "abc123.f140.m4a", 32*1024)
}

type fakeTranscoder struct {
	mu         sync.Mutex
	merges     int
	emptyMerge bool
	mergeErr   error
	duration   time.Duration
	frames     []time.Duration
}

func (f *fakeTranscoder) Merge(_ context.Context, video, audio, out string) error {
	f.mu.Lock()
	f.merges++
	f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	size := 96 * 1024
	if f.emptyMerge {
		size = 0
	}
	return os.WriteFile(out, make([]byte, size), 0o644)
}

func (f *fakeTranscoder) Duration(context.Context, string) (time.Duration, error) {
	if f.duration == 0 {
		return 0, errors.New("no duration")
	}
	return f.duration, nil
}

func (f *fakeTranscoder) Frame(_ context.Context, _ string, at time.Duration, out string) error {
	f.mu.Lock()
	f.frames = append(f.frames, at)
	f.mu.Unlock()
	return os.WriteFile(out, []byte("jpeg"), 0o644)
}

// fakeSink records everything the core sends. mediaErrs and docErrs are
// returned by successive SendMedia and SendDocument calls.
type fakeSink struct {
	mu        sync.Mutex
	texts     []string
	edits     []string
	media     []chat.Media
	documents []chat.Document
	choices   [][]chat.Choice
	mediaErrs []error
	docErrs   []error
	nextID    int
}

func (s *fakeSink) SendText(_ context.Context, channelID, text string) (chat.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	s.nextID++
	return chat.MessageRef{ChannelID: channelID, MessageID: fmt.Sprint(s.nextID)}, nil
}

func (s *fakeSink) EditText(_ context.Context, _ chat.MessageRef, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, text)
	return nil
}

func (s *fakeSink) SendMedia(_ context.Context, _ string, m chat.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media = append(s.media, m)
	if len(s.mediaErrs) > 0 {
		err := s.mediaErrs[0]
		s.mediaErrs = s.mediaErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSink) SendDocument(_ context.Context, _ string, d chat.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, d)
	if len(s.docErrs) > 0 {
		err := s.docErrs[0]
		s.docErrs = s.docErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSink) SendChoices(_ context.Context, channelID, text string, choices []chat.Choice) (chat.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	s.choices = append(s.choices, choices)
	s.nextID++
	return chat.MessageRef{ChannelID: channelID, MessageID: fmt.Sprint(s.nextID)}, nil
}

func (s *fakeSink) lastStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.edits) > 0 {
		return s.edits[len(s.edits)-1]
	}
	if len(s.texts) > 0 {
		return s.texts[len(s.texts)-1]
	}
	return ""
}

func (s *fakeSink) sawStatus(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range append(append([]string(nil), s.texts...), s.edits...) {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

func (s *fakeSink) uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.media) + len(s.documents)
}

func newTestDownloader(ex Extractor) *Downloader {
	d := NewDownloader(ex, testPolicy, NetworkOptions{}, zerolog.Nop())
	d.pollInterval = 10 * time.Millisecond
	d.minFileSize = 1024
	return d
}

func newTestDelivery(maxSize int64) *Delivery {
	d := NewDelivery(maxSize, zerolog.Nop())
	d.margin = 0
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}
