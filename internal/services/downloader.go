package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/config"
)

const outputTemplate = "%(id)s.f%(format_id)s.%(ext)s"

var audioExts = map[string]bool{
	"m4a": true, "mp3": true, "opus": true, "ogg": true, "aac": true, "wav": true, "weba": true, "flac": true,
}

var videoExts = map[string]bool{
	"mp4": true, "webm": true, "mkv": true, "mov": true, "m4v": true, "flv": true, "3gp": true, "avi": true,
}

var skipSuffixes = []string{".part", ".ytdl", ".temp", ".json", ".jpg", ".jpeg", ".png", ".webp", ".txt"}

// DownloadedMedia holds the run's files. Audio is empty when the engine
// delivered a single combined stream.
type DownloadedMedia struct {
	Dir       string
	Video     string
	Audio     string
	Merged    string
	Thumbnail string
}

type DownloadRequest struct {
	URL         string
	Info        *VideoInfo
	Tier        Tier
	Dir         string
	CookiesPath string
	OnProgress  func(Progress)
}

type fetchOutcome int

const (
	fetchOK fetchOutcome = iota
	fetchFallback
	fetchFailed
)

type Downloader struct {
	extractor    Extractor
	policy       RetryPolicy
	net          NetworkOptions
	pollInterval time.Duration
	minFileSize  int64
	log          zerolog.Logger
}

func NewDownloader(extractor Extractor, policy RetryPolicy, net NetworkOptions, log zerolog.Logger) *Downloader {
	return &Downloader{
		extractor:    extractor,
		policy:       policy,
		net:          net,
		pollInterval: config.CancelPollInterval,
		minFileSize:  config.MinMediaFileSize,
		log:          log.With().Str("component", "downloader").Logger(),
	}
}

// Run downloads req.URL into req.Dir, relaxing the format selection on each
// attempt. A raised cancel flag on task is noticed within one poll interval;
// the engine is then killed, req.Dir emptied and a Cancelled error returned.
func (d *Downloader) Run(ctx context.Context, task *DownloadTask, req DownloadRequest) (*DownloadedMedia, error) {
	if task.Cancelled() {
		return nil, newError(KindCancelled, opDownload, nil)
	}
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return nil, newError(KindDownloadFailed, opDownload, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	task.bindKill(cancel)
	defer task.bindKill(nil)

	stop := d.watch(runCtx, task)
	defer stop()

	log := d.log.With().Str("task", task.ID).Str("id", req.Info.ID).Logger()
	var media *DownloadedMedia
	err := Retry(runCtx, d.policy, log, func(ctx context.Context, attempt int) error {
		m, err := d.attempt(ctx, log, req, attempt)
		if err != nil {
			d.clearDir(req.Dir)
			if task.Cancelled() {
				return newError(KindCancelled, opDownload, nil)
			}
			return err
		}
		media = m
		return nil
	})

	if task.Cancelled() {
		d.clearDir(req.Dir)
		log.Info().Msg("Download cancelled")
		return nil, newError(KindCancelled, opDownload, nil)
	}
	if err != nil {
		d.clearDir(req.Dir)
		return nil, d.terminal(err, req)
	}
	log.Info().Str("video", filepath.Base(media.Video)).Str("audio", filepath.Base(media.Audio)).Msg("Download complete")
	return media, nil
}

// watch polls the task's cancel flag and kills the bound engine process once
// it is raised.
func (d *Downloader) watch(ctx context.Context, task *DownloadTask) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if task.Cancelled() {
					d.log.Info().Str("task", task.ID).Msg("Cancel flag seen, stopping engine")
					task.Kill()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (d *Downloader) attempt(ctx context.Context, log zerolog.Logger, req DownloadRequest, attempt int) (*DownloadedMedia, error) {
	sel := SelectFormat(req.Tier, attempt)
	opts := d.net.options(req.CookiesPath, attempt)
	log.Info().Int("attempt", attempt+1).Str("format", sel.Primary).Bool("cookies", req.CookiesPath != "").Msg("Downloading")

	outcome, err := d.fetch(ctx, req, sel.Primary, opts)
	if outcome == fetchFallback {
		log.Info().Str("format", sel.Fallback).Msg("Requested format not available, using fallback")
		d.clearDir(req.Dir)
		outcome, err = d.fetch(ctx, req, sel.Fallback, opts)
	}
	if outcome != fetchOK {
		return nil, err
	}
	return d.collect(req.Dir, req.Info)
}

func (d *Downloader) fetch(ctx context.Context, req DownloadRequest, format string, opts ExtractOptions) (fetchOutcome, error) {
	url := req.URL
	if req.Info != nil && req.Info.WebpageURL != "" {
		url = req.Info.WebpageURL
	}
	err := d.extractor.Fetch(ctx, FetchRequest{
		URL:            url,
		Format:         format,
		OutputTemplate: filepath.Join(req.Dir, outputTemplate),
		Options:        opts,
		OnProgress:     req.OnProgress,
	})
	switch {
	case err == nil:
		return fetchOK, nil
	case isFormatUnavailable(err.Error()):
		return fetchFallback, err
	default:
		return fetchFailed, err
	}
}

type mediaKind int

const (
	mediaUnknown mediaKind = iota
	mediaVideo
	mediaAudio
)

// collect sorts the engine's output files into one video and at most one
// audio file. Near-empty artifacts are deleted.
func (d *Downloader) collect(dir string, info *VideoInfo) (*DownloadedMedia, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read download dir: %w", err)
	}

	var video, audio string
	var videoSize, audioSize int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || skipFile(name) {
			continue
		}
		path := filepath.Join(dir, name)
		st, err := e.Info()
		if err != nil {
			continue
		}
		if st.Size() < d.minFileSize {
			d.log.Debug().Str("file", name).Int64("size", st.Size()).Msg("Discarding tiny artifact")
			os.Remove(path)
			continue
		}

		switch classifyFile(name, info) {
		case mediaVideo:
			if st.Size() > videoSize {
				video, videoSize = path, st.Size()
			}
		case mediaAudio:
			if st.Size() > audioSize {
				audio, audioSize = path, st.Size()
			}
		}
	}

	if video == "" {
		return nil, errors.New("Downloaded file not found")
	}
	return &DownloadedMedia{Dir: dir, Video: video, Audio: audio}, nil
}

func skipFile(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, ".part-frag") {
		return true
	}
	for _, s := range skipSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// classifyFile trusts the format descriptor named in the file over the
// extension.
func classifyFile(name string, info *VideoInfo) mediaKind {
	if id := formatIDFromName(name); id != "" && info != nil {
		if f, ok := info.Format(id); ok {
			switch {
			case f.HasVideo():
				return mediaVideo
			case f.HasAudio():
				return mediaAudio
			}
		}
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch {
	case audioExts[ext]:
		return mediaAudio
	case videoExts[ext]:
		return mediaVideo
	}
	return mediaUnknown
}

func formatIDFromName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndex(base, ".f")
	if i < 0 {
		return ""
	}
	return base[i+2:]
}

func (d *Downloader) clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.RemoveAll(filepath.Join(dir, e.Name()))
	}
}

// terminal turns the last attempt's failure into the error the user sees.
func (d *Downloader) terminal(err error, req DownloadRequest) error {
	if errors.Is(err, KindCancelled) {
		return err
	}
	kind := Classify(err.Error(), KindDownloadFailed)
	switch {
	case kind == KindContentRestricted, req.Info.Restricted() && req.CookiesPath == "":
		return newError(KindAuthRequired, opDownload, err)
	case kind == KindTimeout:
		return newError(KindTimeout, opDownload, err)
	default:
		return newError(KindDownloadFailed, opDownload, err)
	}
}
