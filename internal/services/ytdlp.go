package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/util"
)

var percentRe = regexp.MustCompile(`([\d.]+)%`)
var speedRe = regexp.MustCompile(`at\s+([\d.]+\s*\w+/s)`)
var etaRe = regexp.MustCompile(`ETA\s+(\S+)`)
var ytdlpErrorRe = regexp.MustCompile(`(?i)ERROR[:\s]+(.+?)(?:\n|$)`)

const progressTemplate = "download:[download] %(progress._percent_str)s at %(progress._speed_str)s ETA %(progress._eta_str)s"

type Progress struct {
	Percent float64
	Speed   string
	ETA     string
}

func ParseYtdlpProgress(text string) Progress {
	var p Progress
	if m := percentRe.FindStringSubmatch(text); len(m) > 1 {
		p.Percent, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := speedRe.FindStringSubmatch(text); len(m) > 1 {
		p.Speed = m[1]
	}
	if m := etaRe.FindStringSubmatch(text); len(m) > 1 {
		p.ETA = m[1]
	}
	return p
}

// ExtractOptions are the per-call knobs the resolver and downloader rotate.
type ExtractOptions struct {
	CookiesPath   string
	UserAgent     string
	Proxy         string
	SocketTimeout time.Duration
}

func (o ExtractOptions) args() []string {
	var args []string
	if o.CookiesPath != "" {
		args = append(args, "--cookies", o.CookiesPath)
	}
	if o.UserAgent != "" {
		args = append(args, "--user-agent", o.UserAgent)
	}
	if o.Proxy != "" {
		args = append(args, "--proxy", o.Proxy)
	}
	if o.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(o.SocketTimeout.Seconds())))
	}
	return args
}

type FetchRequest struct {
	URL            string
	Format         string
	OutputTemplate string
	Options        ExtractOptions
	OnProgress     func(Progress)
}

// Extractor is the extraction engine contract: resolve metadata for a URL,
// or download the streams a format selector picks.
type Extractor interface {
	Probe(ctx context.Context, url string, opts ExtractOptions) (*VideoInfo, error)
	Fetch(ctx context.Context, req FetchRequest) error
}

// EngineError carries the engine's own explanation of a failure so it can be
// classified.
type EngineError struct {
	Message string
	Stderr  string
	Err     error
}

func (e *EngineError) Error() string { return e.Message }

func (e *EngineError) Unwrap() error { return e.Err }

// Ytdlp runs the yt-dlp binary.
type Ytdlp struct {
	Path       string
	FFmpegPath string
	log        zerolog.Logger
}

func NewYtdlp(path, ffmpegPath string, log zerolog.Logger) *Ytdlp {
	if path == "" {
		path = "yt-dlp"
	}
	return &Ytdlp{
		Path:       path,
		FFmpegPath: ffmpegPath,
		log:        log.With().Str("component", "yt-dlp").Logger(),
	}
}

func (y *Ytdlp) Probe(ctx context.Context, url string, opts ExtractOptions) (*VideoInfo, error) {
	args := append(opts.args(),
		"--dump-single-json",
		"--skip-download",
		"--no-warnings",
		"--no-playlist",
		"--playlist-items", "1",
		url,
	)

	cmd := exec.CommandContext(ctx, y.Path, args...)
	cmd.WaitDelay = 5 * time.Second
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, engineError(ctx, "Failed to get video info", stderr.String(), err)
	}

	info, err := parseVideoInfo(out)
	if err != nil {
		return nil, &EngineError{Message: "Failed to parse video info", Err: err}
	}
	return info, nil
}

func (y *Ytdlp) Fetch(ctx context.Context, req FetchRequest) error {
	args := append(req.Options.args(),
		"--no-playlist",
		"--no-mtime",
		"--retries", "10",
		"--fragment-retries", "10",
		"--newline",
		"--progress-template", progressTemplate,
		"-f", req.Format,
		"-o", req.OutputTemplate,
	)
	if y.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", y.FFmpegPath)
	}
	args = append(args, req.URL)

	cmd := exec.CommandContext(ctx, y.Path, args...)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start yt-dlp: %w", err)
	}

	var stderrOutput strings.Builder
	var lastProgress float64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	report := func(line string) {
		if req.OnProgress == nil || !strings.Contains(line, "%") {
			return
		}
		p := ParseYtdlpProgress(line)
		mu.Lock()
		shouldReport := p.Percent > 0 && (p.Percent > lastProgress+2 || p.Percent >= 100)
		if shouldReport {
			lastProgress = p.Percent
		}
		mu.Unlock()
		if shouldReport {
			req.OnProgress(p)
		}
	}

	go func() {
		defer wg.Done()
		scanLines(stdout, report)
	}()

	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			stderrOutput.WriteString(line + "\n")
			if strings.Contains(line, "[download]") {
				report(line)
			}
		})
	}()

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		return engineError(ctx, "Download failed", stderrOutput.String(), err)
	}
	return nil
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}

func engineError(ctx context.Context, fallback, stderr string, err error) *EngineError {
	if ctx.Err() != nil {
		return &EngineError{Message: "cancelled", Stderr: stderr, Err: ctx.Err()}
	}
	msg := fallback
	if m := ytdlpErrorRe.FindStringSubmatch(stderr); len(m) > 1 {
		msg = strings.TrimSpace(m[1])
	} else if line := lastLine(stderr); line != "" {
		msg = line
	}
	return &EngineError{Message: msg, Stderr: stderr, Err: err}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

type rawFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Height         int     `json:"height"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
}

type rawInfo struct {
	Type         string      `json:"_type"`
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Duration     float64     `json:"duration"`
	Uploader     string      `json:"uploader"`
	Channel      string      `json:"channel"`
	AgeLimit     int         `json:"age_limit"`
	Availability string      `json:"availability"`
	WebpageURL   string      `json:"webpage_url"`
	IsLive       bool        `json:"is_live"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	Formats      []rawFormat `json:"formats"`
	Entries      []rawInfo   `json:"entries"`
}

// parseVideoInfo decodes yt-dlp's JSON dump. A playlist yields its first
// entry.
func parseVideoInfo(data []byte) (*VideoInfo, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Type == "playlist" || len(raw.Entries) > 0 {
		if len(raw.Entries) == 0 {
			return nil, fmt.Errorf("playlist has no entries")
		}
		raw = raw.Entries[0]
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("missing video id")
	}

	info := &VideoInfo{
		ID:           raw.ID,
		Title:        raw.Title,
		Duration:     int(raw.Duration),
		Uploader:     util.OrDefault(raw.Uploader, raw.Channel),
		AgeLimit:     raw.AgeLimit,
		Availability: raw.Availability,
		WebpageURL:   raw.WebpageURL,
		IsLive:       raw.IsLive,
		Width:        raw.Width,
		Height:       raw.Height,
	}
	for _, f := range raw.Formats {
		size := int64(f.Filesize)
		if size == 0 {
			size = int64(f.FilesizeApprox)
		}
		info.Formats = append(info.Formats, FormatDescriptor{
			ID:     f.FormatID,
			Ext:    f.Ext,
			Height: f.Height,
			VCodec: f.VCodec,
			ACodec: f.ACodec,
			Size:   size,
		})
	}
	return info, nil
}
