package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/coah80/yoinktube/internal/chat"
	"github.com/coah80/yoinktube/internal/config"
	"github.com/coah80/yoinktube/internal/util"
)

const defaultTier = "720p"

// CookieSource hands each run a private copy of the active cookie file.
type CookieSource interface {
	Snapshot(dir string) (string, bool)
}

// FailureReporter is told about runs that ended in a terminal failure.
type FailureReporter interface {
	ReportFailure(userID, url string, err error)
}

type PipelineConfig struct {
	TempDir          string
	MaxDuration      int
	ProgressInterval time.Duration
}

func PipelineConfigFrom(c *config.Config) PipelineConfig {
	return PipelineConfig{
		TempDir:          c.TempDir,
		MaxDuration:      c.MaxDuration,
		ProgressInterval: config.ProgressEditInterval,
	}
}

type Pipeline struct {
	cfg        PipelineConfig
	registry   *Registry
	cookies    CookieSource
	resolver   *Resolver
	downloader *Downloader
	assembler  *Assembler
	delivery   *Delivery
	alerts     FailureReporter
	log        zerolog.Logger
}

type PipelineDeps struct {
	Registry   *Registry
	Cookies    CookieSource
	Resolver   *Resolver
	Downloader *Downloader
	Assembler  *Assembler
	Delivery   *Delivery
	Alerts     FailureReporter
}

func NewPipeline(cfg PipelineConfig, deps PipelineDeps, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		registry:   deps.Registry,
		cookies:    deps.Cookies,
		resolver:   deps.Resolver,
		downloader: deps.Downloader,
		assembler:  deps.Assembler,
		delivery:   deps.Delivery,
		alerts:     deps.Alerts,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// Job is one accepted request: a single URL, or several from a batch file.
type Job struct {
	UserID     string
	ChannelID  string
	SessionID  string
	URLs       []string
	Resolution string
	Status     chat.MessageRef
}

type ItemResult struct {
	URL     string
	Title   string
	Outcome Outcome
	Err     error
}

type RunResult struct {
	TaskID string
	Items  []ItemResult
}

func (r *RunResult) Sent() int {
	n := 0
	for _, it := range r.Items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

// Run executes job to completion and reports the outcome through sink. The
// session, the task and the run directory are released on every path.
func (p *Pipeline) Run(ctx context.Context, sink chat.Sink, job Job) (*RunResult, error) {
	defer p.registry.End(job.UserID, job.SessionID)

	status := job.Status
	if status.IsZero() {
		status, _ = sink.SendText(ctx, job.ChannelID, "⏳ Starting download...")
	}

	task, err := p.registry.StartSessionTask(job.UserID, job.SessionID)
	if err != nil {
		p.edit(ctx, sink, status, job.ChannelID, Describe(err))
		return nil, err
	}
	defer p.registry.FinishTask(task)

	tier, ok := ParseTier(job.Resolution)
	if !ok {
		tier, _ = ParseTier(defaultTier)
	}

	log := p.log.With().Str("run", uuid.NewString()).Str("task", task.ID).Str("user", job.UserID).Logger()

	runDir := filepath.Join(p.cfg.TempDir, "user_"+task.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		err = newError(KindDownloadFailed, opRun, err)
		p.edit(ctx, sink, status, job.ChannelID, Describe(err))
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			log.Error().Err(err).Str("dir", runDir).Msg("Failed to remove run directory")
			return
		}
		log.Debug().Str("dir", runDir).Msg("Removed run directory")
	}()

	cookies := ""
	if p.cookies != nil {
		cookies, _ = p.cookies.Snapshot(runDir)
	}
	log.Info().Int("urls", len(job.URLs)).Str("tier", tier.String()).Bool("cookies", cookies != "").Msg("Run started")

	result := &RunResult{TaskID: task.ID}
	for i, url := range job.URLs {
		prefix := ""
		if len(job.URLs) > 1 {
			prefix = fmt.Sprintf("[%d/%d] ", i+1, len(job.URLs))
		}
		if task.Cancelled() {
			result.Items = append(result.Items, ItemResult{URL: url, Err: newError(KindCancelled, opRun, nil)})
			break
		}

		itemDir := filepath.Join(runDir, fmt.Sprintf("item_%d", i+1))
		item := p.processOne(ctx, sink, task, itemRequest{
			url:     url,
			tier:    tier,
			dir:     itemDir,
			cookies: cookies,
			channel: job.ChannelID,
			status:  status,
			prefix:  prefix,
		})
		os.RemoveAll(itemDir)
		result.Items = append(result.Items, item)

		if item.Err != nil {
			log.Warn().Err(item.Err).Str("url", url).Str("kind", string(KindOf(item.Err))).Msg("Item failed")
			p.reportFailure(job.UserID, url, item.Err)
		} else {
			log.Info().Str("url", url).Str("outcome", item.Outcome.String()).Msg("Item delivered")
		}
		if errors.Is(item.Err, KindCancelled) {
			break
		}
	}

	p.edit(ctx, sink, status, job.ChannelID, summarize(result, len(job.URLs)))

	if len(job.URLs) == 1 && len(result.Items) == 1 {
		return result, result.Items[0].Err
	}
	var errs []error
	for _, it := range result.Items {
		if it.Err != nil {
			errs = append(errs, it.Err)
		}
	}
	return result, errors.Join(errs...)
}

type itemRequest struct {
	url     string
	tier    Tier
	dir     string
	cookies string
	channel string
	status  chat.MessageRef
	prefix  string
}

func (p *Pipeline) processOne(ctx context.Context, sink chat.Sink, task *DownloadTask, req itemRequest) ItemResult {
	res := ItemResult{URL: req.url, Outcome: OutcomeFailed}
	edit := func(text string) { p.edit(ctx, sink, req.status, req.channel, req.prefix+text) }
	cancelled := func() bool {
		if task.Cancelled() {
			res.Err = newError(KindCancelled, opRun, nil)
			return true
		}
		return false
	}

	edit("🔍 Fetching video info...")
	info, err := p.resolver.Resolve(ctx, req.url, req.cookies)
	if err != nil {
		res.Err = err
		return res
	}
	res.Title = info.Title

	if info.IsLive {
		res.Err = newError(KindInvalidInput, opResolve, errors.New("live streams can't be downloaded"))
		return res
	}
	if p.cfg.MaxDuration > 0 && info.Duration > p.cfg.MaxDuration {
		res.Err = newError(KindTooLong, opResolve, fmt.Errorf("duration %s exceeds the %s limit",
			util.FormatDuration(info.Duration), util.FormatDuration(p.cfg.MaxDuration)))
		return res
	}
	if cancelled() {
		return res
	}

	edit("⬇️ Downloading: " + info.Title)
	media, err := p.downloader.Run(ctx, task, DownloadRequest{
		URL:         req.url,
		Info:        info,
		Tier:        req.tier,
		Dir:         req.dir,
		CookiesPath: req.cookies,
		OnProgress:  p.progressReporter(ctx, sink, req, info.Title),
	})
	if err != nil {
		res.Err = err
		return res
	}

	final := media.Video
	if media.Audio != "" {
		if cancelled() {
			return res
		}
		edit("🔧 Merging audio and video...")
		merged, err := p.assembler.Merge(ctx, media.Video, media.Audio, req.dir)
		if err != nil {
			res.Err = err
			return res
		}
		os.Remove(media.Video)
		os.Remove(media.Audio)
		final = merged
	}

	if cancelled() {
		return res
	}
	thumb := p.assembler.Thumbnail(ctx, final)

	if cancelled() {
		return res
	}
	edit("📤 Uploading...")
	dr := p.delivery.Deliver(ctx, sink, req.channel, final, thumb, info)
	res.Outcome = dr.Outcome
	res.Err = dr.Err
	return res
}

func (p *Pipeline) progressReporter(ctx context.Context, sink chat.Sink, req itemRequest, title string) func(Progress) {
	interval := p.cfg.ProgressInterval
	if interval <= 0 {
		interval = config.ProgressEditInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	return func(pr Progress) {
		if !limiter.Allow() {
			return
		}
		text := fmt.Sprintf("%s⬇️ Downloading: %s\n%s %d%%", req.prefix, title, util.ProgressBar(pr.Percent), int(pr.Percent))
		var details []string
		if pr.Speed != "" {
			details = append(details, pr.Speed)
		}
		if pr.ETA != "" && pr.ETA != "NA" {
			details = append(details, "~"+pr.ETA+" left")
		}
		if len(details) > 0 {
			text += " · " + strings.Join(details, " · ")
		}
		p.edit(ctx, sink, req.status, req.channel, text)
	}
}

// edit updates the status message, or sends a fresh one if there is none.
func (p *Pipeline) edit(ctx context.Context, sink chat.Sink, ref chat.MessageRef, channelID, text string) {
	if ref.IsZero() {
		if _, err := sink.SendText(ctx, channelID, text); err != nil {
			p.log.Debug().Err(err).Msg("Failed to send status")
		}
		return
	}
	if err := sink.EditText(ctx, ref, text); err != nil {
		p.log.Debug().Err(err).Msg("Failed to edit status")
	}
}

func (p *Pipeline) reportFailure(userID, url string, err error) {
	if p.alerts == nil {
		return
	}
	switch KindOf(err) {
	case KindCancelled, KindTooLong, KindInvalidInput, KindTooLarge:
		return
	}
	p.alerts.ReportFailure(userID, url, err)
}

func summarize(r *RunResult, total int) string {
	if total == 1 && len(r.Items) == 1 {
		it := r.Items[0]
		if it.Err != nil {
			return Describe(it.Err)
		}
		if it.Outcome == OutcomeDocument {
			return "✅ Sent successfully (as a file)."
		}
		return "✅ Sent successfully!"
	}

	sent := r.Sent()
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Batch finished: %d/%d sent", sent, total)
	cancelled := false
	for _, it := range r.Items {
		if it.Err == nil {
			continue
		}
		if errors.Is(it.Err, KindCancelled) {
			cancelled = true
			continue
		}
		name := it.Title
		if name == "" {
			name = it.URL
		}
		fmt.Fprintf(&b, "\n• %s: %s", name, firstLine(Describe(it.Err)))
	}
	if cancelled {
		b.WriteString("\n🛑 Cancelled before finishing.")
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
