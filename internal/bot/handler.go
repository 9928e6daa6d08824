package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/alerts"
	"github.com/coah80/yoinktube/internal/chat"
	"github.com/coah80/yoinktube/internal/config"
	"github.com/coah80/yoinktube/internal/cookies"
	"github.com/coah80/yoinktube/internal/routes"
	"github.com/coah80/yoinktube/internal/services"
	"github.com/coah80/yoinktube/internal/util"
)

const (
	msgUnauthorized = "⛔ You are not authorized to use this bot."
	msgAdminOnly    = "⛔ Admin access required for this command."

	callbackResolution = "res:"
	callbackCancel     = "cancel"
)

// Runner executes an accepted download job.
type Runner interface {
	Run(ctx context.Context, sink chat.Sink, job services.Job) (*services.RunResult, error)
}

// CookieTester probes the provider with a cookie file.
type CookieTester interface {
	TestCookies(ctx context.Context, cookiesPath string) (*services.VideoInfo, error)
}

type Deps struct {
	Registry *services.Registry
	Runner   Runner
	Cookies  *cookies.Store
	Tester   CookieTester
	Alerts   *alerts.Notifier
}

// Handler turns chat events into session transitions, admin operations and
// pipeline runs. It knows nothing about the transport.
type Handler struct {
	cfg      *config.Config
	registry *services.Registry
	runner   Runner
	cookies  *cookies.Store
	tester   CookieTester
	alerts   *alerts.Notifier
	status   routes.StatusDeps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func NewHandler(cfg *config.Config, deps Deps, log zerolog.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		cfg:      cfg,
		registry: deps.Registry,
		runner:   deps.Runner,
		cookies:  deps.Cookies,
		tester:   deps.Tester,
		alerts:   deps.Alerts,
		status: routes.StatusDeps{
			Sessions:  deps.Registry,
			Cookies:   deps.Cookies,
			Version:   config.Version,
			TempDir:   cfg.TempDir,
			StartedAt: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "handler").Logger(),
	}
}

// Expecting reports whether a plain message from userID may be an answer
// the handler is waiting for. Transports use it to ignore guild chatter.
func (h *Handler) Expecting(userID string) bool {
	if _, ok := h.registry.Session(userID); ok {
		return true
	}
	_, ok := h.registry.AdminFlow(userID)
	return ok
}

// Shutdown cancels every running pipeline. Wait blocks until they return.
func (h *Handler) Shutdown() { h.cancel() }

func (h *Handler) Wait() { h.wg.Wait() }

// Handle processes one inbound event. Errors are reported to the user and
// never returned to the transport loop.
func (h *Handler) Handle(ctx context.Context, sink chat.Sink, ev chat.Event) {
	log := h.log.With().Str("user", ev.UserID).Str("event", ev.Kind.String()).Logger()

	if !h.cfg.IsAllowed(ev.UserID) {
		log.Warn().Str("username", ev.Username).Msg("Unauthorized user")
		h.reply(ctx, sink, ev, msgUnauthorized)
		return
	}

	switch ev.Kind {
	case chat.EventCommand:
		log.Debug().Str("command", ev.Command).Msg("Command")
		h.handleCommand(ctx, sink, ev)
	case chat.EventText:
		h.handleText(ctx, sink, ev)
	case chat.EventFile:
		h.handleFile(ctx, sink, ev)
	case chat.EventCallback:
		log.Debug().Str("callback", ev.Callback).Msg("Callback")
		h.handleCallback(ctx, sink, ev)
	}
}

func (h *Handler) handleCommand(ctx context.Context, sink chat.Sink, ev chat.Event) {
	switch ev.Command {
	case "start", "help":
		h.reply(ctx, sink, ev, h.helpText(ev.UserID))
	case "yt":
		h.cmdYt(ctx, sink, ev)
	case "batch":
		h.cmdBatch(ctx, sink, ev)
	case "cancel":
		h.cmdCancel(ctx, sink, ev)
	case "stop":
		h.cmdStop(ctx, sink, ev)
	case "status":
		h.reply(ctx, sink, ev, h.statusText(ev.UserID))
	case "cookies":
		h.cmdCookies(ctx, sink, ev)
	case "cookies_info", "cookies_upload", "cookies_backup", "cookies_restore",
		"cookies_test", "cookies_delete", "cookies_prune":
		if !h.cfg.IsAdmin(ev.UserID) {
			h.reply(ctx, sink, ev, msgAdminOnly)
			return
		}
		h.handleCookieCommand(ctx, sink, ev)
	default:
		h.reply(ctx, sink, ev, "❓ Unknown command. Use /help to see what I can do.")
	}
}

func (h *Handler) cmdYt(ctx context.Context, sink chat.Sink, ev chat.Event) {
	if h.registry.ActiveTasks(ev.UserID) >= h.cfg.MaxConcurrent {
		h.reply(ctx, sink, ev, "⏳ You have too many active downloads. Please wait for them to complete.")
		return
	}
	s, err := h.registry.Begin(ev.UserID, ev.ChannelID, services.PhaseAwaitingURL)
	if err != nil {
		h.reply(ctx, sink, ev, "⏳ Please finish your current download first, or use /cancel.")
		return
	}

	url := strings.TrimSpace(ev.Arg(0))
	if url == "" {
		h.reply(ctx, sink, ev, "🎬 Send me a YouTube link.\n\nSupported: youtube.com/watch, youtu.be, shorts, playlists (first video).\nUse /cancel to abort.")
		return
	}
	if err := util.ValidateURL(url); err != nil {
		h.registry.End(ev.UserID, s.ID)
		h.reply(ctx, sink, ev, "❌ Invalid YouTube URL. Please send a valid YouTube link.")
		return
	}
	h.acceptURL(ctx, sink, ev, url, ev.Arg(1))
}

// acceptURL stores url on the session and either asks for a resolution or,
// when one was given up front, starts the run.
func (h *Handler) acceptURL(ctx context.Context, sink chat.Sink, ev chat.Event, url, resolution string) {
	url = util.NormalizeURL(url)
	_, err := h.registry.Advance(ev.UserID, services.PhaseAwaitingURL, func(s *services.Session) {
		s.URL = url
		s.Phase = services.PhaseAwaitingResolution
	})
	if err != nil {
		h.correct(ctx, sink, ev)
		return
	}

	if tier, ok := parseResolution(resolution); ok {
		h.startDownload(ctx, sink, ev, services.PhaseAwaitingResolution, tier)
		return
	}
	h.askResolution(ctx, sink, ev, "✅ Got it. Choose a resolution:")
}

func (h *Handler) cmdBatch(ctx context.Context, sink chat.Sink, ev chat.Event) {
	if h.registry.ActiveTasks(ev.UserID) >= h.cfg.MaxConcurrent {
		h.reply(ctx, sink, ev, "⏳ You have too many active downloads. Please wait for them to complete.")
		return
	}
	if _, err := h.registry.Begin(ev.UserID, ev.ChannelID, services.PhaseAwaitingBatchFile); err != nil {
		h.reply(ctx, sink, ev, "⏳ Please finish your current download first, or use /cancel.")
		return
	}
	if ev.File != nil {
		h.acceptBatchFile(ctx, sink, ev)
		return
	}
	h.reply(ctx, sink, ev, fmt.Sprintf("📄 Upload a .txt file with one YouTube link per line (up to %d).\nUse /cancel to abort.", h.cfg.MaxBatchURLs))
}

func (h *Handler) acceptBatchFile(ctx context.Context, sink chat.Sink, ev chat.Event) {
	if !strings.HasSuffix(strings.ToLower(ev.File.Name), ".txt") {
		h.reply(ctx, sink, ev, "❌ The batch list must be a .txt file.")
		return
	}
	data, err := readAttachment(ctx, ev.File, config.BatchFileMaxSize)
	if err != nil {
		h.log.Warn().Err(err).Str("user", ev.UserID).Msg("Failed to read batch file")
		h.reply(ctx, sink, ev, "❌ Could not read the file: "+err.Error())
		return
	}

	urls, rejected := util.ExtractURLs(string(data), h.cfg.MaxBatchURLs)
	if len(urls) == 0 {
		h.reply(ctx, sink, ev, "❌ No valid YouTube links found in the file. Send another file or use /cancel.")
		return
	}
	_, err = h.registry.Advance(ev.UserID, services.PhaseAwaitingBatchFile, func(s *services.Session) {
		s.BatchURLs = urls
		s.Phase = services.PhaseAwaitingBatchResolution
	})
	if err != nil {
		h.correct(ctx, sink, ev)
		return
	}

	text := fmt.Sprintf("📋 Found %d link(s)", len(urls))
	if rejected > 0 {
		text += fmt.Sprintf(", skipped %d", rejected)
	}
	h.askResolution(ctx, sink, ev, text+". Choose a resolution for all of them:")
}

func (h *Handler) askResolution(ctx context.Context, sink chat.Sink, ev chat.Event, text string) {
	choices := make([]chat.Choice, 0, len(config.ResolutionChoices)+1)
	for _, r := range config.ResolutionChoices {
		choices = append(choices, chat.Choice{Label: r, ID: callbackResolution + r, Style: chat.ChoicePrimary})
	}
	choices = append(choices, chat.Choice{Label: "Cancel", ID: callbackCancel, Style: chat.ChoiceDanger})

	if _, err := sink.SendChoices(ctx, ev.ChannelID, text, choices); err != nil {
		h.log.Error().Err(err).Str("user", ev.UserID).Msg("Failed to send resolution choices")
	}
}

// startDownload moves the session out of from and hands the job to the
// runner on its own goroutine.
func (h *Handler) startDownload(ctx context.Context, sink chat.Sink, ev chat.Event, from services.Phase, tier services.Tier) {
	s, err := h.registry.Advance(ev.UserID, from, func(s *services.Session) {
		s.Resolution = tier.String()
		s.Phase = services.PhaseDownloading
	})
	if err != nil {
		h.correct(ctx, sink, ev)
		return
	}

	urls := s.BatchURLs
	if len(urls) == 0 {
		urls = []string{s.URL}
	}
	status := h.reply(ctx, sink, ev, fmt.Sprintf("⏳ Starting download at %s...", tier))

	job := services.Job{
		UserID:     ev.UserID,
		ChannelID:  s.ChannelID,
		SessionID:  s.ID,
		URLs:       urls,
		Resolution: tier.String(),
		Status:     status,
	}
	if job.ChannelID == "" {
		job.ChannelID = ev.ChannelID
	}

	h.log.Info().Str("user", ev.UserID).Int("urls", len(urls)).Str("tier", tier.String()).Msg("Dispatching download")
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res, err := h.runner.Run(h.ctx, sink, job)
		if err != nil {
			h.log.Info().Err(err).Str("user", job.UserID).Str("kind", string(services.KindOf(err))).Msg("Run ended with error")
			return
		}
		if res != nil {
			h.log.Info().Str("user", job.UserID).Int("sent", res.Sent()).Msg("Run finished")
		}
	}()
}

func (h *Handler) cmdCancel(ctx context.Context, sink chat.Sink, ev chat.Event) {
	res := h.registry.Cancel(ev.UserID)
	switch {
	case res.Tasks > 0:
		h.reply(ctx, sink, ev, "🛑 Cancelling your download...")
	case res.AdminFlow && !res.Session:
		h.reply(ctx, sink, ev, "❌ Cookies operation cancelled.")
	case res.Any():
		h.reply(ctx, sink, ev, "❌ Operation cancelled.")
	default:
		h.reply(ctx, sink, ev, "ℹ️ Nothing to cancel.")
	}
}

func (h *Handler) cmdStop(ctx context.Context, sink chat.Sink, ev chat.Event) {
	if n := h.registry.Stop(ev.UserID); n > 0 {
		h.reply(ctx, sink, ev, fmt.Sprintf("🛑 Stopping %d download(s)...", n))
		return
	}
	h.reply(ctx, sink, ev, "ℹ️ You have no downloads running.")
}

func (h *Handler) handleText(ctx context.Context, sink chat.Sink, ev chat.Event) {
	text := strings.TrimSpace(ev.Text)

	if flow, ok := h.registry.AdminFlow(ev.UserID); ok {
		switch flow.Kind {
		case services.AdminAwaitingCookieFile:
			h.reply(ctx, sink, ev, "❌ Please send a file, not text. Use /cancel to abort.")
		case services.AdminAwaitingBackupChoice:
			h.restoreChoice(ctx, sink, ev, flow, text)
		}
		return
	}

	s, ok := h.registry.Session(ev.UserID)
	if !ok {
		h.reply(ctx, sink, ev, "💡 Use /yt to download a video or /help for all commands.")
		return
	}

	switch s.Phase {
	case services.PhaseAwaitingURL:
		if err := util.ValidateURL(text); err != nil {
			h.reply(ctx, sink, ev, "❌ Invalid YouTube URL. Please send a valid YouTube link.")
			return
		}
		h.acceptURL(ctx, sink, ev, text, "")
	case services.PhaseAwaitingResolution, services.PhaseAwaitingBatchResolution:
		tier, ok := parseResolution(text)
		if !ok {
			h.reply(ctx, sink, ev, "❌ Please choose one of: "+strings.Join(config.ResolutionChoices, ", ")+".")
			return
		}
		h.startDownload(ctx, sink, ev, s.Phase, tier)
	default:
		h.correct(ctx, sink, ev)
	}
}

func (h *Handler) handleFile(ctx context.Context, sink chat.Sink, ev chat.Event) {
	if flow, ok := h.registry.AdminFlow(ev.UserID); ok && flow.Kind == services.AdminAwaitingCookieFile {
		h.acceptCookieFile(ctx, sink, ev)
		return
	}
	if s, ok := h.registry.Session(ev.UserID); ok && s.Phase == services.PhaseAwaitingBatchFile {
		h.acceptBatchFile(ctx, sink, ev)
		return
	}
	h.correct(ctx, sink, ev)
}

func (h *Handler) handleCallback(ctx context.Context, sink chat.Sink, ev chat.Event) {
	switch {
	case strings.HasPrefix(ev.Callback, callbackResolution):
		tier, ok := parseResolution(strings.TrimPrefix(ev.Callback, callbackResolution))
		s, active := h.registry.Session(ev.UserID)
		if !ok || !active {
			h.reply(ctx, sink, ev, "⌛ This selection has expired. Use /yt to start again.")
			return
		}
		switch s.Phase {
		case services.PhaseAwaitingResolution, services.PhaseAwaitingBatchResolution:
			h.startDownload(ctx, sink, ev, s.Phase, tier)
		default:
			h.correct(ctx, sink, ev)
		}
	case ev.Callback == callbackCancel:
		h.cmdCancel(ctx, sink, ev)
	case strings.HasPrefix(ev.Callback, callbackCookiesDelete):
		if !h.cfg.IsAdmin(ev.UserID) {
			h.reply(ctx, sink, ev, msgAdminOnly)
			return
		}
		h.confirmDelete(ctx, sink, ev, strings.TrimPrefix(ev.Callback, callbackCookiesDelete))
	default:
		h.log.Debug().Str("callback", ev.Callback).Msg("Unknown callback")
	}
}

// correct tells the user what the current phase is waiting for.
func (h *Handler) correct(ctx context.Context, sink chat.Sink, ev chat.Event) {
	s, ok := h.registry.Session(ev.UserID)
	if !ok {
		h.reply(ctx, sink, ev, "💡 Nothing is waiting for input. Use /yt or /batch to start.")
		return
	}
	switch s.Phase {
	case services.PhaseAwaitingURL:
		h.reply(ctx, sink, ev, "🎬 I'm waiting for a YouTube link. Use /cancel to abort.")
	case services.PhaseAwaitingResolution, services.PhaseAwaitingBatchResolution:
		h.reply(ctx, sink, ev, "🎚️ I'm waiting for a resolution: "+strings.Join(config.ResolutionChoices, ", ")+". Use /cancel to abort.")
	case services.PhaseAwaitingBatchFile:
		h.reply(ctx, sink, ev, "📄 I'm waiting for a .txt file with YouTube links. Use /cancel to abort.")
	case services.PhaseDownloading:
		h.reply(ctx, sink, ev, "⏳ Your download is in progress. Use /cancel to abort it.")
	default:
		h.reply(ctx, sink, ev, "💡 Use /yt or /batch to start.")
	}
}

// reply answers ev. A pressed button's message is edited in place,
// everything else gets a new message.
func (h *Handler) reply(ctx context.Context, sink chat.Sink, ev chat.Event, text string) chat.MessageRef {
	if ev.Kind == chat.EventCallback && !ev.Reply.IsZero() {
		err := sink.EditText(ctx, ev.Reply, text)
		if err == nil {
			return ev.Reply
		}
		h.log.Debug().Err(err).Msg("Failed to edit callback message")
	}
	ref, err := sink.SendText(ctx, ev.ChannelID, text)
	if err != nil {
		h.log.Error().Err(err).Str("user", ev.UserID).Msg("Failed to send reply")
	}
	return ref
}

func (h *Handler) helpText(userID string) string {
	var b strings.Builder
	b.WriteString("🎬 **YouTube Downloader**\n\n")
	b.WriteString("/yt [url] [resolution] - download a video\n")
	fmt.Fprintf(&b, "/batch - download up to %d links from a .txt file\n", h.cfg.MaxBatchURLs)
	b.WriteString("/cancel - abort the current operation\n")
	b.WriteString("/stop - stop running downloads\n")
	b.WriteString("/status - bot status\n")
	b.WriteString("/cookies - cookie status\n")
	if h.cfg.IsAdmin(userID) {
		b.WriteString("\n🔐 **Admin**\n")
		b.WriteString("/cookies_info - cookie file details\n")
		b.WriteString("/cookies_upload - replace the cookie file\n")
		b.WriteString("/cookies_backup - back up the cookie file\n")
		b.WriteString("/cookies_restore - restore a backup\n")
		b.WriteString("/cookies_test - test cookies against YouTube\n")
		b.WriteString("/cookies_delete - delete the cookie file\n")
		b.WriteString("/cookies_prune [keep] - remove old backups\n")
	}
	fmt.Fprintf(&b, "\nMax duration: %s · Max upload: %s",
		util.FormatDuration(h.cfg.MaxDuration), util.FormatSize(h.cfg.MaxFileSize))
	return b.String()
}

func (h *Handler) statusText(userID string) string {
	snap := routes.Snapshot(h.status)

	var b strings.Builder
	b.WriteString("📊 **Bot Status**\n\n")
	fmt.Fprintf(&b, "• Active downloads: %d\n", snap.ActiveDownloads)
	fmt.Fprintf(&b, "• Sessions: %d\n", snap.Sessions)
	if snap.Cookies {
		fmt.Fprintf(&b, "• Cookies: ✅ loaded (%d YouTube cookies)\n", h.cookies.Metadata().ProviderCookies)
	} else {
		b.WriteString("• Cookies: ❌ not loaded\n")
	}
	fmt.Fprintf(&b, "• Temp dir: %s\n", h.cfg.TempDir)
	if snap.DiskFreeGB > 0 {
		fmt.Fprintf(&b, "• Disk free: %.2f GB\n", snap.DiskFreeGB)
	}
	fmt.Fprintf(&b, "• Uptime: %s\n", snap.Uptime)
	fmt.Fprintf(&b, "• Version: %s", snap.Version)
	if s, ok := h.registry.Session(userID); ok {
		fmt.Fprintf(&b, "\n\nYour session: %s", s.Phase)
	}
	return b.String()
}

func parseResolution(s string) (services.Tier, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return services.Tier{}, false
	}
	return services.ParseTier(s)
}

var errFileTooLarge = errors.New("file too large")

// readAttachment fetches a user upload, refusing anything over limit bytes.
func readAttachment(ctx context.Context, a *chat.Attachment, limit int64) ([]byte, error) {
	if a == nil || a.Open == nil {
		return nil, errors.New("no file attached")
	}
	if a.Size > limit {
		return nil, fmt.Errorf("%w: %s (max %s)", errFileTooLarge, util.FormatSize(a.Size), util.FormatSize(limit))
	}
	rc, err := a.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", filepath.Base(a.Name), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", filepath.Base(a.Name), err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: max %s", errFileTooLarge, util.FormatSize(limit))
	}
	return data, nil
}
