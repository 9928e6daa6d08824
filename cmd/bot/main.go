package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coah80/yoinktube/internal/alerts"
	"github.com/coah80/yoinktube/internal/bot"
	"github.com/coah80/yoinktube/internal/config"
	"github.com/coah80/yoinktube/internal/cookies"
	"github.com/coah80/yoinktube/internal/logger"
	"github.com/coah80/yoinktube/internal/routes"
	"github.com/coah80/yoinktube/internal/server"
	"github.com/coah80/yoinktube/internal/services"
	"github.com/coah80/yoinktube/internal/util"
)

const (
	sessionSweepInterval = time.Minute
	runSweepInterval     = 10 * time.Minute
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "yoink-tube",
		Short:        "Discord bot that downloads YouTube videos",
		Version:      config.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			godotenv.Load()
			if configFile != "" {
				return os.Setenv("BOT_CONFIG_FILE", configFile)
			}
			return nil
		},
		RunE: runBot,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides BOT_CONFIG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve requests (default)",
		RunE:  runBot,
	})
	root.AddCommand(depsCmd())
	root.AddCommand(cookiesCmd())
	return root
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.LogLevel, cfg.LogFormat), nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps := util.CheckDependencies(cfg.YtdlpPath, cfg.FFmpegPath, cfg.FFprobePath)
	for _, d := range deps {
		log.Info().Str("binary", d.Name).Str("path", d.Path).Bool("found", d.Found).Msg("Dependency")
	}
	if missing := util.MissingRequired(deps); len(missing) > 0 {
		return fmt.Errorf("missing required binaries: %s", strings.Join(missing, ", "))
	}

	proxies, err := util.ParseProxies(cfg.ProxyURL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	if n := util.SweepStaleRuns(cfg.TempDir, 0, log); n > 0 {
		log.Info().Int("removed", n).Msg("Removed leftover run directories")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := cookies.NewStore(cfg.CookiesPath, cfg.CookiesBackupDir, log)
	if meta := store.Inspect(); meta == nil || !meta.Usable() {
		log.Warn().Str("path", cfg.CookiesPath).Msg("No usable cookies, age-restricted videos will fail")
	}

	notifier := alerts.New(cfg.AlertWebhookURL, cfg.AlertPingUserID, config.Version, log)

	registry := services.NewRegistry(cfg.MaxConcurrent, cfg.SessionIdleTimeout, log)
	registry.StartSweeper(ctx, sessionSweepInterval)
	util.StartRunSweeper(ctx, cfg.TempDir, runSweepInterval, cfg.RunRetention, log)

	ytdlp := services.NewYtdlp(cfg.YtdlpPath, cfg.FFmpegPath, log)
	netOpts := services.NetworkOptions{Proxies: proxies, SocketTimeout: cfg.SocketTimeout}
	resolver := services.NewResolver(ytdlp,
		services.RetryPolicy{Attempts: cfg.MetadataRetries, BaseDelay: cfg.RetryBaseDelay}, netOpts, log)
	downloader := services.NewDownloader(ytdlp,
		services.RetryPolicy{Attempts: cfg.DownloadRetries, BaseDelay: cfg.RetryBaseDelay}, netOpts, log)

	pipeline := services.NewPipeline(services.PipelineConfigFrom(cfg), services.PipelineDeps{
		Registry:   registry,
		Cookies:    store,
		Resolver:   resolver,
		Downloader: downloader,
		Assembler:  services.NewAssembler(services.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath), log),
		Delivery:   services.NewDelivery(cfg.MaxFileSize, log),
		Alerts:     notifier,
	}, log)

	handler := bot.NewHandler(cfg, bot.Deps{
		Registry: registry,
		Runner:   pipeline,
		Cookies:  store,
		Tester:   resolver,
		Alerts:   notifier,
	}, log)

	b, err := bot.New(bot.Config{
		Token:  cfg.DiscordToken,
		AppID:  cfg.DiscordAppID,
		Admins: cfg.Admins(),
	}, handler, store, notifier, log)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}
	if err := b.Start(); err != nil {
		return fmt.Errorf("starting bot: %w", err)
	}

	srvErr := make(chan error, 1)
	if cfg.StatusAddr != "" {
		srv := server.New(server.Options{
			Addr:        cfg.StatusAddr,
			CORSOrigins: cfg.StatusCORSOrigins,
			RateLimit:   cfg.StatusRateLimit,
			RateWindow:  cfg.StatusRateWindow,
		}, routes.StatusDeps{
			Sessions:  registry,
			Cookies:   store,
			Version:   config.Version,
			TempDir:   cfg.TempDir,
			StartedAt: time.Now(),
		}, log)
		go func() { srvErr <- srv.Run(ctx) }()
	}

	log.Info().Str("version", config.Version).Msg("Bot is running")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("status server: %w", err)
		}
	}

	log.Info().Msg("Shutting down")
	stop()
	b.Stop()
	notifier.Wait()
	log.Info().Msg("Bot stopped")
	return runErr
}

func depsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check that yt-dlp, ffmpeg and ffprobe can be found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			deps := util.CheckDependencies(cfg.YtdlpPath, cfg.FFmpegPath, cfg.FFprobePath)
			out := cmd.OutOrStdout()
			for _, d := range deps {
				if d.Found {
					fmt.Fprintf(out, "✅ %s: %s\n", d.Name, d.Path)
				} else {
					fmt.Fprintf(out, "❌ %s: not found\n", d.Name)
				}
			}
			if missing := util.MissingRequired(deps); len(missing) > 0 {
				return fmt.Errorf("missing required binaries: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}
