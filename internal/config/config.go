package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

var Version = "dev"

const configFileEnv = "BOT_CONFIG_FILE"

const (
	CookieMinSize        = 100
	CookieMaxSize        = 1024 * 1024
	BatchFileMaxSize     = 64 * 1024
	MaxURLLength         = 2048
	MinMediaFileSize     = 10 * 1024
	CancelPollInterval   = time.Second
	RateLimitMargin      = 2 * time.Second
	ProgressEditInterval = 3 * time.Second
	MaxListedBackups     = 10
	ThumbnailMaxOffset   = 10 * time.Second
)

// QualityHeight maps the resolution tiers offered to users onto a maximum
// frame height. "best" has no cap.
var QualityHeight = map[string]int{
	"2160p": 2160,
	"1440p": 1440,
	"1080p": 1080,
	"720p":  720,
	"480p":  480,
	"360p":  360,
	"best":  0,
}

// ResolutionChoices is the order tiers are presented in.
var ResolutionChoices = []string{"360p", "480p", "720p", "1080p", "best"}

// ProviderDomains are the cookie-domain tokens that make a cookie file useful.
var ProviderDomains = []string{".youtube.com", "youtube.com"}

type Config struct {
	DiscordToken string `envconfig:"DISCORD_TOKEN"  yaml:"discordToken"`
	DiscordAppID string `envconfig:"DISCORD_APP_ID" yaml:"discordAppID"`

	CookiesPath      string `envconfig:"YOUTUBE_COOKIES_PATH" yaml:"cookiesPath"`
	CookiesBackupDir string `envconfig:"COOKIES_BACKUP_DIR"   yaml:"cookiesBackupDir"`

	MaxDuration   int           `envconfig:"MAX_DURATION"             yaml:"maxDuration"`
	MaxFileSize   int64         `envconfig:"MAX_FILE_SIZE"            yaml:"maxFileSize"`
	AllowedUsers  []string      `envconfig:"ALLOWED_USERS"            yaml:"allowedUsers"`
	AdminUsers    []string      `envconfig:"ADMIN_USERS"              yaml:"adminUsers"`
	MaxConcurrent int           `envconfig:"MAX_CONCURRENT_DOWNLOADS" yaml:"maxConcurrentDownloads"`
	MaxBatchURLs  int           `envconfig:"MAX_BATCH_URLS"           yaml:"maxBatchURLs"`
	TempDir       string        `envconfig:"TEMP_DIR"                 yaml:"tempDir"`
	RunRetention  time.Duration `envconfig:"RUN_RETENTION"            yaml:"runRetention"`

	SocketTimeout   time.Duration `envconfig:"SOCKET_TIMEOUT"   yaml:"socketTimeout"`
	MetadataRetries int           `envconfig:"METADATA_RETRIES" yaml:"metadataRetries"`
	DownloadRetries int           `envconfig:"DOWNLOAD_RETRIES" yaml:"downloadRetries"`
	RetryBaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" yaml:"retryBaseDelay"`
	ProxyURL        string        `envconfig:"PROXY_URL"        yaml:"proxyURL"`

	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" yaml:"sessionIdleTimeout"`

	StatusAddr        string        `envconfig:"STATUS_ADDR"         yaml:"statusAddr"`
	StatusCORSOrigins []string      `envconfig:"STATUS_CORS_ORIGINS" yaml:"statusCORSOrigins"`
	StatusRateLimit   int           `envconfig:"STATUS_RATE_LIMIT"   yaml:"statusRateLimit"`
	StatusRateWindow  time.Duration `envconfig:"STATUS_RATE_WINDOW"  yaml:"statusRateWindow"`

	AlertWebhookURL string `envconfig:"ALERT_WEBHOOK_URL"  yaml:"alertWebhookURL"`
	AlertPingUserID string `envconfig:"ALERT_PING_USER_ID" yaml:"alertPingUserID"`

	LogLevel  string `envconfig:"LOG_LEVEL"  yaml:"logLevel"`
	LogFormat string `envconfig:"LOG_FORMAT" yaml:"logFormat"`

	YtdlpPath   string `envconfig:"YTDLP_PATH"   yaml:"ytdlpPath"`
	FFmpegPath  string `envconfig:"FFMPEG_PATH"  yaml:"ffmpegPath"`
	FFprobePath string `envconfig:"FFPROBE_PATH" yaml:"ffprobePath"`
}

// Default returns the configuration used when neither the config file nor
// the environment set a value.
func Default() Config {
	return Config{
		CookiesPath:        "/tmp/cookies.txt",
		CookiesBackupDir:   "/tmp/cookies_backup",
		MaxDuration:        1800,
		MaxFileSize:        25 * 1024 * 1024,
		MaxConcurrent:      1,
		MaxBatchURLs:       20,
		TempDir:            "/tmp/ytdl",
		RunRetention:       time.Hour,
		SocketTimeout:      30 * time.Second,
		MetadataRetries:    3,
		DownloadRetries:    3,
		RetryBaseDelay:     time.Second,
		SessionIdleTimeout: 10 * time.Minute,
		StatusAddr:         ":8080",
		StatusRateLimit:    60,
		StatusRateWindow:   time.Minute,
		LogLevel:           "info",
		LogFormat:          "console",
		YtdlpPath:          "yt-dlp",
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
	}
}

// Load layers defaults, the optional YAML file named by BOT_CONFIG_FILE and
// the environment, in that order.
func Load() (*Config, error) {
	c := Default()

	if configFile := os.Getenv(configFileEnv); configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	c.AllowedUsers = cleanIDs(c.AllowedUsers)
	c.AdminUsers = cleanIDs(c.AdminUsers)
	return &c, nil
}

// Validate checks the settings the bot cannot run without. The offline CLI
// commands skip it.
func (c *Config) Validate() error {
	required := []struct{ val, yaml, env string }{
		{c.DiscordToken, "discordToken", "DISCORD_TOKEN"},
		{c.DiscordAppID, "discordAppID", "DISCORD_APP_ID"},
		{c.CookiesPath, "cookiesPath", "YOUTUBE_COOKIES_PATH"},
		{c.CookiesBackupDir, "cookiesBackupDir", "COOKIES_BACKUP_DIR"},
		{c.TempDir, "tempDir", "TEMP_DIR"},
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("missing required configuration: %s / %s", r.yaml, r.env)
		}
	}

	if c.MaxDuration <= 0 {
		return fmt.Errorf("MAX_DURATION must be positive, got %d", c.MaxDuration)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.MetadataRetries < 1 || c.DownloadRetries < 1 {
		return fmt.Errorf("retry counts must be at least 1")
	}
	return nil
}

// Admins returns the admin list, falling back to the allow-list when no
// admins are configured.
func (c *Config) Admins() []string {
	if len(c.AdminUsers) > 0 {
		return c.AdminUsers
	}
	return c.AllowedUsers
}

func (c *Config) IsAllowed(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return Contains(c.AllowedUsers, userID) || Contains(c.AdminUsers, userID)
}

func (c *Config) IsAdmin(userID string) bool {
	return Contains(c.Admins(), userID)
}

func cleanIDs(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func Contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
