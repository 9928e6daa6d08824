// Package alerts posts operator notifications to a Discord webhook.
package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	colorOrange = 0xFFA500
	colorRed    = 0xFF4444
	colorGreen  = 0x2ECC71
)

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
	Footer      *footer `json:"footer,omitempty"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type footer struct {
	Text string `json:"text"`
}

type payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds"`
}

// Notifier sends alerts with a per-category cooldown. A Notifier without a
// webhook URL, or a nil *Notifier, drops everything.
type Notifier struct {
	webhookURL string
	pingUserID string
	version    string
	client     *http.Client

	mu        sync.Mutex
	cooldowns map[string]time.Time
	now       func() time.Time
	wg        sync.WaitGroup
	log       zerolog.Logger
}

func New(webhookURL, pingUserID, version string, log zerolog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		pingUserID: pingUserID,
		version:    version,
		client:     &http.Client{Timeout: 10 * time.Second},
		cooldowns:  make(map[string]time.Time),
		now:        time.Now,
		log:        log.With().Str("component", "alerts").Logger(),
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.webhookURL != ""
}

func (n *Notifier) send(category string, cooldown time.Duration, ping bool, color int, title, description string, fields ...field) {
	if !n.Enabled() {
		return
	}

	n.mu.Lock()
	now := n.now()
	if cooldown > 0 {
		if last, ok := n.cooldowns[category]; ok && now.Sub(last) < cooldown {
			n.mu.Unlock()
			return
		}
	}
	n.cooldowns[category] = now
	n.mu.Unlock()

	var kept []field
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		f.Value = truncate(f.Value, 1024)
		kept = append(kept, f)
	}

	p := payload{
		Embeds: []embed{{
			Title:       title,
			Description: truncate(description, 2048),
			Color:       color,
			Fields:      kept,
			Timestamp:   now.UTC().Format(time.RFC3339),
			Footer:      &footer{Text: "yoink-tube " + n.version},
		}},
	}
	if ping && n.pingUserID != "" {
		p.Content = fmt.Sprintf("<@%s>", n.pingUserID)
	}

	body, err := json.Marshal(p)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to encode alert")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			n.log.Warn().Err(err).Str("category", category).Msg("Alert send failed")
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			n.log.Warn().Int("status", resp.StatusCode).Str("category", category).Msg("Alert rejected by webhook")
		}
	}()
}

// Wait blocks until alerts already handed to the webhook have been sent.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) BotStarted(username string) {
	n.send("bot-start", 0, false, colorGreen, "Bot Started", fmt.Sprintf("yoink-tube %s connected as %s", n.version, username))
}

func (n *Notifier) BotStopping() {
	n.send("bot-stop", 0, false, colorOrange, "Bot Stopping", "yoink-tube is shutting down")
}

// ReportFailure alerts on a run that ended in a terminal failure.
func (n *Notifier) ReportFailure(userID, url string, err error) {
	n.send("download", 5*time.Second, true, colorRed, "Download Failed", err.Error(),
		field{Name: "User", Value: userID, Inline: true},
		field{Name: "URL", Value: truncate(url, 200), Inline: true},
		field{Name: "Error", Value: truncate(err.Error(), 500)},
	)
}

func (n *Notifier) CookieIssue(details string) {
	n.send("cookie", 60*time.Second, true, colorOrange, "Cookie Issue", details)
}

// CookiesChanged records an admin replacing, restoring or deleting the
// cookie file.
func (n *Notifier) CookiesChanged(adminID, action string) {
	n.send("cookie-change", 0, false, colorGreen, "Cookies "+action, "An admin changed the active cookie file.",
		field{Name: "Admin", Value: adminID, Inline: true},
	)
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
