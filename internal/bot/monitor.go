package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/alerts"
	"github.com/coah80/yoinktube/internal/cookies"
)

const cookieCheckInterval = 5 * time.Minute

// cookieMonitor rereads the cookie file periodically and tells the admins
// when it stops or starts being usable.
type cookieMonitor struct {
	session  *discordgo.Session
	store    *cookies.Store
	alerts   *alerts.Notifier
	admins   []string
	interval time.Duration
	lastOK   *bool
	log      zerolog.Logger
}

func newCookieMonitor(s *discordgo.Session, store *cookies.Store, notifier *alerts.Notifier, admins []string, log zerolog.Logger) *cookieMonitor {
	return &cookieMonitor{
		session:  s,
		store:    store,
		alerts:   notifier,
		admins:   admins,
		interval: cookieCheckInterval,
		log:      log.With().Str("component", "cookie-monitor").Logger(),
	}
}

func (m *cookieMonitor) start(ctx context.Context) {
	go func() {
		m.tick()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
	m.log.Info().Dur("interval", m.interval).Msg("Cookie monitor started")
}

// tick reports whether the usable state changed since the last check.
func (m *cookieMonitor) tick() bool {
	meta := m.store.Inspect()
	ok := meta.Usable()

	if m.lastOK == nil {
		m.lastOK = &ok
		m.log.Info().Bool("usable", ok).Msg("Initial cookie state")
		if !ok {
			m.alerts.CookieIssue("Bot started without a usable cookie file. Age-restricted videos will fail.")
		}
		return false
	}

	was := *m.lastOK
	if ok == was {
		return false
	}
	m.lastOK = &ok
	m.log.Warn().Bool("was", was).Bool("usable", ok).Msg("Cookie state changed")
	if !ok {
		m.alerts.CookieIssue("The cookie file is missing or no longer has YouTube cookies.")
	}
	m.broadcast(m.statusEmbed(ok, meta))
	return true
}

// broadcast sends embed to every admin by direct message.
func (m *cookieMonitor) broadcast(embed *discordgo.MessageEmbed) {
	if m.session == nil {
		return
	}
	for _, id := range m.admins {
		ch, err := m.session.UserChannelCreate(id)
		if err != nil {
			m.log.Warn().Err(err).Str("admin", id).Msg("Failed to open DM")
			continue
		}
		if _, err := m.session.ChannelMessageSendEmbed(ch.ID, embed); err != nil {
			m.log.Warn().Err(err).Str("admin", id).Msg("Failed to send cookie status")
		}
	}
}

func (m *cookieMonitor) statusEmbed(ok bool, meta *cookies.Metadata) *discordgo.MessageEmbed {
	if ok {
		return &discordgo.MessageEmbed{
			Title:       "Cookies are usable again",
			Description: fmt.Sprintf("%d YouTube cookies loaded.", meta.ProviderCookies),
			Color:       colorSuccess,
			Timestamp:   time.Now().Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
		}
	}
	return &discordgo.MessageEmbed{
		Title:       "Cookies unavailable",
		Description: "The cookie file is missing or has no YouTube cookies.\nUse /cookies_upload or /cookies_restore.",
		Color:       colorError,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
}
