package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coah80/yoinktube/internal/chat"
	"github.com/coah80/yoinktube/internal/config"
	"github.com/coah80/yoinktube/internal/cookies"
	"github.com/coah80/yoinktube/internal/services"
	"github.com/coah80/yoinktube/internal/util"
)

const (
	callbackCookiesDelete = "cookies_delete:"
	deleteConfirm         = "confirm"
	deleteAbort           = "abort"

	sampleLines       = 10
	listedNames       = 10
	defaultPruneKeep  = 5
	cookieTestTimeout = 60 * time.Second
	timeLayout        = "2006-01-02 15:04:05"
)

func (h *Handler) cmdCookies(ctx context.Context, sink chat.Sink, ev chat.Event) {
	m := h.cookies.Inspect()
	if !m.Usable() {
		h.reply(ctx, sink, ev, "🍪 **Cookies Status**\n\n"+
			"❌ **Status:** Not configured or invalid\n\n"+
			"Without cookies age-restricted videos fail and YouTube may ask for sign-in.\n"+
			"Contact an admin to upload cookies.")
		return
	}
	h.reply(ctx, sink, ev, fmt.Sprintf("🍪 **Cookies Status**\n\n"+
		"✅ **Status:** Active\n"+
		"📏 **Size:** %s\n"+
		"📅 **Last Modified:** %s\n"+
		"🔄 **Format:** %s\n"+
		"📊 **Lines:** %d\n"+
		"🌐 **Domains:** %d\n"+
		"🔑 **YouTube cookies:** %d",
		util.FormatSize(m.Size), m.ModTime.Format(timeLayout), m.Format, m.LineCount, m.DomainCount, m.ProviderCookies))
}

func (h *Handler) handleCookieCommand(ctx context.Context, sink chat.Sink, ev chat.Event) {
	h.log.Info().Str("admin", ev.UserID).Str("command", ev.Command).Msg("Admin command")
	switch ev.Command {
	case "cookies_info":
		h.cmdCookiesInfo(ctx, sink, ev)
	case "cookies_upload":
		h.cmdCookiesUpload(ctx, sink, ev)
	case "cookies_backup":
		h.cmdCookiesBackup(ctx, sink, ev)
	case "cookies_restore":
		h.cmdCookiesRestore(ctx, sink, ev)
	case "cookies_test":
		h.cmdCookiesTest(ctx, sink, ev)
	case "cookies_delete":
		h.cmdCookiesDelete(ctx, sink, ev)
	case "cookies_prune":
		h.cmdCookiesPrune(ctx, sink, ev)
	}
}

func (h *Handler) cmdCookiesInfo(ctx context.Context, sink chat.Sink, ev chat.Event) {
	m := h.cookies.Inspect()
	if m == nil {
		h.reply(ctx, sink, ev, "❌ No cookies file found.")
		return
	}

	var b strings.Builder
	b.WriteString("🍪 **Detailed Cookies Information**\n\n")
	fmt.Fprintf(&b, "**Path:** `%s`\n", m.Path)
	fmt.Fprintf(&b, "**Size:** %s\n", util.FormatSize(m.Size))
	fmt.Fprintf(&b, "**Modified:** %s\n", m.ModTime.Format(timeLayout))
	fmt.Fprintf(&b, "**Format:** %s\n", m.Format)
	fmt.Fprintf(&b, "**Total Lines:** %d\n", m.LineCount)
	fmt.Fprintf(&b, "**Unique Domains:** %d\n", m.DomainCount)
	fmt.Fprintf(&b, "**YouTube Cookies Found:** %d\n", m.ProviderCookies)

	if top := topDomains(m.DomainCookies, 5); len(top) > 0 {
		b.WriteString("\n**Top Domains:**\n")
		for _, d := range top {
			fmt.Fprintf(&b, "• %s (%d)\n", d, m.DomainCookies[d])
		}
	}

	if lines := h.cookies.Sample(sampleLines); len(lines) > 0 {
		b.WriteString("\n**Sample Lines:**\n")
		for i, line := range lines {
			fmt.Fprintf(&b, "%d. `%s`\n", i+1, clip(line, 60))
		}
	}

	if names := m.ProviderNames; len(names) > 0 {
		b.WriteString("\n**YouTube Cookie Names:**\n")
		for _, name := range names[:min(len(names), listedNames)] {
			fmt.Fprintf(&b, "• %s\n", name)
		}
		if len(names) > listedNames {
			fmt.Fprintf(&b, "• ... and %d more\n", len(names)-listedNames)
		}
	}

	h.reply(ctx, sink, ev, clip(b.String(), 1900))
}

func (h *Handler) cmdCookiesUpload(ctx context.Context, sink chat.Sink, ev chat.Event) {
	h.registry.SetAdminFlow(ev.UserID, services.AdminFlow{
		Kind:      services.AdminAwaitingCookieFile,
		ChannelID: ev.ChannelID,
	})
	if ev.File != nil {
		h.acceptCookieFile(ctx, sink, ev)
		return
	}
	h.reply(ctx, sink, ev, "📤 **Upload Cookies File**\n\n"+
		"Send me the `cookies.txt` file exported from a signed-in browser (Netscape format).\n\n"+
		"**Requirements:**\n"+
		fmt.Sprintf("• .txt file between %d bytes and %s\n", config.CookieMinSize, util.FormatSize(config.CookieMaxSize))+
		"• Must contain YouTube cookies\n\n"+
		"Send /cancel to abort the upload.")
}

// acceptCookieFile stages the uploaded file and swaps it in. The admin flow
// ends whatever the outcome.
func (h *Handler) acceptCookieFile(ctx context.Context, sink chat.Sink, ev chat.Event) {
	defer h.registry.ClearAdminFlow(ev.UserID)

	if !strings.HasSuffix(strings.ToLower(ev.File.Name), ".txt") {
		h.reply(ctx, sink, ev, "❌ File must be a .txt file, preferably named `cookies.txt`.")
		return
	}
	if ev.File.Size > config.CookieMaxSize {
		h.reply(ctx, sink, ev, fmt.Sprintf("❌ File too large. Maximum size is %s.", util.FormatSize(config.CookieMaxSize)))
		return
	}

	status := h.reply(ctx, sink, ev, "📥 Downloading cookies file...")
	edit := func(text string) {
		if err := sink.EditText(ctx, status, text); err != nil {
			h.log.Debug().Err(err).Msg("Failed to edit cookie status")
		}
	}

	data, err := readAttachment(ctx, ev.File, config.CookieMaxSize)
	if err != nil {
		h.log.Warn().Err(err).Str("admin", ev.UserID).Msg("Failed to fetch cookie upload")
		edit("❌ Error uploading cookies: " + err.Error())
		return
	}

	if err := os.MkdirAll(h.cfg.TempDir, 0o755); err != nil {
		edit("❌ Error uploading cookies: " + err.Error())
		return
	}
	staging := filepath.Join(h.cfg.TempDir, "cookies_upload_"+uuid.NewString()+".txt")
	defer os.Remove(staging)
	if err := os.WriteFile(staging, data, 0o600); err != nil {
		h.log.Error().Err(err).Msg("Failed to stage cookie upload")
		edit("❌ Error uploading cookies: " + err.Error())
		return
	}

	_, reason := h.cookies.Validate(staging)
	m, err := h.cookies.Replace(staging)
	if err != nil {
		var verr *cookies.ValidationError
		if errors.As(err, &verr) {
			h.log.Warn().Str("admin", ev.UserID).Str("reason", verr.Reason).Msg("Rejected cookie upload")
			edit("❌ Invalid cookies file:\n\n" + verr.Reason)
			return
		}
		h.log.Error().Err(err).Str("admin", ev.UserID).Msg("Failed to replace cookies")
		edit("❌ Error uploading cookies: " + err.Error())
		return
	}

	h.alerts.CookiesChanged(ev.UserID, "Replaced")
	edit(fmt.Sprintf("✅ **Cookies Updated Successfully!**\n\n%s\n\n%s", reason, describeMetadata(m)))
}

func (h *Handler) cmdCookiesBackup(ctx context.Context, sink chat.Sink, ev chat.Event) {
	if m := h.cookies.Inspect(); m == nil {
		h.reply(ctx, sink, ev, "❌ No cookies file to backup.")
		return
	}
	path := h.cookies.Backup()
	if path == "" {
		h.reply(ctx, sink, ev, "❌ Failed to create backup.")
		return
	}
	backups, _ := h.cookies.ListBackups()
	h.reply(ctx, sink, ev, fmt.Sprintf("✅ **Backup Created**\n\n**File:** `%s`\n**Total backups:** %d",
		filepath.Base(path), len(backups)))
}

func (h *Handler) cmdCookiesRestore(ctx context.Context, sink chat.Sink, ev chat.Event) {
	backups, err := h.cookies.ListBackups()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		h.reply(ctx, sink, ev, "❌ Could not read the backup directory.")
		return
	}
	if len(backups) == 0 {
		h.reply(ctx, sink, ev, "❌ No backup files found.")
		return
	}
	if len(backups) > config.MaxListedBackups {
		backups = backups[:config.MaxListedBackups]
	}

	names := make([]string, len(backups))
	var b strings.Builder
	b.WriteString("📂 **Available Backups**\n\n")
	for i, bk := range backups {
		names[i] = bk.Name
		fmt.Fprintf(&b, "%d. `%s` (%s, %s)\n", i+1, bk.Name, util.FormatSize(bk.Size), bk.ModTime.Format(timeLayout))
	}
	fmt.Fprintf(&b, "\nReply with a number (1-%d) to restore, or /cancel.", len(backups))

	h.registry.SetAdminFlow(ev.UserID, services.AdminFlow{
		Kind:      services.AdminAwaitingBackupChoice,
		ChannelID: ev.ChannelID,
		Backups:   names,
	})

	if n := ev.Arg(0); n != "" {
		flow, _ := h.registry.AdminFlow(ev.UserID)
		h.restoreChoice(ctx, sink, ev, flow, n)
		return
	}
	h.reply(ctx, sink, ev, b.String())
}

// restoreChoice handles the admin's answer to the numbered backup list. A
// bad answer keeps the flow open.
func (h *Handler) restoreChoice(ctx context.Context, sink chat.Sink, ev chat.Event, flow services.AdminFlow, text string) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		h.reply(ctx, sink, ev, fmt.Sprintf("❌ Please enter a number (1-%d) or /cancel", len(flow.Backups)))
		return
	}
	if n < 1 || n > len(flow.Backups) {
		h.reply(ctx, sink, ev, fmt.Sprintf("❌ Invalid selection. Please choose a number from 1-%d", len(flow.Backups)))
		return
	}
	h.registry.ClearAdminFlow(ev.UserID)

	name := flow.Backups[n-1]
	status := h.reply(ctx, sink, ev, fmt.Sprintf("🔄 Restoring from backup: `%s`...", name))
	m, err := h.cookies.Restore(name)
	if err != nil {
		h.log.Error().Err(err).Str("backup", name).Msg("Restore failed")
		msg := "❌ Error restoring backup: " + err.Error()
		if errors.Is(err, cookies.ErrBackupNotFound) {
			msg = "❌ That backup no longer exists. Use /cookies_restore to list them again."
		}
		sink.EditText(ctx, status, msg)
		return
	}

	h.alerts.CookiesChanged(ev.UserID, "Restored")
	sink.EditText(ctx, status, fmt.Sprintf("✅ **Cookies Restored Successfully!**\n\n**Restored from:** `%s`\n%s", name, describeMetadata(m)))
}

func (h *Handler) cmdCookiesTest(ctx context.Context, sink chat.Sink, ev chat.Event) {
	if !h.cookies.Available() {
		h.reply(ctx, sink, ev, "❌ No cookies file to test.")
		return
	}
	status := h.reply(ctx, sink, ev, "🔄 Testing cookies with YouTube...")

	if err := os.MkdirAll(h.cfg.TempDir, 0o755); err != nil {
		sink.EditText(ctx, status, "❌ Could not prepare the test: "+err.Error())
		return
	}
	dir, err := os.MkdirTemp(h.cfg.TempDir, "cookies_test_")
	if err != nil {
		sink.EditText(ctx, status, "❌ Could not prepare the test: "+err.Error())
		return
	}
	defer os.RemoveAll(dir)

	path, ok := h.cookies.Snapshot(dir)
	if !ok {
		sink.EditText(ctx, status, "❌ Could not read the cookies file.")
		return
	}

	tctx, cancel := context.WithTimeout(ctx, cookieTestTimeout)
	defer cancel()
	info, err := h.tester.TestCookies(tctx, path)
	if err != nil {
		h.log.Warn().Err(err).Msg("Cookie test failed")
		h.alerts.CookieIssue("Cookie test failed: " + err.Error())
		sink.EditText(ctx, status, "❌ **Cookies Test Failed**\n\n"+
			"**Error:** "+clip(services.Describe(err), 200)+"\n\n"+
			"The cookies may be expired, missing YouTube entries or blocked.\n"+
			"Try uploading a fresh cookies file.")
		return
	}

	h.log.Info().Str("title", info.Title).Msg("Cookie test passed")
	sink.EditText(ctx, status, fmt.Sprintf("✅ **Cookies Test Successful!**\n\n"+
		"• Connected to: %s\n"+
		"• File size: %s\n\n"+
		"Age-restricted videos should now work.",
		util.OrDefault(info.Title, "YouTube"), util.FormatSize(h.cookies.Metadata().Size)))
}

func (h *Handler) cmdCookiesDelete(ctx context.Context, sink chat.Sink, ev chat.Event) {
	m := h.cookies.Inspect()
	if m == nil {
		h.reply(ctx, sink, ev, "❌ No cookies file to delete.")
		return
	}
	text := fmt.Sprintf("⚠️ **Delete Cookies File?**\n\n"+
		"**Size:** %s\n**Last Modified:** %s\n\n"+
		"Age-restricted videos will stop working. A backup is made first.",
		util.FormatSize(m.Size), m.ModTime.Format(timeLayout))
	_, err := sink.SendChoices(ctx, ev.ChannelID, text, []chat.Choice{
		{Label: "Yes, delete cookies", ID: callbackCookiesDelete + deleteConfirm, Style: chat.ChoiceDanger},
		{Label: "No, keep cookies", ID: callbackCookiesDelete + deleteAbort, Style: chat.ChoiceSecondary},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to send delete confirmation")
	}
}

func (h *Handler) confirmDelete(ctx context.Context, sink chat.Sink, ev chat.Event, answer string) {
	if answer != deleteConfirm {
		h.reply(ctx, sink, ev, "✅ Cookies deletion cancelled.")
		return
	}
	err := h.cookies.Delete()
	switch {
	case errors.Is(err, cookies.ErrNoCookies):
		h.reply(ctx, sink, ev, "❌ Cookies file not found.")
	case err != nil:
		h.reply(ctx, sink, ev, "❌ Error deleting cookies: "+err.Error())
	default:
		h.alerts.CookiesChanged(ev.UserID, "Deleted")
		h.reply(ctx, sink, ev, "✅ **Cookies Deleted**\n\n"+
			"A backup was created before deletion.\n"+
			"Use /cookies_upload to add new cookies.")
	}
}

func (h *Handler) cmdCookiesPrune(ctx context.Context, sink chat.Sink, ev chat.Event) {
	keep := defaultPruneKeep
	if arg := ev.Arg(0); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			h.reply(ctx, sink, ev, "❌ Usage: /cookies_prune [keep], keep must be 0 or more.")
			return
		}
		keep = n
	}
	removed, err := h.cookies.PruneBackups(keep)
	if err != nil {
		h.reply(ctx, sink, ev, "❌ Error pruning backups: "+err.Error())
		return
	}
	h.reply(ctx, sink, ev, fmt.Sprintf("🧹 Removed %d backup(s), kept the newest %d.", removed, keep))
}

func describeMetadata(m *cookies.Metadata) string {
	if m == nil {
		return "⚠️ The new file could not be read back."
	}
	s := fmt.Sprintf("**Size:** %s\n**Modified:** %s\n**YouTube cookies:** %d",
		util.FormatSize(m.Size), m.ModTime.Format(timeLayout), m.ProviderCookies)
	if !m.Usable() {
		s += "\n⚠️ The file has no usable YouTube cookies."
	}
	return s
}

func topDomains(counts map[string]int, n int) []string {
	domains := make([]string, 0, len(counts))
	for d := range counts {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		if counts[domains[i]] != counts[domains[j]] {
			return counts[domains[i]] > counts[domains[j]]
		}
		return domains[i] < domains[j]
	})
	if len(domains) > n {
		domains = domains[:n]
	}
	return domains
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
