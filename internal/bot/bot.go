package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/alerts"
	"github.com/coah80/yoinktube/internal/chat"
	"github.com/coah80/yoinktube/internal/config"
	"github.com/coah80/yoinktube/internal/cookies"
)

// textCommandPrefix lets users type "!yt <url>" where slash commands are
// unavailable.
const textCommandPrefix = "!"

type Config struct {
	Token  string
	AppID  string
	Admins []string
}

// Bot connects a Handler to Discord.
type Bot struct {
	session *discordgo.Session
	cfg     Config
	handler *Handler
	sink    *Sink
	fetcher *attachmentFetcher
	monitor *cookieMonitor
	alerts  *alerts.Notifier
	cmdIDs  []string

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func New(cfg Config, handler *Handler, store *cookies.Store, notifier *alerts.Notifier, log zerolog.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	// Delivery does its own sleep-and-retry on 429.
	s.ShouldRetryOnRateLimit = false
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	log = log.With().Str("component", "discord").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		session: s,
		cfg:     cfg,
		handler: handler,
		sink:    newSink(s, log),
		fetcher: newAttachmentFetcher(),
		monitor: newCookieMonitor(s, store, notifier, cfg.Admins, log),
		alerts:  notifier,
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}

	s.AddHandler(b.handleInteraction)
	s.AddHandler(b.handleMessage)
	return b, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return err
	}

	username := b.session.State.User.Username
	b.log.Info().Str("user", username).Msg("Bot logged in")
	b.alerts.BotStarted(username)
	b.monitor.start(b.ctx)

	for _, cmd := range commandDefinitions() {
		created, err := b.session.ApplicationCommandCreate(b.cfg.AppID, "", cmd)
		if err != nil {
			b.log.Error().Err(err).Str("command", cmd.Name).Msg("Failed to register command")
			continue
		}
		b.cmdIDs = append(b.cmdIDs, created.ID)
		b.log.Debug().Str("command", created.Name).Msg("Registered command")
	}
	b.log.Info().Int("commands", len(b.cmdIDs)).Msg("Commands registered")
	return nil
}

// Stop cancels running downloads, waits for them and disconnects.
func (b *Bot) Stop() {
	b.alerts.BotStopping()
	b.cancel()
	b.handler.Shutdown()
	b.handler.Wait()

	for _, id := range b.cmdIDs {
		if err := b.session.ApplicationCommandDelete(b.cfg.AppID, "", id); err != nil {
			b.log.Debug().Err(err).Str("command", id).Msg("Failed to delete command")
		}
	}
	if err := b.session.Close(); err != nil {
		b.log.Warn().Err(err).Msg("Error closing Discord session")
	}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		}); err != nil {
			b.log.Error().Err(err).Msg("Failed to defer command response")
			return
		}
		ev := b.commandEvent(i, user)
		go b.handler.Handle(b.ctx, newReplySink(b.sink, i.Interaction), ev)

	case discordgo.InteractionMessageComponent:
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		}); err != nil {
			b.log.Error().Err(err).Msg("Failed to defer button response")
			return
		}
		ev := chat.Event{
			Kind:      chat.EventCallback,
			UserID:    user.ID,
			Username:  user.Username,
			ChannelID: i.ChannelID,
			Callback:  i.MessageComponentData().CustomID,
		}
		if i.Message != nil {
			ev.Reply = chat.MessageRef{ChannelID: i.ChannelID, MessageID: i.Message.ID, Handle: i.Interaction}
		}
		go b.handler.Handle(b.ctx, newReplySink(b.sink, i.Interaction), ev)
	}
}

// commandArgs fixes the positional order of each command's options.
var commandArgs = map[string][]string{
	"yt":              {"url", "resolution"},
	"cookies_restore": {"number"},
	"cookies_prune":   {"keep"},
}

func (b *Bot) commandEvent(i *discordgo.InteractionCreate, user *discordgo.User) chat.Event {
	data := i.ApplicationCommandData()
	ev := chat.Event{
		Kind:      chat.EventCommand,
		UserID:    user.ID,
		Username:  user.Username,
		ChannelID: i.ChannelID,
		Command:   data.Name,
	}

	values := make(map[string]string)
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			values[opt.Name] = opt.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			values[opt.Name] = strconv.FormatInt(opt.IntValue(), 10)
		case discordgo.ApplicationCommandOptionAttachment:
			id, _ := opt.Value.(string)
			if data.Resolved != nil {
				ev.File = b.fetcher.attachment(data.Resolved.Attachments[id])
			}
		}
	}
	for _, name := range commandArgs[data.Name] {
		ev.Args = append(ev.Args, values[name])
	}
	for len(ev.Args) > 0 && ev.Args[len(ev.Args)-1] == "" {
		ev.Args = ev.Args[:len(ev.Args)-1]
	}
	return ev
}

// handleMessage feeds plain messages and uploads to the handler. Guild
// messages are only considered while the author has something pending.
func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	content := strings.TrimSpace(m.Content)
	isCommand := isTextCommand(content)
	if m.GuildID != "" && !isCommand && !b.handler.Expecting(m.Author.ID) {
		return
	}

	ev := chat.Event{
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		ChannelID: m.ChannelID,
		Text:      content,
	}
	if len(m.Attachments) > 0 {
		ev.File = b.fetcher.attachment(m.Attachments[0])
	}

	switch {
	case isCommand:
		fields := strings.Fields(strings.TrimPrefix(content, textCommandPrefix))
		ev.Kind = chat.EventCommand
		ev.Command = strings.ToLower(fields[0])
		ev.Args = fields[1:]
	case ev.File != nil:
		ev.Kind = chat.EventFile
	default:
		ev.Kind = chat.EventText
	}

	go b.handler.Handle(b.ctx, b.sink, ev)
}

var knownCommands = func() map[string]bool {
	names := map[string]bool{"start": true}
	for _, cmd := range commandDefinitions() {
		names[cmd.Name] = true
	}
	return names
}()

func isTextCommand(content string) bool {
	if !strings.HasPrefix(content, textCommandPrefix) {
		return false
	}
	fields := strings.Fields(strings.TrimPrefix(content, textCommandPrefix))
	return len(fields) > 0 && knownCommands[strings.ToLower(fields[0])]
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	integrations := &[]discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationGuildInstall,
		discordgo.ApplicationIntegrationUserInstall,
	}
	contexts := &[]discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
		discordgo.InteractionContextPrivateChannel,
	}
	command := func(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{
			Name:             name,
			Description:      desc,
			IntegrationTypes: integrations,
			Contexts:         contexts,
			Options:          opts,
		}
	}

	resolutions := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(config.ResolutionChoices))
	for _, r := range config.ResolutionChoices {
		resolutions = append(resolutions, &discordgo.ApplicationCommandOptionChoice{Name: r, Value: r})
	}
	fileOption := func(desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionAttachment,
			Name:        "file",
			Description: desc,
			Required:    required,
		}
	}

	return []*discordgo.ApplicationCommand{
		command("help", "Show what the bot can do"),
		command("yt", "Download a YouTube video",
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "url",
				Description: "The YouTube link",
				Required:    false,
			},
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "resolution",
				Description: "Maximum resolution",
				Required:    false,
				Choices:     resolutions,
			},
		),
		command("batch", "Download every link in a .txt file", fileOption("A .txt file with one link per line", false)),
		command("cancel", "Cancel the current operation"),
		command("stop", "Stop your running downloads"),
		command("status", "Show bot status"),
		command("cookies", "Show cookie status"),
		command("cookies_info", "Cookie file details (admin)"),
		command("cookies_upload", "Replace the cookie file (admin)", fileOption("The cookies.txt file", false)),
		command("cookies_backup", "Back up the cookie file (admin)"),
		command("cookies_restore", "Restore a cookie backup (admin)",
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "number",
				Description: "Backup number from the list",
				Required:    false,
				MinValue:    &[]float64{1}[0],
				MaxValue:    config.MaxListedBackups,
			},
		),
		command("cookies_test", "Test the cookies against YouTube (admin)"),
		command("cookies_delete", "Delete the cookie file (admin)"),
		command("cookies_prune", "Remove old cookie backups (admin)",
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "keep",
				Description: "How many of the newest backups to keep",
				Required:    false,
				MinValue:    &[]float64{0}[0],
			},
		),
	}
}
