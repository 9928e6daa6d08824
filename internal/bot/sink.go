package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/chat"
)

// fallbackRetryAfter is used when Discord answers 429 without a retry hint.
const fallbackRetryAfter = 5 * time.Second

// Sink posts to Discord channels through the bot's session.
type Sink struct {
	session *discordgo.Session
	log     zerolog.Logger
}

func newSink(s *discordgo.Session, log zerolog.Logger) *Sink {
	return &Sink{session: s, log: log.With().Str("component", "sink").Logger()}
}

func (s *Sink) SendText(ctx context.Context, channelID, text string) (chat.MessageRef, error) {
	msg, err := s.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{textEmbed(text)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return chat.MessageRef{}, mapError(err)
	}
	return chat.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

// EditText replaces a message's text and drops its buttons. Interaction
// responses are edited through the interaction webhook first since the bot
// may not be able to see the channel.
func (s *Sink) EditText(ctx context.Context, ref chat.MessageRef, text string) error {
	embeds := []*discordgo.MessageEmbed{textEmbed(text)}
	components := []discordgo.MessageComponent{}

	if i, ok := ref.Handle.(*discordgo.Interaction); ok {
		_, err := s.session.InteractionResponseEdit(i, &discordgo.WebhookEdit{
			Embeds:     &embeds,
			Components: &components,
		}, discordgo.WithContext(ctx))
		if err == nil || ref.MessageID == "" {
			return mapError(err)
		}
		s.log.Debug().Err(err).Msg("Interaction edit failed, editing message directly")
	}

	if ref.MessageID == "" {
		return errors.New("message reference has no id")
	}
	_, err := s.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         ref.MessageID,
		Channel:    ref.ChannelID,
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	return mapError(err)
}

func (s *Sink) SendMedia(ctx context.Context, channelID string, m chat.Media) error {
	video, err := os.Open(m.Path)
	if err != nil {
		return err
	}
	defer video.Close()

	send := &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: m.Name, ContentType: "video/mp4", Reader: video}},
	}
	thumbName := ""
	if m.Thumbnail != "" {
		if thumb, err := os.Open(m.Thumbnail); err == nil {
			defer thumb.Close()
			thumbName = filepath.Base(m.Thumbnail)
			send.Files = append(send.Files, &discordgo.File{Name: thumbName, ContentType: "image/jpeg", Reader: thumb})
		}
	}
	send.Embeds = []*discordgo.MessageEmbed{mediaEmbed(m.Caption, thumbName)}

	_, err = s.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	return mapError(err)
}

func (s *Sink) SendDocument(ctx context.Context, channelID string, d chat.Document) error {
	f, err := os.Open(d.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: clip(d.Caption, 2000),
		Files:   []*discordgo.File{{Name: d.Name, ContentType: "application/octet-stream", Reader: f}},
	}, discordgo.WithContext(ctx))
	return mapError(err)
}

func (s *Sink) SendChoices(ctx context.Context, channelID, text string, choices []chat.Choice) (chat.MessageRef, error) {
	msg, err := s.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{textEmbed(text)},
		Components: buttonRows(choices),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return chat.MessageRef{}, mapError(err)
	}
	return chat.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

// replySink routes the first text or choices message of an event into the
// deferred interaction response. Everything after goes to the channel.
type replySink struct {
	*Sink
	interaction *discordgo.Interaction

	mu       sync.Mutex
	answered bool
}

func newReplySink(s *Sink, i *discordgo.Interaction) *replySink {
	return &replySink{Sink: s, interaction: i}
}

func (r *replySink) claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.answered {
		return false
	}
	r.answered = true
	return true
}

func (r *replySink) respond(ctx context.Context, text string, components []discordgo.MessageComponent) (chat.MessageRef, bool) {
	if !r.claim() {
		return chat.MessageRef{}, false
	}
	embeds := []*discordgo.MessageEmbed{textEmbed(text)}
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	msg, err := r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to answer interaction")
		return chat.MessageRef{}, false
	}
	return chat.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID, Handle: r.interaction}, true
}

func (r *replySink) SendText(ctx context.Context, channelID, text string) (chat.MessageRef, error) {
	if ref, ok := r.respond(ctx, text, nil); ok {
		return ref, nil
	}
	return r.Sink.SendText(ctx, channelID, text)
}

func (r *replySink) SendChoices(ctx context.Context, channelID, text string, choices []chat.Choice) (chat.MessageRef, error) {
	if ref, ok := r.respond(ctx, text, buttonRows(choices)); ok {
		return ref, nil
	}
	return r.Sink.SendChoices(ctx, channelID, text, choices)
}

func (r *replySink) EditText(ctx context.Context, ref chat.MessageRef, text string) error {
	if ref.Handle == r.interaction {
		r.claim()
	}
	return r.Sink.EditText(ctx, ref, text)
}

// mapError turns Discord's 429 answers into chat.RateLimitError.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl.RateLimit != nil && rl.TooManyRequests != nil {
		return &chat.RateLimitError{RetryAfter: rl.RetryAfter, Err: err}
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusTooManyRequests:
			return &chat.RateLimitError{RetryAfter: fallbackRetryAfter, Err: err}
		case http.StatusRequestEntityTooLarge:
			return fmt.Errorf("file rejected by Discord: %w", err)
		}
	}
	return err
}
