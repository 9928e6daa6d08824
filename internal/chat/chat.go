// Package chat is the boundary between the download core and the chat
// transport. Inbound traffic arrives as Events, outbound traffic leaves
// through a Sink.
package chat

import (
	"context"
	"fmt"
	"io"
	"time"
)

type EventKind int

const (
	EventCommand EventKind = iota
	EventText
	EventFile
	EventCallback
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventText:
		return "text"
	case EventFile:
		return "file"
	case EventCallback:
		return "callback"
	}
	return "unknown"
}

// Attachment is a file sent by a user. Content is only fetched when Open is
// called.
type Attachment struct {
	Name string
	Size int64
	Open func(ctx context.Context) (io.ReadCloser, error)
}

type Event struct {
	Kind      EventKind
	UserID    string
	Username  string
	ChannelID string

	// Command and Args are set for EventCommand.
	Command string
	Args    []string

	Text     string
	File     *Attachment
	Callback string

	// Reply, when set, is the message the transport expects the first
	// answer to land in (a deferred slash command or a pressed button).
	Reply MessageRef
}

func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

// MessageRef identifies a previously sent message. Handle is opaque to the
// core and only interpreted by the transport that produced it.
type MessageRef struct {
	ChannelID string
	MessageID string
	Handle    any
}

func (r MessageRef) IsZero() bool {
	return r.ChannelID == "" && r.MessageID == "" && r.Handle == nil
}

type ChoiceStyle int

const (
	ChoicePrimary ChoiceStyle = iota
	ChoiceSecondary
	ChoiceDanger
)

type Choice struct {
	Label string
	ID    string
	Style ChoiceStyle
}

type Media struct {
	Path      string
	Name      string
	Caption   string
	Thumbnail string
	Duration  int
	Width     int
	Height    int
	Streaming bool
}

type Document struct {
	Path      string
	Name      string
	Caption   string
	Thumbnail string
}

// Sink is everything the core may do to the chat.
type Sink interface {
	SendText(ctx context.Context, channelID, text string) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	SendMedia(ctx context.Context, channelID string, m Media) error
	SendDocument(ctx context.Context, channelID string, d Document) error
	SendChoices(ctx context.Context, channelID, text string, choices []Choice) (MessageRef, error)
}

// RateLimitError is returned by a Sink when the provider asked the caller to
// slow down.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Err }
