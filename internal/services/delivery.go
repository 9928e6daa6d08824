package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/chat"
	"github.com/coah80/yoinktube/internal/config"
	"github.com/coah80/yoinktube/internal/util"
)

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeMedia
	OutcomeDocument
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMedia:
		return "media"
	case OutcomeDocument:
		return "document"
	}
	return "failed"
}

type DeliveryResult struct {
	Outcome Outcome
	Size    int64
	Err     error
}

type Delivery struct {
	maxSize int64
	margin  time.Duration
	sleep   func(context.Context, time.Duration) error
	log     zerolog.Logger
}

func NewDelivery(maxSize int64, log zerolog.Logger) *Delivery {
	return &Delivery{
		maxSize: maxSize,
		margin:  config.RateLimitMargin,
		sleep:   sleepCtx,
		log:     log.With().Str("component", "delivery").Logger(),
	}
}

// Deliver uploads mediaPath as native media, falling back to a plain file
// upload. A rate limit pauses for the provider's delay and retries the same
// upload once.
func (d *Delivery) Deliver(ctx context.Context, sink chat.Sink, channelID, mediaPath, thumb string, info *VideoInfo) DeliveryResult {
	st, err := os.Stat(mediaPath)
	if err != nil {
		return d.failed(0, err)
	}
	size := st.Size()
	if size > d.maxSize {
		d.log.Warn().Int64("size", size).Int64("limit", d.maxSize).Msg("File over upload limit")
		return DeliveryResult{
			Outcome: OutcomeFailed,
			Size:    size,
			Err: newError(KindTooLarge, opDeliver,
				fmt.Errorf("file is %s, the limit is %s", util.FormatSize(size), util.FormatSize(d.maxSize))),
		}
	}

	name := info.Title + filepath.Ext(mediaPath)
	caption := Caption(info, size)

	limited, err := d.send(ctx, func() error {
		return sink.SendMedia(ctx, channelID, chat.Media{
			Path:      mediaPath,
			Name:      name,
			Caption:   caption,
			Thumbnail: thumb,
			Duration:  info.Duration,
			Width:     info.Width,
			Height:    info.Height,
			Streaming: true,
		})
	})
	if err == nil {
		d.log.Info().Int64("size", size).Msg("Sent as media")
		return DeliveryResult{Outcome: OutcomeMedia, Size: size}
	}
	if limited || ctx.Err() != nil {
		return d.failed(size, err)
	}

	d.log.Warn().Err(err).Msg("Media upload failed, sending as document")
	_, err = d.send(ctx, func() error {
		return sink.SendDocument(ctx, channelID, chat.Document{
			Path:      mediaPath,
			Name:      name,
			Caption:   caption,
			Thumbnail: thumb,
		})
	})
	if err == nil {
		d.log.Info().Int64("size", size).Msg("Sent as document")
		return DeliveryResult{Outcome: OutcomeDocument, Size: size}
	}
	return d.failed(size, err)
}

// send runs fn and, when the sink reports a rate limit, waits and runs it
// once more. The bool reports whether the retry path was taken.
func (d *Delivery) send(ctx context.Context, fn func() error) (bool, error) {
	err := fn()
	var rl *chat.RateLimitError
	if !errors.As(err, &rl) {
		return false, err
	}

	wait := rl.RetryAfter + d.margin
	d.log.Warn().Dur("wait", wait).Msg("Rate limited by chat provider, waiting")
	if serr := d.sleep(ctx, wait); serr != nil {
		return true, serr
	}
	return true, fn()
}

func (d *Delivery) failed(size int64, err error) DeliveryResult {
	d.log.Error().Err(err).Msg("Delivery failed")
	kind := KindDeliveryFailed
	if errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	return DeliveryResult{Outcome: OutcomeFailed, Size: size, Err: newError(kind, opDeliver, err)}
}

// Caption is the text attached to a delivered video.
func Caption(info *VideoInfo, size int64) string {
	s := "🎬 " + info.Title
	if info.Uploader != "" {
		s += "\n👤 " + info.Uploader
	}
	if info.Duration > 0 {
		s += "\n⏱ " + util.FormatDuration(info.Duration)
	}
	if size > 0 {
		s += "\n📦 " + util.FormatSize(size)
	}
	return s
}
