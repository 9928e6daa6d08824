package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/config"
)

var mp4VideoExts = map[string]bool{"mp4": true, "m4v": true, "mov": true}
var mp4AudioExts = map[string]bool{"m4a": true, "mp4": true, "aac": true, "mp3": true}

type Assembler struct {
	tr        Transcoder
	maxOffset time.Duration
	log       zerolog.Logger
}

func NewAssembler(tr Transcoder, log zerolog.Logger) *Assembler {
	return &Assembler{
		tr:        tr,
		maxOffset: config.ThumbnailMaxOffset,
		log:       log.With().Str("component", "assembler").Logger(),
	}
}

// Merge stream-copies video and audio into one container in outDir. It is
// not retried: the inputs would be the same next time.
func (a *Assembler) Merge(ctx context.Context, video, audio, outDir string) (string, error) {
	container := mergeContainer(video, audio)
	out := filepath.Join(outDir, mediaStem(video)+".merged."+container)

	start := time.Now()
	if err := a.tr.Merge(ctx, video, audio, out); err != nil {
		os.Remove(out)
		a.log.Error().Err(err).Str("video", filepath.Base(video)).Msg("Merge failed")
		return "", newError(KindAssemblyFailed, opMerge, err)
	}

	st, err := os.Stat(out)
	if err != nil || st.Size() == 0 {
		os.Remove(out)
		a.log.Error().Str("out", out).Msg("Merge produced no output")
		return "", newError(KindAssemblyFailed, opMerge, errors.New("merged output is missing or empty"))
	}

	a.log.Info().Str("out", filepath.Base(out)).Int64("size", st.Size()).Dur("took", time.Since(start)).Msg("Merged audio and video")
	return out, nil
}

// Thumbnail grabs one JPEG frame at min(10s, duration/4). It returns "" if
// anything goes wrong; uploads go ahead without a thumbnail.
func (a *Assembler) Thumbnail(ctx context.Context, video string) string {
	d, err := a.tr.Duration(ctx, video)
	if err != nil {
		a.log.Warn().Err(err).Msg("Could not probe duration for thumbnail")
		return ""
	}
	at := a.maxOffset
	if d/4 < at {
		at = d / 4
	}

	out := filepath.Join(filepath.Dir(video), mediaStem(video)+".thumb.jpg")
	if err := a.tr.Frame(ctx, video, at, out); err != nil {
		os.Remove(out)
		a.log.Warn().Err(err).Msg("Thumbnail extraction failed")
		return ""
	}
	if st, err := os.Stat(out); err != nil || st.Size() == 0 {
		os.Remove(out)
		return ""
	}
	return out
}

func mergeContainer(video, audio string) string {
	v := strings.ToLower(strings.TrimPrefix(filepath.Ext(video), "."))
	a := strings.ToLower(strings.TrimPrefix(filepath.Ext(audio), "."))
	if mp4VideoExts[v] && mp4AudioExts[a] {
		return "mp4"
	}
	return "mkv"
}

// mediaStem strips the extension and the engine's ".f<format>" suffix.
func mediaStem(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if i := strings.LastIndex(base, ".f"); i > 0 {
		base = base[:i]
	}
	return base
}
