package services

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Transcoder is the transcoding engine contract.
type Transcoder interface {
	Merge(ctx context.Context, videoPath, audioPath, outPath string) error
	Duration(ctx context.Context, path string) (time.Duration, error)
	Frame(ctx context.Context, path string, at time.Duration, outPath string) error
}

type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

func (f *FFmpeg) Merge(ctx context.Context, videoPath, audioPath, outPath string) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
	}
	if strings.EqualFold(filepath.Ext(outPath), ".mp4") {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, outPath)
	return f.run(ctx, args)
}

func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q", strings.TrimSpace(string(out)))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (f *FFmpeg) Frame(ctx context.Context, path string, at time.Duration, outPath string) error {
	return f.run(ctx, []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-vf", "scale='min(320,iw)':-2",
		"-q:v", "2",
		outPath,
	})
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.FFmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %s: %w", lastLine(msg), err)
	}
	return nil
}
