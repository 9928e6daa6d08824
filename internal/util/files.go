package util

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxFilenameRunes = 100

// Whitespace controls are left for multiSpaceRe to fold into a space.
var unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x08\x0b\x0e-\x1f]`)
var multiSpaceRe = regexp.MustCompile(`\s+`)

// SanitizeFilename strips characters no common filesystem accepts and caps
// the result at 100 runes.
func SanitizeFilename(filename string) string {
	s := unsafeFilenameRe.ReplaceAllString(filename, "")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxFilenameRunes {
		s = strings.TrimSpace(string(r[:maxFilenameRunes]))
	}
	return s
}

// SweepStaleRuns removes run directories under dir that have not been
// touched for longer than retention. It returns how many were removed.
func SweepStaleRuns(dir string, retention time.Duration, log zerolog.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to list temp dir")
		}
		return 0
	}

	now := time.Now()
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "user_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= retention {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			log.Warn().Err(err).Str("run", e.Name()).Msg("Failed to remove stale run")
			continue
		}
		log.Info().Str("run", e.Name()).Msg("Cleaned up stale run")
		removed++
	}

	if ds, err := GetDiskSpace(dir); err == nil {
		log.Debug().Float64("availGB", ds.AvailGB).Float64("totalGB", ds.TotalGB).Msg("Disk space")
		if ds.AvailGB < lowDiskGB {
			log.Warn().Float64("availGB", ds.AvailGB).Msg("Low disk space in temp dir")
		}
	}
	return removed
}

// StartRunSweeper runs SweepStaleRuns every interval until ctx is done.
func StartRunSweeper(ctx context.Context, dir string, interval, retention time.Duration, log zerolog.Logger) {
	log = log.With().Str("component", "sweeper").Logger()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				SweepStaleRuns(dir, retention, log)
			}
		}
	}()
}
