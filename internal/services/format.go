package services

import (
	"fmt"

	"github.com/coah80/yoinktube/internal/config"
)

// Strictness orders selectors: a higher value can match fewer formats.
type Strictness int

const (
	StrictnessAny Strictness = iota
	StrictnessCombined
	StrictnessSeparate
	StrictnessSeparateMP4
)

const fallbackSelector = "best"

type Selection struct {
	Primary    string
	Fallback   string
	Strictness Strictness
}

// Tier is a requested resolution. Zero height means no cap.
type Tier struct {
	Name   string
	Height int
}

// ParseTier accepts "720p", "720" or "best".
func ParseTier(s string) (Tier, bool) {
	if h, ok := config.QualityHeight[s]; ok {
		return Tier{Name: s, Height: h}, true
	}
	if h, ok := config.QualityHeight[s+"p"]; ok {
		return Tier{Name: s + "p", Height: h}, true
	}
	return Tier{}, false
}

func (t Tier) String() string {
	if t.Name != "" {
		return t.Name
	}
	if t.Height == 0 {
		return "best"
	}
	return fmt.Sprintf("%dp", t.Height)
}

// SelectFormat returns the yt-dlp selectors for a tier and 0-based attempt.
// The comma operator makes yt-dlp write video and audio as separate files so
// they can be stream-copied together afterwards.
func SelectFormat(tier Tier, attempt int) Selection {
	limit := ""
	if tier.Height > 0 {
		limit = fmt.Sprintf("[height<=%d]", tier.Height)
	}

	switch {
	case attempt <= 0:
		return Selection{
			Primary:    "bestvideo" + limit + "[ext=mp4],bestaudio[ext=m4a]",
			Fallback:   fallbackSelector,
			Strictness: StrictnessSeparateMP4,
		}
	case attempt == 1:
		return Selection{
			Primary:    "bestvideo" + limit + ",bestaudio",
			Fallback:   fallbackSelector,
			Strictness: StrictnessSeparate,
		}
	default:
		primary := "best" + limit + "/" + fallbackSelector
		strictness := StrictnessCombined
		if limit == "" {
			primary = fallbackSelector
			strictness = StrictnessAny
		}
		return Selection{
			Primary:    primary,
			Fallback:   fallbackSelector,
			Strictness: strictness,
		}
	}
}
