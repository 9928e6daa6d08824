package util

import (
	"errors"
	"regexp"
	"strings"

	"github.com/coah80/yoinktube/internal/config"
)

var (
	ErrEmptyURL    = errors.New("URL is required")
	ErrURLTooLong  = errors.New("URL is too long")
	ErrUnsupported = errors.New("not a supported YouTube link")
)

var youtubeURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(https?://)?(www\.|m\.)?youtube\.com/watch\?(.*&)?v=`),
	regexp.MustCompile(`(?i)(https?://)?youtu\.be/`),
	regexp.MustCompile(`(?i)(https?://)?(www\.|m\.)?youtube\.com/shorts/`),
	regexp.MustCompile(`(?i)(https?://)?(www\.|m\.)?youtube\.com/playlist\?list=`),
	regexp.MustCompile(`(?i)(https?://)?(www\.|m\.)?youtube\.com/embed/`),
}

var urlTokenRe = regexp.MustCompile(`(?i)(https?://)?(www\.|m\.)?(youtube\.com|youtu\.be)/\S+`)

// ValidateURL accepts watch, short-link, shorts, playlist and embed links.
// The scheme is optional and matching ignores case.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrEmptyURL
	}
	if len(raw) > config.MaxURLLength {
		return ErrURLTooLong
	}
	for _, re := range youtubeURLPatterns {
		if re.MatchString(raw) {
			return nil
		}
	}
	return ErrUnsupported
}

// NormalizeURL adds a scheme when the user left it off.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

// ExtractURLs pulls the valid links out of free text such as a batch file,
// dropping duplicates and keeping the first max. The second return value is
// the number of link-like tokens that were rejected.
func ExtractURLs(text string, max int) ([]string, int) {
	seen := make(map[string]bool)
	var urls []string
	rejected := 0
	for _, tok := range urlTokenRe.FindAllString(text, -1) {
		tok = strings.TrimRight(tok, ".,;)]>\"'")
		if ValidateURL(tok) != nil {
			rejected++
			continue
		}
		u := NormalizeURL(tok)
		if seen[u] {
			continue
		}
		seen[u] = true
		if max > 0 && len(urls) >= max {
			rejected++
			continue
		}
		urls = append(urls, u)
	}
	return urls, rejected
}
