package util

import "strings"

type userMessage struct {
	patterns []string
	message  string
}

// userMessages is checked top to bottom; the first entry with a matching
// pattern wins.
var userMessages = []userMessage{
	{[]string{"cancelled", "canceled"}, "Download cancelled"},
	{[]string{"sign in to confirm your age", "confirm your age", "age-restricted", "age restricted", "inappropriate for some users"}, "This video is age-restricted"},
	{[]string{"private video", "this content is private"}, "This video is private"},
	{[]string{"members-only", "members only", "join this channel"}, "This is a members-only video"},
	{[]string{"sign in to confirm", "not a bot", "use --cookies", "login required"}, "YouTube wants a signed-in session for this request"},
	{[]string{"video unavailable", "this video is unavailable", "has been removed"}, "This video is unavailable or has been removed"},
	{[]string{"live event will begin", "is live", "live stream"}, "Live streams can't be downloaded"},
	{[]string{"geo restricted", "geo-restricted", "not available in your country"}, "This video isn't available in the server's region"},
	{[]string{"copyright"}, "This video was removed for copyright"},
	{[]string{"premium"}, "This video requires YouTube Premium"},
	{[]string{"http error 429", "too many requests"}, "Rate limited, try again in a few minutes"},
	{[]string{"http error 403", "403 forbidden"}, "Access denied, the site is blocking downloads"},
	{[]string{"http error 404", "404 not found"}, "Video not found, it may have been deleted"},
	{[]string{"unsupported url", "is not a valid url"}, "This link isn't supported"},
	{[]string{"requested format is not available", "requested format not available", "no video formats"}, "No downloadable formats found"},
	{[]string{"econnreset", "connection reset", "connection refused"}, "Connection dropped, try again"},
	{[]string{"etimedout", "timed out", "timeout"}, "Connection timed out, try again"},
	{[]string{"enotfound", "name resolution", "no such host"}, "Couldn't reach the server, try again"},
	{[]string{"ffmpeg failed", "merged output"}, "Processing failed"},
	{[]string{"downloaded file not found", "file not found"}, "Download failed"},
}

// ToUserError turns engine or internal error text into a short message fit
// for a chat reply.
func ToUserError(message string) string {
	return ToUserErrorOr(message, "Download failed")
}

// ToUserErrorOr is ToUserError with a caller chosen message for text no rule
// recognizes.
func ToUserErrorOr(message, fallback string) string {
	msg := strings.ToLower(message)

	for _, m := range userMessages {
		for _, p := range m.patterns {
			if strings.Contains(msg, p) {
				return m.message
			}
		}
	}
	return fallback
}
