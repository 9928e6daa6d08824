package services

import (
	"errors"
	"strings"

	"github.com/coah80/yoinktube/internal/util"
)

// Kind is the failure taxonomy every pipeline error is reduced to. A Kind is
// itself an error so callers can write errors.Is(err, KindTimeout).
type Kind string

const (
	KindUnauthorized        Kind = "unauthorized"
	KindInvalidInput        Kind = "invalid input"
	KindMetadataUnavailable Kind = "metadata unavailable"
	KindContentRestricted   Kind = "content restricted"
	KindTimeout             Kind = "timeout"
	KindTooLong             Kind = "too long"
	KindDownloadFailed      Kind = "download failed"
	KindAuthRequired        Kind = "authentication required"
	KindAssemblyFailed      Kind = "assembly failed"
	KindDeliveryFailed      Kind = "delivery failed"
	KindTooLarge            Kind = "too large"
	KindCancelled           Kind = "cancelled"
	KindRateLimited         Kind = "rate limited"
	KindBusy                Kind = "busy"
)

func (k Kind) Error() string { return string(k) }

// Is makes an authentication failure also count as a download failure.
func (k Kind) Is(target error) bool {
	return k == KindAuthRequired && target == KindDownloadFailed
}

const (
	opResolve   = "resolve"
	opDownload  = "download"
	opMerge     = "merge"
	opThumbnail = "thumbnail"
	opDeliver   = "deliver"
	opRun       = "run"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, KindCancelled) {
		return KindCancelled
	}
	return ""
}

type rule struct {
	pattern string
	kind    Kind
}

// failureRules are checked in order against lowercased engine output; the
// first match wins. Provider wording changes, so extend this table rather
// than adding checks at call sites.
var failureRules = []rule{
	{"sign in to confirm your age", KindContentRestricted},
	{"confirm your age", KindContentRestricted},
	{"age-restricted", KindContentRestricted},
	{"age restricted", KindContentRestricted},
	{"inappropriate for some users", KindContentRestricted},
	{"sign in to confirm you", KindContentRestricted},
	{"confirm you're not a bot", KindContentRestricted},
	{"confirm you’re not a bot", KindContentRestricted},
	{"use --cookies", KindContentRestricted},
	{"login required", KindContentRestricted},
	{"members-only", KindContentRestricted},
	{"members only", KindContentRestricted},
	{"join this channel", KindContentRestricted},
	{"private video", KindContentRestricted},
	{"http error 429", KindRateLimited},
	{"too many requests", KindRateLimited},
	{"timed out", KindTimeout},
	{"timeout", KindTimeout},
	{"unsupported url", KindInvalidInput},
	{"is not a valid url", KindInvalidInput},
	{"video unavailable", KindMetadataUnavailable},
	{"this video is unavailable", KindMetadataUnavailable},
	{"http error 404", KindMetadataUnavailable},
}

var formatUnavailablePatterns = []string{
	"requested format is not available",
	"requested format not available",
	"no video formats found",
}

// Classify maps engine error text onto a Kind, returning fallback when no
// rule matches.
func Classify(text string, fallback Kind) Kind {
	msg := strings.ToLower(text)
	for _, r := range failureRules {
		if strings.Contains(msg, r.pattern) {
			return r.kind
		}
	}
	return fallback
}

func isFormatUnavailable(text string) bool {
	msg := strings.ToLower(text)
	for _, p := range formatUnavailablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Describe renders err as the single message a user sees when a run ends.
// The phase that failed leads, followed by the engine detail and a hint.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "❌ " + util.ToUserError(err.Error())
	}

	detail := func(fallback string) string {
		if e.Err == nil {
			return fallback
		}
		return util.ToUserErrorOr(e.Err.Error(), fallback)
	}

	switch e.Kind {
	case KindCancelled:
		return "🛑 Download cancelled."
	case KindUnauthorized:
		return "⛔ You are not authorized to use this bot."
	case KindBusy:
		return "⏳ You already have the maximum number of downloads running. Wait for them to finish or use /stop."
	case KindInvalidInput:
		return "❌ " + withDetail("Invalid input", e.Err)
	case KindTooLong:
		return "❌ " + withDetail("Video is too long", e.Err)
	case KindTooLarge:
		return "❌ " + withDetail("File is too large to upload", e.Err)
	case KindContentRestricted:
		return "🔒 Could not read video info: " + detail("This video is restricted") +
			"\n💡 This video needs a signed-in session. Ask an admin to upload fresh YouTube cookies with /cookies_upload."
	case KindAuthRequired:
		return "🔒 Download failed: " + detail("This video requires sign-in") +
			"\n💡 This video requires authentication cookies. Ask an admin to upload fresh YouTube cookies with /cookies_upload."
	case KindMetadataUnavailable:
		return "❌ Could not read video info: " + detail("Video info unavailable")
	case KindTimeout:
		return "❌ " + phaseName(e.Op) + " timed out.\n💡 Try again in a minute."
	case KindRateLimited:
		return "❌ " + phaseName(e.Op) + " was rate limited.\n💡 Try again in a few minutes."
	case KindDownloadFailed:
		return "❌ Download failed: " + detail("Download failed") + "\n💡 Try a lower resolution or try again later."
	case KindAssemblyFailed:
		return "❌ Processing failed while merging audio and video."
	case KindDeliveryFailed:
		return "❌ Upload failed: " + detail("The chat service rejected the file")
	}
	return "❌ " + phaseName(e.Op) + " failed: " + detail("Unknown error")
}

func withDetail(prefix string, err error) string {
	if err == nil {
		return prefix + "."
	}
	return prefix + ": " + err.Error()
}

func phaseName(op string) string {
	switch op {
	case opResolve:
		return "Fetching video info"
	case opDownload:
		return "Download"
	case opMerge, opThumbnail:
		return "Processing"
	case opDeliver:
		return "Upload"
	}
	return "Request"
}
