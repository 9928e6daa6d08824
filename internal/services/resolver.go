package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/util"
)

// CookieProbeURL is fetched by TestCookies. The home feed only resolves for
// a signed-in session.
const CookieProbeURL = "https://www.youtube.com/"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
}

func userAgentFor(attempt int) string {
	if attempt < 0 {
		attempt = 0
	}
	return userAgents[attempt%len(userAgents)]
}

type FormatDescriptor struct {
	ID     string
	Ext    string
	Height int
	VCodec string
	ACodec string
	Size   int64
}

func (f FormatDescriptor) HasVideo() bool { return f.VCodec != "" && f.VCodec != "none" }

func (f FormatDescriptor) HasAudio() bool { return f.ACodec != "" && f.ACodec != "none" }

type VideoInfo struct {
	ID           string
	Title        string
	Duration     int
	Uploader     string
	AgeLimit     int
	Availability string
	WebpageURL   string
	IsLive       bool
	Width        int
	Height       int
	Formats      []FormatDescriptor
}

// Restricted reports whether the metadata says the content sits behind an
// age or sign-in gate.
func (v *VideoInfo) Restricted() bool {
	if v == nil {
		return false
	}
	switch v.Availability {
	case "needs_auth", "subscriber_only", "premium_only":
		return true
	}
	return v.AgeLimit >= 18
}

func (v *VideoInfo) Format(id string) (FormatDescriptor, bool) {
	for _, f := range v.Formats {
		if f.ID == id {
			return f, true
		}
	}
	return FormatDescriptor{}, false
}

// NetworkOptions apply to every engine call. Proxies rotate by attempt.
type NetworkOptions struct {
	Proxies       []string
	SocketTimeout time.Duration
}

func (n NetworkOptions) options(cookiesPath string, attempt int) ExtractOptions {
	return ExtractOptions{
		CookiesPath:   cookiesPath,
		UserAgent:     userAgentFor(attempt),
		Proxy:         util.PickProxy(n.Proxies, attempt),
		SocketTimeout: n.SocketTimeout,
	}
}

type Resolver struct {
	extractor Extractor
	policy    RetryPolicy
	net       NetworkOptions
	log       zerolog.Logger
}

func NewResolver(extractor Extractor, policy RetryPolicy, net NetworkOptions, log zerolog.Logger) *Resolver {
	return &Resolver{
		extractor: extractor,
		policy:    policy,
		net:       net,
		log:       log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve fetches metadata for url. cookiesPath may be empty. When a cookie
// backed resolution fails outright, one more attempt runs without cookies
// since a stale cookie can break an otherwise public video.
func (r *Resolver) Resolve(ctx context.Context, url, cookiesPath string) (*VideoInfo, error) {
	info, err := r.resolve(ctx, url, cookiesPath)
	if err == nil {
		return info, nil
	}
	if ctx.Err() != nil {
		return nil, r.classify(ctx, err)
	}

	if cookiesPath != "" {
		r.log.Warn().Err(err).Str("url", url).Msg("Metadata failed with cookies, trying without")
		info, nerr := r.probe(ctx, url, "", r.policy.Attempts)
		if nerr == nil {
			return info, nil
		}
		r.log.Warn().Err(nerr).Str("url", url).Msg("Metadata failed without cookies too")
	}
	return nil, r.classify(ctx, err)
}

func (r *Resolver) resolve(ctx context.Context, url, cookiesPath string) (*VideoInfo, error) {
	var info *VideoInfo
	err := Retry(ctx, r.policy, r.log, func(ctx context.Context, attempt int) error {
		var err error
		info, err = r.probe(ctx, url, cookiesPath, attempt)
		if err != nil && Classify(err.Error(), "") == KindInvalidInput {
			return Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (r *Resolver) probe(ctx context.Context, url, cookiesPath string, attempt int) (*VideoInfo, error) {
	opts := r.net.options(cookiesPath, attempt)
	r.log.Debug().Str("url", url).Int("attempt", attempt+1).Bool("cookies", cookiesPath != "").Msg("Fetching metadata")

	info, err := r.extractor.Probe(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	info.Title = util.SanitizeFilename(info.Title)
	if info.Title == "" {
		info.Title = "video"
	}
	if info.WebpageURL == "" {
		info.WebpageURL = url
	}
	return info, nil
}

func (r *Resolver) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return newError(KindCancelled, opResolve, nil)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(KindTimeout, opResolve, err)
	}

	switch Classify(err.Error(), KindMetadataUnavailable) {
	case KindContentRestricted:
		return newError(KindContentRestricted, opResolve, err)
	case KindTimeout:
		return newError(KindTimeout, opResolve, err)
	default:
		return newError(KindMetadataUnavailable, opResolve, err)
	}
}

// TestCookies checks whether cookiesPath gets a signed-in view of the
// provider.
func (r *Resolver) TestCookies(ctx context.Context, cookiesPath string) (*VideoInfo, error) {
	info, err := r.extractor.Probe(ctx, CookieProbeURL, r.net.options(cookiesPath, 0))
	if err != nil {
		return nil, r.classify(ctx, err)
	}
	return info, nil
}
