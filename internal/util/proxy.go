package util

import (
	"fmt"
	"net/url"
	"strings"
)

var proxySchemes = map[string]bool{"http": true, "https": true, "socks4": true, "socks5": true, "socks5h": true}

// ParseProxies splits a comma separated PROXY_URL value into validated
// proxy URLs. Requests rotate through them by attempt.
func ParseProxies(raw string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", RedactProxy(p))
		}
		if !proxySchemes[strings.ToLower(u.Scheme)] {
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
		out = append(out, p)
	}
	return out, nil
}

// PickProxy returns the proxy for a 0-based attempt, or "" with no proxies.
func PickProxy(proxies []string, attempt int) string {
	if len(proxies) == 0 {
		return ""
	}
	if attempt < 0 {
		attempt = 0
	}
	return proxies[attempt%len(proxies)]
}

// RedactProxy hides the password of a proxy URL for logging.
func RedactProxy(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
