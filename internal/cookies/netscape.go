package cookies

import (
	"bufio"
	"io"
	"strings"
)

const (
	netscapePrefix = "# Netscape"
	httpOnlyPrefix = "#HttpOnly_"

	// Netscape rows are domain, include-subdomains, path, secure, expiry,
	// name, value.
	domainFields = 5
	cookieFields = 7
	nameField    = 5
)

type Format string

const (
	FormatNetscape Format = "netscape"
	FormatUnknown  Format = "unknown"
)

type scanResult struct {
	format          Format
	lines           int
	cookieLines     int
	providerLines   int
	providerCookies int
	domains         map[string]int
	providerNames   []string
}

// scanTable reads a cookie table once and gathers everything Inspect and
// Validate need. Lines that mention a provider token count toward
// providerLines even when they are not well-formed rows.
func scanTable(r io.Reader, providerTokens []string) (scanResult, error) {
	res := scanResult{format: FormatUnknown, domains: make(map[string]int)}
	seenNames := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		res.lines++
		line := strings.TrimSpace(raw)

		if res.lines == 1 && strings.HasPrefix(line, netscapePrefix) {
			res.format = FormatNetscape
		}
		if line == "" {
			continue
		}
		if containsAny(line, providerTokens) {
			res.providerLines++
		}

		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < domainFields {
			continue
		}
		domain := strings.ToLower(parts[0])
		res.domains[domain]++

		if len(parts) >= cookieFields {
			res.cookieLines++
		}
		if isProviderDomain(domain, providerTokens) {
			res.providerCookies++
			if len(parts) > nameField {
				name := parts[nameField]
				if !seenNames[name] {
					seenNames[name] = true
					res.providerNames = append(res.providerNames, name)
				}
			}
		}
	}
	return res, scanner.Err()
}

func isProviderDomain(domain string, tokens []string) bool {
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	for _, t := range tokens {
		t = strings.TrimPrefix(strings.ToLower(t), ".")
		if d == t || strings.HasSuffix(d, "."+t) {
			return true
		}
	}
	return false
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// redactLine keeps the descriptive columns of a cookie row and hides the
// value.
func redactLine(line string) string {
	parts := strings.Split(line, "\t")
	if len(parts) >= cookieFields {
		parts[cookieFields-1] = "***"
		line = strings.Join(parts, "\t")
	}
	if len(line) > 50 {
		line = line[:50] + "..."
	}
	return line
}
