// Package hostutil canonicalises hostnames and answers zone-relationship
// questions used to bound redirect and alias trust.
package hostutil

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Normalize canonicalises a hostname: a trailing numeric port is stripped
// (bracketed IPv6 literals are left untouched), the result is IDNA-encoded,
// lower-cased, and trailing dots are removed. When IDNA encoding fails the
// value degrades to lower-case plus trailing-dot strip. Idempotent.
func Normalize(host string) string {
	raw := strings.TrimSpace(host)
	if raw == "" {
		return ""
	}

	if !strings.HasPrefix(raw, "[") {
		if idx := strings.LastIndex(raw, ":"); idx >= 0 && allDigits(raw[idx+1:]) {
			raw = raw[:idx]
		}
	}

	ascii, err := idna.ToASCII(raw)
	if err != nil || ascii == "" {
		return strings.TrimRight(strings.ToLower(raw), ".")
	}
	return strings.TrimRight(strings.ToLower(ascii), ".")
}

// SameZone reports whether two hosts belong to the same approximate
// eTLD+1 grouping: equal after normalization, or one is a subdomain of the
// other. This deliberately avoids a full public-suffix list.
func SameZone(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	na := Normalize(a)
	nb := Normalize(b)
	if na == nb {
		return true
	}
	return strings.HasSuffix(na, "."+nb) || strings.HasSuffix(nb, "."+na)
}

// PeerHost reduces a peer reference, given either as a bare host or as a
// URL, to a lower-cased host[:port]. Returns "" when nothing usable remains.
func PeerHost(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	text = strings.TrimRight(text, "/")
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		if parsed, err := url.Parse(text); err == nil && parsed.Hostname() != "" {
			host := strings.ToLower(parsed.Hostname())
			if port := parsed.Port(); port != "" {
				return host + ":" + port
			}
			return host
		}
		if idx := strings.Index(text, "://"); idx >= 0 {
			text = text[idx+3:]
		}
	}
	return strings.ToLower(text)
}

// HostFromURL extracts and normalises the hostname of a URL-ish string.
func HostFromURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Hostname() != "" {
		return Normalize(parsed.Hostname())
	}
	return Normalize(strings.TrimRight(trimmed, "/"))
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
