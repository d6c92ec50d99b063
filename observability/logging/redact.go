package logging

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// maskedURLPart replaces secrets inside URLs, where brackets would be escaped.
const maskedURLPart = "redacted"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"wallet":    {},
	"module":    {},
	"nonce":     {},
	"chain_id":  {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// RedactionAllowlist returns a sorted copy of the log keys that are allowed to be emitted
// without redaction.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskEndpoint strips credentials from an RPC or indexer URL so it can be
// logged. User info, query strings and every path segment after the first
// are replaced, since providers commonly embed API keys there.
func MaskEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return RedactedValue
	}
	masked := url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	if parsed.User != nil {
		masked.User = url.User(maskedURLPart)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		masked.Path = "/" + segments[0]
		if len(segments) > 1 {
			masked.Path += "/" + maskedURLPart
		}
	}
	if parsed.RawQuery != "" {
		masked.RawQuery = maskedURLPart
	}
	return masked.String()
}
