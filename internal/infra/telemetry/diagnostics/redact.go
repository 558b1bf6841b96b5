package diagnostics

import (
	"net/url"
	"strings"
)

const (
	// maxErrorLen bounds the error text kept per event.
	maxErrorLen   = 512
	redactedValue = "redacted"
)

var sensitiveKeys = []string{
	"token",
	"secret",
	"authorization",
	"api_key",
	"apikey",
	"signature",
	"password",
}

// ContainsSensitiveKey reports whether values under key should be masked.
func ContainsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, needle := range sensitiveKeys {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// RedactURL masks user info passwords and sensitive query parameters.
// Strings that do not parse as URLs are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.User == nil && u.RawQuery == "") {
		return raw
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redactedValue)
		}
	}
	if u.RawQuery != "" {
		query := u.Query()
		changed := false
		for key, values := range query {
			if !ContainsSensitiveKey(key) {
				continue
			}
			for i := range values {
				values[i] = redactedValue
			}
			changed = true
		}
		if changed {
			u.RawQuery = query.Encode()
		}
	}
	return u.String()
}

// TruncateString truncates the value to limit bytes and appends a suffix when needed.
func TruncateString(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

func sanitize(event Event) Event {
	event.Origin = RedactURL(event.Origin)
	event.Error = TruncateString(event.Error, maxErrorLen)
	return event
}
