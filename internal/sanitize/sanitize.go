// Package sanitize cleans strings destined for storage or operator
// channels: persisted error messages and alert texts are bounded in
// length and never carry credentials.
package sanitize

import (
	"regexp"
	"unicode/utf8"
)

// MaxErrorLen bounds persisted error messages, in runes.
const MaxErrorLen = 500

var (
	credentialRe = regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|token|secret|password|authorization|bearer)(\s*[:=]\s*["']?|\s+)([^\s"'&]+)`)
	queryParamRe = regexp.MustCompile(`(?i)([?&](?:key|token|api_key|apikey|access_token|secret)=)[^&\s]+`)
	webhookRe    = regexp.MustCompile(`https://(hooks\.slack\.com|discord(?:app)?\.com/api/webhooks)/\S+`)
)

// Redact masks credential-looking substrings: key/token/secret
// assignments, credential query parameters, and notifier webhook URLs.
func Redact(s string) string {
	s = credentialRe.ReplaceAllString(s, "${1}${2}[redacted]")
	s = queryParamRe.ReplaceAllString(s, "${1}[redacted]")
	s = webhookRe.ReplaceAllString(s, "https://${1}/[redacted]")
	return s
}

// Truncate cuts s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// Error prepares an error for persistence: redacted, then truncated to
// MaxErrorLen. A nil error becomes the empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(Redact(err.Error()), MaxErrorLen)
}

// Message prepares free-form operator text (alert messages) the same way.
func Message(s string) string {
	return Truncate(Redact(s), MaxErrorLen)
}
