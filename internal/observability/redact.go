package observability

import (
	"net/http"
	"strings"
)

// sensitiveHeaders is the §7 masking list: these must never reach a log
// record or persisted request-log entry in cleartext.
var sensitiveHeaders = map[string]bool{
	"authorization":     true,
	"x-api-key":         true,
	"cookie":            true,
	"set-cookie":        true,
	"proxy-authorization": true,
}

const redactedPlaceholder = "[REDACTED]"

// RedactHeaders returns a copy of h with every §7 sensitive header's
// values replaced by a placeholder, for the JSONL request-log sink and
// admin/error logging to share a single masking rule.
func RedactHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, values := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = []string{redactedPlaceholder}
			continue
		}
		copied := make([]string, len(values))
		copy(copied, values)
		out[k] = copied
	}
	return out
}
