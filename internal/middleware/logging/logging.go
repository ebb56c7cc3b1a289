// Package logging provides structured logging for outgoing HTTP requests.
package logging

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// redactedParams are query parameters that never reach the log
var redactedParams = []string{"apikey", "api_key", "key", "token"}

// roundTripper wraps an http.RoundTripper to log each request
type roundTripper struct {
	next   http.RoundTripper
	logger *slog.Logger
}

// Transport returns an http.RoundTripper that logs requests using structured
// logging at debug level. Failed requests are logged at warn level.
// The logged fields are:
// - method: HTTP method
// - host: target host
// - path: request path
// - query: query string with credentials redacted
// - status: response status code
// - bytes: response Content-Length when known
// - duration: round-trip duration
func Transport(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{next: next, logger: logger}
}

func (t *roundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(r)

	attrs := []any{
		"method", r.Method,
		"host", r.URL.Host,
		"path", r.URL.Path,
		"query", RedactQuery(r.URL.Query()),
		"duration", time.Since(start).String(),
	}

	if err != nil {
		t.logger.Warn("outgoing request failed", append(attrs, "error", err)...)
		return resp, err
	}

	t.logger.Debug("outgoing request", append(attrs,
		"status", resp.StatusCode,
		"bytes", resp.ContentLength,
	)...)
	return resp, nil
}

// RedactQuery encodes q with credential values replaced
func RedactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	redacted := make(url.Values, len(q))
	for k, v := range q {
		redacted[k] = v
	}
	for _, name := range redactedParams {
		if _, ok := redacted[name]; ok {
			redacted.Set(name, "REDACTED")
		}
	}
	return redacted.Encode()
}
