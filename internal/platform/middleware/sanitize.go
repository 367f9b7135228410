package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValueSize = 8 << 10

var (
	sqlPattern    = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1)`)
	scriptPattern = regexp.MustCompile(`(?i)(<script|javascript\s*:|\bon\w+\s*=)`)
)

// Sanitize answers 400 for path traversal, null bytes, header injection and
// script payloads in the query string. SQL-looking parameters pass through
// with a warning.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if reason := inspect(req); reason != "" {
				return reject(http.StatusBadRequest, "invalid_request", reason)
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					if sqlPattern.MatchString(v) {
						logger.Warn().
							Str("param", key).
							Str("path", req.URL.Path).
							Str("remote_ip", c.RealIP()).
							Msg("suspicious query parameter")
					}
				}
			}
			return next(c)
		}
	}
}

// inspect returns why req should be refused, or "" when it is acceptable.
func inspect(req *http.Request) string {
	paths := []string{req.URL.Path, req.URL.RawPath}
	for _, p := range paths {
		if hasTraversal(p) {
			return "path traversal in request path"
		}
		if hasNullByte(p) {
			return "null byte in request path"
		}
	}

	for name, values := range req.Header {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header " + name + " is too large"
			}
			if strings.ContainsAny(v, "\r\n") {
				return "line break in header " + name
			}
		}
	}

	for key, values := range req.URL.Query() {
		if hasNullByte(key) || scriptPattern.MatchString(key) {
			return "query parameter name is not allowed"
		}
		for _, v := range values {
			if hasNullByte(v) {
				return "null byte in query parameter " + key
			}
			if scriptPattern.MatchString(v) {
				return "script content in query parameter " + key
			}
		}
	}
	return ""
}

func hasTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") ||
		strings.Contains(lower, "%2e%2e") ||
		strings.Contains(lower, "%252e")
}

func hasNullByte(s string) bool {
	return strings.ContainsRune(s, 0) || strings.Contains(strings.ToLower(s), "%00")
}
