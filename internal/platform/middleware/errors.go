package middleware

import (
	"github.com/labstack/echo/v4"
)

// reject builds the JSON error body the API handlers use, so clients see one
// shape whether a request was stopped here or by a domain handler.
func reject(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, map[string]string{
		"error":   code,
		"message": message,
	})
}
