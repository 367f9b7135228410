package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout puts a deadline on each request's context and answers 504
// when the handler fails after that deadline has passed. Websocket upgrades
// are exempt.
//
// The handler runs on the request goroutine and always finishes before the
// middleware returns, so the echo.Context is never shared with a late
// writer. Store reads stop at the deadline; workflow writes detach from the
// request context, so a transition that reached the store completes and
// the handler then reports the timeout.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		Skipper: func(c echo.Context) bool { return c.IsWebSocket() },
		ErrorHandler: func(err error, c echo.Context) error {
			expired := errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(c.Request().Context().Err(), context.DeadlineExceeded)
			if !expired || c.Response().Committed {
				return err
			}
			return reject(http.StatusGatewayTimeout, "timeout", "request took longer than "+timeout.String())
		},
	})
}
