package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

// AbortRequestOption .
type AbortRequestOption struct {
	Timeout time.Duration
}

// AbortRequest cancels the request context once Timeout elapses, handlers
// see it through c.Request().Context(). Zero disables it.
func AbortRequest(option *AbortRequestOption) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if option == nil || option.Timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), option.Timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
