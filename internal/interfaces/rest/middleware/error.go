package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/interfaces/rest/handler"
	"go.uber.org/zap"
)

// ErrorHandlingOption options for error handling
type ErrorHandlingOption struct {
	Handler func(c echo.Context, traceID string, err error)
	Logger  *zap.Logger
}

// ErrorHandling renders errors and recovered panics returned from handlers
// as RESTStandardError. **DO NOT return error anymore**
func ErrorHandling(options ...*ErrorHandlingOption) echo.MiddlewareFunc {
	custom := &ErrorHandlingOption{
		Handler: func(c echo.Context, traceID string, err error) {
			c.JSON(http.StatusInternalServerError,
				handler.NewRESTStandardError(http.StatusInternalServerError, err.Error()).SetTraceID(traceID),
			)
		},
		Logger: zap.NewNop(),
	}
	if len(options) > 0 {
		option := options[0]
		if option.Handler != nil {
			custom.Handler = option.Handler
		}
		if option.Logger != nil {
			custom.Logger = option.Logger
		}
	}
	reply := custom.Handler
	logger := custom.Logger
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if any := recover(); any != nil {
					traceID := handler.TraceID(c)
					err, ok := any.(error)
					if !ok {
						err = fmt.Errorf("%v", any)
					}
					logger.Error(err.Error(),
						zap.String("url.path", c.Request().RequestURI),
						zap.String("client.address", c.Request().RemoteAddr),
						zap.String("http.request.method", c.Request().Method),
						zap.Strings("route.params.name", c.ParamNames()),
						zap.Strings("route.params.value", c.ParamValues()),
						zap.String("trace.id", traceID),
						zap.Stack("error.stack_trace"),
					)
					if !c.Response().Committed {
						reply(c, traceID, err)
					}
				}
			}()
			err := next(c)
			if err == nil || c.Response().Committed {
				return nil
			}
			traceID := handler.TraceID(c)
			if he, ok := err.(*echo.HTTPError); ok {
				detail := fmt.Sprintf("%v", he.Message)
				c.JSON(he.Code, handler.NewRESTStandardError(he.Code, detail).SetTraceID(traceID))
				return nil
			}
			logger.Error(err.Error(), zap.String("url.path", c.Request().RequestURI), zap.String("trace.id", traceID))
			reply(c, traceID, err)
			return nil
		}
	}
}
