package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/infrastructure/auth"
)

// ValidateTokenOption ...
type ValidateTokenOption struct {
	InBlackList func(c echo.Context, token string) (bool, error)
	// Optional lets requests without a valid token through as guests
	Optional bool
}

// RefreshTokenOption ...
type RefreshTokenOption struct {
	Threshold time.Duration
}

// VerifyToken validate JWT
func VerifyToken(ju *auth.JWTUtil, options ...*ValidateTokenOption) echo.MiddlewareFunc {
	inBlacklist := func(echo.Context, string) (bool, error) { return false, nil }
	optional := false
	if len(options) > 0 {
		option := options[0]
		if option.InBlackList != nil {
			inBlacklist = option.InBlackList
		}
		optional = option.Optional
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reject := func() error {
				if optional {
					return next(c)
				}
				return c.NoContent(http.StatusUnauthorized)
			}

			tokenStr, err := ju.ExtractToken(c)
			if err != nil {
				return reject()
			}

			if ok, err := inBlacklist(c, tokenStr); err != nil {
				return err
			} else if ok {
				return reject()
			}

			token, err := ju.Validate(tokenStr)
			if err != nil {
				return reject()
			}
			ju.SetContextToken(c, token)
			return next(c)
		}
	}
}

// RequireViewer rejects requests that got through an optional VerifyToken
// without a token
func RequireViewer(ju *auth.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ju.GetContextToken(c) == nil {
				return c.NoContent(http.StatusUnauthorized)
			}
			return next(c)
		}
	}
}

// RefreshToken refresh jwt if necessary, must be chained after VerifyToken
func RefreshToken(ju *auth.JWTUtil, options ...*RefreshTokenOption) echo.MiddlewareFunc {
	threshold := 5 * time.Minute
	if len(options) > 0 {
		if option := options[0]; option.Threshold > 0 {
			threshold = option.Threshold
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ju.GetContextToken(c)
			if claims == nil {
				return next(c)
			}
			if claims.TimeRemaining() < threshold {
				ju.RefreshToken(claims)
				tokenStr, err := ju.Sign(claims)
				if err != nil {
					return err
				}
				ju.SetClientToken(c, tokenStr)
			}
			return next(c)
		}
	}
}
