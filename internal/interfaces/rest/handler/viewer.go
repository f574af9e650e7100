package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/infrastructure/auth"
)

// GuestPrefix prefixes viewer ids of requests without a wallet token
const GuestPrefix = "guest:"

// ViewerID identifies who is watching: the token's wallet, or the client
// address for guests. Requires a token middleware to have run first.
func ViewerID(c echo.Context, ju *auth.JWTUtil) string {
	if claims := ju.GetContextToken(c); claims != nil {
		return claims.Wallet
	}
	return GuestPrefix + c.RealIP()
}
