package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/infrastructure/auth"
	"github.com/pot-code/lecture-gate/internal/infrastructure/driver"
	"github.com/pot-code/lecture-gate/internal/infrastructure/validate"
	"go.uber.org/zap"
)

// AuthHandler wallet connection. The browser wallet proves ownership of the
// address, the server only issues the viewer token.
type AuthHandler struct {
	jwtUtil   *auth.JWTUtil
	kv        driver.KeyValueDB
	validator validate.Validator
	logger    *zap.Logger
}

type connectRequest struct {
	Wallet string `json:"wallet" validate:"required,eth_addr"`
	Name   string `json:"name" validate:"max=64"`
}

// ConnectResponse .
type ConnectResponse struct {
	Token  string `json:"token"`
	Wallet string `json:"wallet"`
}

// NewAuthHandler .
func NewAuthHandler(JWTUtil *auth.JWTUtil, KVStore driver.KeyValueDB, Validator validate.Validator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{JWTUtil, KVStore, Validator, logger}
}

// RevokedTokenKey KV key marking a signed-out token
func RevokedTokenKey(token string) string {
	return "revoked:" + token
}

// HandleConnect POST /auth/connect
func (ah *AuthHandler) HandleConnect(c echo.Context) error {
	req := new(connectRequest)
	if err := c.Bind(req); err != nil {
		return replyError(c, http.StatusUnprocessableEntity, "Failed to bind wallet")
	}
	if err := ah.validator.Struct(req); err != nil {
		return replyInvalid(c, "Failed to validate fields", err)
	}

	token, err := ah.jwtUtil.GenerateTokenStr(req.Wallet, req.Name)
	if err != nil {
		return err
	}
	claims, err := ah.jwtUtil.Validate(token)
	if err != nil {
		return err
	}
	ah.jwtUtil.SetClientToken(c, token)
	return c.JSON(http.StatusOK, &ConnectResponse{Token: token, Wallet: claims.Wallet})
}

// HandleDisconnect PUT /auth/disconnect, revokes the token until it would
// have expired anyway. Must be chained after VerifyToken.
func (ah *AuthHandler) HandleDisconnect(c echo.Context) error {
	ju := ah.jwtUtil
	claims := ju.GetContextToken(c)
	token, err := ju.ExtractToken(c)
	if err != nil || claims == nil {
		return c.NoContent(http.StatusUnauthorized)
	}

	if ttl := claims.TimeRemaining(); ttl > 0 {
		if err := ah.kv.SetEX(c.Request().Context(), RevokedTokenKey(token), claims.Wallet, ttl); err != nil {
			return err
		}
	}
	ju.ClearClientToken(c)
	ah.logger.Debug("Wallet disconnected", zap.String("wallet", claims.Wallet))
	return c.NoContent(http.StatusOK)
}
