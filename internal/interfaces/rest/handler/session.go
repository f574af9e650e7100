package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/access"
	"github.com/pot-code/lecture-gate/internal/infrastructure/auth"
	"github.com/pot-code/lecture-gate/internal/infrastructure/validate"
	"github.com/pot-code/lecture-gate/internal/lecture"
	"github.com/pot-code/lecture-gate/internal/payment"
	"github.com/prometheus/client_golang/prometheus"
)

// SessionHandler lecture access sessions.
//
// A session ID is only handed to the viewer that opened it, so holding the ID
// is enough to drive the session.
type SessionHandler struct {
	registry       *access.Registry
	lectureUseCase lecture.LectureUseCase
	jwtUtil        *auth.JWTUtil
	validator      validate.Validator
	outcomes       *prometheus.CounterVec
}

type openSessionRequest struct {
	LectureID string `json:"lecture_id" validate:"required,max=128"`
}

// toast wording shown to viewers
const (
	ToastWalletRequired  = "Connect your wallet to unlock lectures."
	ToastPaymentFailed   = "Payment failed."
	ToastTooManyAttempts = "Too many attempts, try again later."
)

// UnlockResponse unlock outcome with the abbreviated transaction hash shown
// in the confirmation toast, Message is the toast for a failed payment
type UnlockResponse struct {
	access.UnlockResult
	ShortHash string `json:"short_hash,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewSessionHandler outcomes counts unlock outcomes by status, may be nil
func NewSessionHandler(
	Registry *access.Registry,
	LectureUseCase lecture.LectureUseCase,
	JWTUtil *auth.JWTUtil,
	Validator validate.Validator,
	outcomes *prometheus.CounterVec,
) *SessionHandler {
	return &SessionHandler{Registry, LectureUseCase, JWTUtil, Validator, outcomes}
}

// HandleOpen POST /sessions, 201 for a new session, 200 when the lecture is
// already open for this viewer
func (sh *SessionHandler) HandleOpen(c echo.Context) error {
	req := new(openSessionRequest)
	if err := c.Bind(req); err != nil {
		return replyError(c, http.StatusUnprocessableEntity, "Failed to bind session request")
	}
	if err := sh.validator.Struct(req); err != nil {
		return replyInvalid(c, "Failed to validate fields", err)
	}

	item, err := sh.lectureUseCase.Get(c.Request().Context(), req.LectureID)
	if errors.Is(err, lecture.ErrLectureNotFound) {
		return replyError(c, http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}

	session, created, err := sh.registry.Open(ViewerID(c, sh.jwtUtil), access.Lecture{
		ID:       item.ID,
		MediaRef: item.MediaRef,
	})
	if err != nil {
		return err
	}
	if created {
		return c.JSON(http.StatusCreated, session.View())
	}
	return c.JSON(http.StatusOK, session.View())
}

// HandleGet GET /sessions/:id
func (sh *SessionHandler) HandleGet(c echo.Context) error {
	session, err := sh.registry.Get(c.Param("id"))
	if err != nil {
		return replyError(c, http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, session.View())
}

// HandlePreview POST /sessions/:id/preview, starts or replays the free preview
func (sh *SessionHandler) HandlePreview(c echo.Context) error {
	session, err := sh.registry.Get(c.Param("id"))
	if err != nil {
		return replyError(c, http.StatusNotFound, err.Error())
	}
	view, err := session.RequestPreview()
	if err != nil {
		return replyError(c, PreviewErrorStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, view)
}

// HandleUnlock POST /sessions/:id/unlock, must be chained after VerifyToken
func (sh *SessionHandler) HandleUnlock(c echo.Context) error {
	session, err := sh.registry.Get(c.Param("id"))
	if err != nil {
		return replyError(c, http.StatusNotFound, err.Error())
	}
	ctx := c.Request().Context()
	if claims := sh.jwtUtil.GetContextToken(c); claims != nil {
		ctx = payment.WithPayer(ctx, claims.Wallet)
	}
	res := Unlock(ctx, session, sh.outcomes)
	return c.JSON(UnlockStatusCode(res.Status), res)
}

// HandleClose DELETE /sessions/:id, collapsing the lecture discards its session
func (sh *SessionHandler) HandleClose(c echo.Context) error {
	if err := sh.registry.Close(c.Param("id")); err != nil {
		return replyError(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Unlock runs the payment and counts its outcome
func Unlock(ctx context.Context, session *access.Session, outcomes *prometheus.CounterVec) *UnlockResponse {
	res := session.RequestUnlock(ctx)
	if outcomes != nil {
		outcomes.WithLabelValues(string(res.Status)).Inc()
	}
	resp := &UnlockResponse{UnlockResult: res, Message: UnlockMessage(res)}
	if res.Receipt != nil {
		resp.ShortHash = payment.ShortHash(res.Receipt.TxHash)
	}
	return resp
}

// UnlockMessage toast for a failed unlock, empty otherwise
func UnlockMessage(res access.UnlockResult) string {
	if res.Status != access.UnlockFailed {
		return ""
	}
	if errors.Is(res.Err, payment.ErrWalletRequired) {
		return ToastWalletRequired
	}
	return ToastPaymentFailed
}

// PreviewErrorStatus maps RequestPreview errors to HTTP status codes
func PreviewErrorStatus(err error) int {
	switch {
	case errors.Is(err, access.ErrMediaUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, access.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, access.ErrSessionClosed):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// UnlockStatusCode maps unlock outcomes to HTTP status codes
func UnlockStatusCode(status access.UnlockStatus) int {
	switch status {
	case access.UnlockSucceeded, access.UnlockAlready:
		return http.StatusOK
	case access.UnlockBusy:
		return http.StatusConflict
	case access.UnlockFailed:
		return http.StatusPaymentRequired
	case access.UnlockUnavailable:
		return http.StatusUnprocessableEntity
	case access.UnlockClosed:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
