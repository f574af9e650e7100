package handler

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/access"
	infra "github.com/pot-code/lecture-gate/internal/infrastructure"
	"github.com/pot-code/lecture-gate/internal/infrastructure/auth"
	"github.com/pot-code/lecture-gate/internal/infrastructure/logging"
	"github.com/pot-code/lecture-gate/internal/payment"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// stream client actions
const (
	ActionPreview = "preview"
	ActionUnlock  = "unlock"
	ActionView    = "view"
)

// stream message types
const (
	MessageView   = "view"
	MessageEvent  = "event"
	MessageUnlock = "unlock"
	MessageError  = "error"
)

// StreamCommand sent by the client
type StreamCommand struct {
	Action string `json:"action"`
}

// StreamMessage sent to the client
type StreamMessage struct {
	Type   string          `json:"type"`
	Action string          `json:"action,omitempty"`
	View   *access.View    `json:"view,omitempty"`
	Event  *access.Event   `json:"event,omitempty"`
	Unlock *UnlockResponse `json:"unlock,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnlockLimiter takes a token from key's bucket, false when it is empty
type UnlockLimiter interface {
	Allow(key string) bool
}

// StreamOption .
type StreamOption struct {
	// Outcomes counts unlock outcomes by status, may be nil
	Outcomes *prometheus.CounterVec
	// Limiter is shared with the REST unlock route, may be nil
	Limiter UnlockLimiter
	// Rejected counts rate limited unlocks, may be nil
	Rejected prometheus.Counter
	// Revoked reports whether the viewer's token was revoked after the
	// stream connected, may be nil
	Revoked           func(ctx context.Context, token string) (bool, error)
	PaymentTimeout    time.Duration
	CloseOnDisconnect bool
}

// StreamHandler pushes session events over a websocket and accepts the
// preview and unlock commands
type StreamHandler struct {
	registry  *access.Registry
	jwtUtil   *auth.JWTUtil
	websocket *infra.Websocket
	option    StreamOption
}

// streamViewer who connected the stream, claims is nil for guests
type streamViewer struct {
	id     string
	claims *auth.AppTokenClaims
	token  string
}

// NewStreamHandler .
func NewStreamHandler(
	Registry *access.Registry,
	JWTUtil *auth.JWTUtil,
	Websocket *infra.Websocket,
	option *StreamOption,
) *StreamHandler {
	return &StreamHandler{Registry, JWTUtil, Websocket, *option}
}

// HandleStream GET /ws/sessions/:id.
//
// Only this goroutine writes to conn. The first message is the current view.
func (sh *StreamHandler) HandleStream(ctx context.Context, c echo.Context, conn *websocket.Conn) error {
	ws := sh.websocket
	logger := logging.ExtractLoggerFromContext(c.Request().Context())

	session, err := sh.registry.Get(c.Param("id"))
	if err != nil {
		ws.CloseNormal(conn, err.Error())
		return nil
	}
	logger = logger.With(zap.String("session.id", session.ID()))

	events, unsubscribe := session.Subscribe(0)
	defer unsubscribe()
	if sh.option.CloseOnDisconnect {
		defer func() {
			if err := sh.registry.Close(session.ID()); err == nil {
				logger.Debug("Session closed on disconnect")
			}
		}()
	}

	viewer := &streamViewer{id: ViewerID(c, sh.jwtUtil), claims: sh.jwtUtil.GetContextToken(c)}
	if viewer.claims != nil {
		viewer.token, _ = sh.jwtUtil.ExtractToken(c)
	}

	commands := make(chan StreamCommand)
	readErr := make(chan error, 1)
	go func() {
		for {
			var cmd StreamCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				readErr <- err
				return
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()

	unlocks := make(chan *UnlockResponse)
	view := session.View()
	if err := ws.WriteJSON(conn, &StreamMessage{Type: MessageView, View: &view}); err != nil {
		return err
	}
	for {
		var msg *StreamMessage
		select {
		case event, ok := <-events:
			if !ok {
				ws.CloseNormal(conn, access.ErrSessionClosed.Error())
				return nil
			}
			msg = &StreamMessage{Type: MessageEvent, Event: &event}
		case res := <-unlocks:
			msg = &StreamMessage{Type: MessageUnlock, Action: ActionUnlock, Unlock: res}
		case cmd := <-commands:
			msg = sh.dispatch(ctx, logger, session, viewer, cmd, unlocks)
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Stream read failed", zap.Error(err))
			}
			return nil
		case <-ctx.Done():
			return nil
		}
		if msg == nil {
			continue
		}
		if err := ws.WriteJSON(conn, msg); err != nil {
			return err
		}
	}
}

// dispatch runs cmd. Unlocks resolve in the background and are delivered
// on unlocks, so events keep flowing while the payment is pending.
func (sh *StreamHandler) dispatch(
	ctx context.Context,
	logger *zap.Logger,
	session *access.Session,
	viewer *streamViewer,
	cmd StreamCommand,
	unlocks chan<- *UnlockResponse,
) *StreamMessage {
	switch cmd.Action {
	case ActionView:
		view := session.View()
		return &StreamMessage{Type: MessageView, Action: cmd.Action, View: &view}
	case ActionPreview:
		view, err := session.RequestPreview()
		if err != nil {
			return &StreamMessage{Type: MessageError, Action: cmd.Action, View: &view, Error: err.Error()}
		}
		return nil // preview_started event carries the view
	case ActionUnlock:
		if reason := sh.authorizeUnlock(ctx, logger, viewer); reason != "" {
			return &StreamMessage{Type: MessageError, Action: cmd.Action, Error: reason}
		}
		go func() {
			payCtx, cancel := context.WithTimeout(payment.WithPayer(ctx, viewer.claims.Wallet), sh.option.PaymentTimeout)
			defer cancel()
			res := Unlock(payCtx, session, sh.option.Outcomes)
			select {
			case unlocks <- res:
			case <-ctx.Done():
			}
		}()
		return nil
	}
	return &StreamMessage{Type: MessageError, Action: cmd.Action, Error: "unknown action"}
}

// authorizeUnlock applies the REST unlock route's checks to a stream
// command, returns the toast to show when the unlock may not start
func (sh *StreamHandler) authorizeUnlock(ctx context.Context, logger *zap.Logger, viewer *streamViewer) string {
	if viewer.claims == nil || viewer.claims.TimeRemaining() <= 0 {
		return ToastWalletRequired
	}
	if sh.option.Revoked != nil {
		revoked, err := sh.option.Revoked(ctx, viewer.token)
		if err != nil {
			logger.Error("Failed to check token revocation", zap.Error(err))
			return ToastPaymentFailed
		}
		if revoked {
			return ToastWalletRequired
		}
	}
	if sh.option.Limiter != nil && !sh.option.Limiter.Allow(viewer.id) {
		if sh.option.Rejected != nil {
			sh.option.Rejected.Inc()
		}
		return ToastTooManyAttempts
	}
	return ""
}
