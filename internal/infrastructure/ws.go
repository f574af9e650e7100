package infra

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WSHandler serves one upgraded connection. It must return once ctx is done
// or the connection fails; the connection is closed afterwards.
type WSHandler func(ctx context.Context, c echo.Context, conn *websocket.Conn) error

// Websocket upgrades requests and keeps connections alive with pings
type Websocket struct {
	upgrader     websocket.Upgrader
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
}

// NewWebsocket create a Websocket with default timeouts. Browsers are only
// accepted from allowOrigins, "*" or no origins at all accepts any.
func NewWebsocket(allowOrigins ...string) *Websocket {
	pongWait := 30 * time.Second
	return &Websocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      checkOrigin(allowOrigins),
			HandshakeTimeout: 3 * time.Second,
		},
		WriteWait:    10 * time.Second,
		PongWait:     pongWait,
		PingInterval: pongWait * 9 / 10,
	}
}

func checkOrigin(allowOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || allowed[origin]
	}
}

// WithHeartbeat wrap handler function with heartbeat probe. A peer that
// stops answering pings fails the handler's next read.
func (ws *Websocket) WithHeartbeat(handler WSHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := ws.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader already replied with an error status
			return nil
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		conn.SetReadDeadline(time.Now().Add(ws.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(ws.PongWait))
		})
		go ws.heartbeatRoutine(ctx, conn)
		return handler(ctx, c, conn)
	}
}

// WriteJSON writes v with the configured write deadline
func (ws *Websocket) WriteJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(ws.WriteWait))
	return conn.WriteJSON(v)
}

// CloseNormal sends a close frame with reason, errors are ignored
func (ws *Websocket) CloseNormal(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ws.WriteWait))
}

func (ws *Websocket) heartbeatRoutine(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.WriteWait)); err != nil {
				conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
