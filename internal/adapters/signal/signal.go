package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/app"
	"github.com/telecare/consult/internal/core"
	"github.com/telecare/consult/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the WebSocket side of signaling: it upgrades
// connections, decodes the event envelope, and hands validated events
// to the router. Identity arrives pre-resolved in the handshake query
// parameters; this layer trusts it (the auth collaborator's job).
type Controller struct {
	Router *app.Router
	Limits *RequestRateLimiter

	upgrader   websocket.Upgrader
	readLimit  int64
	pingPeriod time.Duration
}

func NewController(router *app.Router, limits *RequestRateLimiter, readLimit int64, pingPeriod time.Duration, allowedOrigins []string) *Controller {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Controller{
		Router: router,
		Limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
	}
}

// wsConn wraps one socket with a buffered outbound queue. A full queue
// fails TrySend instead of blocking the router.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// HandleSignal upgrades the request and runs the connection's pumps
// until either side goes away. A missing or malformed identity still
// gets a socket, just one that presence refuses to register.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	userID := domain.UserID(c.Query("userId"))
	role := domain.Role(c.Query("role"))
	device := c.GetString("client_token")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	client := core.NewClient(core.ConnID(uuid.NewString()), userID, role, conn)

	log.Info().Str("module", "signal").Str("conn", string(client.ID())).Str("user", string(userID)).Str("role", string(role)).Str("device", device).Msg("new WS connection")
	ctl.Router.Presence.Register(client)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, client.ID(), conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, client, conn)
	}()
}
