// Package signal serves the event channel over websocket.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
)

const (
	DefaultSendBuffer = 64
	DefaultReadLimit  = 1 << 20
	DefaultPingPeriod = 54 * time.Second
	writeWait         = 5 * time.Second
)

type SignalWSController struct {
	Orch       *orch.Orchestrator
	Limiter    *RateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RateLimiter) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		Limiter:    limiter,
		ReadLimit:  DefaultReadLimit,
		PingPeriod: DefaultPingPeriod,
		SendBuffer: DefaultSendBuffer,
	}
}

// WsSignalConn is the SignalConnection of one websocket. Close only stops
// the queue; the write pump flushes what is queued and closes the socket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (ctl *SignalWSController) pingPeriod() time.Duration {
	if ctl.PingPeriod <= 0 {
		return DefaultPingPeriod
	}
	return ctl.PingPeriod
}

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := core.ClientToken(c.GetString("client_token"))
	// the raw peer address: forwarded headers are client controlled
	addr := c.RemoteIP()
	if ctl.Limiter != nil && ctl.Limiter.Blocked(addr) {
		log.Warn().Str("module", "signal").Str("addr", addr).Msg("blocked address refused")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}

	ws, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := core.NewConnID()
	conn := &WsSignalConn{conn: ws, send: make(chan core.Frame, ctl.SendBuffer)}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.Register(id, token, conn, cancel)
	log.Info().Str("module", "signal").Str("sid", string(token)).Str("conn_id", string(id)).Str("addr", addr).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, addr, conn)
}
