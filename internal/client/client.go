// Package client is a reconnecting event channel client. It keeps a heartbeat,
// re-joins its last room after every reconnect and gives up into a local-only
// mode when the server stays unreachable.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

var (
	ErrNotConnected = errors.New("client: not connected")
	ErrLocalMode    = errors.New("client: reconnect attempts exhausted, running local only")
)

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateLocal
)

type Config struct {
	URL    string
	Header http.Header

	HeartbeatInterval   time.Duration
	AckTimeout          time.Duration
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	MaxAttempts         uint64
	ForceReconnectDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 30 * time.Second
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.ForceReconnectDelay == 0 {
		c.ForceReconnectDelay = time.Second
	}
}

// Handler receives every inbound envelope of one event.
type Handler func(env protocol.Envelope)

type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	lastJoin *protocol.JoinRoom
	handlers map[string][]Handler
	cleanup  []func()

	wmu sync.Mutex
}

func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handlers: make(map[string][]Handler),
	}
}

// On registers h for event. Handlers run on the read goroutine.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.mu.Unlock()
}

// OnForceDisconnect registers local cleanup run before a forced reconnect,
// typically hanging up an active call.
func (c *Client) OnForceDisconnect(fn func()) {
	c.mu.Lock()
	c.cleanup = append(c.cleanup, fn)
	c.mu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send writes one event. It fails fast while disconnected.
func (c *Client) Send(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Join remembers the room for later re-joins and sends the join when connected.
func (c *Client) Join(roomID domain.RoomID, userID domain.UserID, username string) error {
	req := &protocol.JoinRoom{RoomID: roomID, UserID: userID, Username: username}
	if err := req.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastJoin = req
	c.mu.Unlock()
	return c.Send(protocol.EvJoinRoom, req)
}

func (c *Client) Leave() error {
	c.mu.Lock()
	last := c.lastJoin
	c.lastJoin = nil
	c.mu.Unlock()
	if last == nil {
		return nil
	}
	return c.Send(protocol.EvLeaveRoom, protocol.LeaveRoom{RoomID: last.RoomID, UserID: last.UserID})
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.Multiplier = 2
	b.MaxInterval = c.cfg.MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, c.cfg.MaxAttempts)
}

// Run connects and keeps the connection alive until ctx is done. It returns
// ErrLocalMode once every reconnect attempt has failed.
func (c *Client) Run(ctx context.Context) error {
	bo := c.newBackOff()
	var wait time.Duration
	retry := false
	for {
		if retry {
			d := bo.NextBackOff()
			if d == backoff.Stop {
				c.setState(StateLocal)
				log.Warn().Str("module", "client").Msg("server unreachable, switching to local mode")
				return ErrLocalMode
			}
			wait = d
		}
		if wait > 0 {
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
		}
		retry, wait = true, 0

		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Str("module", "client").Msg("dial failed")
			continue
		}
		bo.Reset()
		c.attach(conn)

		switch reason := c.serve(ctx, conn); reason {
		case exitStopped:
			return ctx.Err()
		case exitForced:
			c.runCleanup()
			retry, wait = false, c.cfg.ForceReconnectDelay
		case exitRateLimited:
			retry, wait = false, c.cfg.MaxBackoff
		default:
			log.Info().Str("module", "client").Str("reason", reason.String()).Msg("connection lost, reconnecting")
		}
	}
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	join := c.lastJoin
	c.mu.Unlock()
	log.Info().Str("module", "client").Str("url", c.cfg.URL).Msg("connected")
	if join != nil {
		if err := c.Send(protocol.EvJoinRoom, join); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("rejoin")
		}
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) runCleanup() {
	c.mu.Lock()
	hooks := append([]func(){}, c.cleanup...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[env.Event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
