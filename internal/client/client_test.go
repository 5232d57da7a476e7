package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Meet/internal/protocol"
)

// script drives one server-side connection; n is its 1-based index.
type script func(n int, ws *websocket.Conn)

func newServer(t *testing.T, s script) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		s(int(conns.Add(1)), ws)
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func fastConfig(url string) Config {
	return Config{
		URL:                 url,
		HeartbeatInterval:   20 * time.Millisecond,
		AckTimeout:          60 * time.Millisecond,
		InitialBackoff:      5 * time.Millisecond,
		MaxBackoff:          20 * time.Millisecond,
		ForceReconnectDelay: 10 * time.Millisecond,
	}
}

func readEvent(ws *websocket.Conn, event string) (protocol.Envelope, error) {
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, err
		}
		env, err := protocol.Decode(data)
		if err == nil && env.Event == event {
			return env, nil
		}
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRejoinAfterDrop(t *testing.T) {
	joins := make(chan int, 4)
	srv, conns := newServer(t, func(n int, ws *websocket.Conn) {
		if _, err := readEvent(ws, protocol.EvJoinRoom); err != nil {
			return
		}
		joins <- n
		if n == 1 {
			return // drop the first connection right after the join
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := fastConfig(wsURL(srv))
	cfg.AckTimeout = time.Minute
	c := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	eventually(t, func() bool { return c.State() == StateConnected }, "first connect")
	if err := c.Join("r1", "alice", "Alice"); err != nil {
		t.Fatalf("Join() err = %v", err)
	}
	for want := 1; want <= 2; want++ {
		select {
		case got := <-joins:
			if got != want {
				t.Errorf("join on connection %d, want %d", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no join on connection %d", want)
		}
	}
	if conns.Load() != 2 {
		t.Errorf("connections = %d, want 2", conns.Load())
	}
}

func TestHeartbeatAckKeepsConnection(t *testing.T) {
	srv, conns := newServer(t, func(_ int, ws *websocket.Conn) {
		for {
			if _, err := readEvent(ws, protocol.EvHeartbeat); err != nil {
				return
			}
			frame, _ := protocol.Encode(protocol.EvHeartbeatResponse, protocol.HeartbeatResponse{Timestamp: protocol.Now()})
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	})

	c := New(fastConfig(wsURL(srv)))
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	time.Sleep(300 * time.Millisecond)
	cancel()

	if conns.Load() != 1 {
		t.Errorf("connections = %d, want 1 while acks arrive", conns.Load())
	}
}

func TestMissingAckReconnects(t *testing.T) {
	srv, conns := newServer(t, func(_ int, ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := New(fastConfig(wsURL(srv)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	eventually(t, func() bool { return conns.Load() >= 2 }, "reconnect after missing ack")
}

func TestForceDisconnectRunsCleanup(t *testing.T) {
	srv, conns := newServer(t, func(n int, ws *websocket.Conn) {
		if n == 1 {
			frame, _ := protocol.Encode(protocol.EvForceDisconnect, protocol.ForceDisconnect{Reason: "replaced"})
			_ = ws.WriteMessage(websocket.TextMessage, frame)
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := New(fastConfig(wsURL(srv)))
	var (
		mu      sync.Mutex
		order   []string
		cleaned atomic.Bool
	)
	c.On(protocol.EvForceDisconnect, func(protocol.Envelope) {
		mu.Lock()
		order = append(order, "handler")
		mu.Unlock()
	})
	c.OnForceDisconnect(func() {
		mu.Lock()
		order = append(order, "cleanup")
		mu.Unlock()
		cleaned.Store(true)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	eventually(t, func() bool { return cleaned.Load() && conns.Load() >= 2 }, "cleanup and reconnect")
	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 || order[0] != "handler" || order[1] != "cleanup" {
		t.Errorf("order = %v, want handler then cleanup", order)
	}
}

func TestLocalModeAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(fastConfig(wsURL(srv)))
	err := c.Run(context.Background())
	if !errors.Is(err, ErrLocalMode) {
		t.Fatalf("Run() err = %v, want ErrLocalMode", err)
	}
	if c.State() != StateLocal {
		t.Errorf("State() = %v, want local", c.State())
	}
	if got := attempts.Load(); got != 6 {
		t.Errorf("dial attempts = %d, want 1 + 5 retries", got)
	}
	if err := c.Send(protocol.EvHeartbeat, protocol.Heartbeat{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() in local mode err = %v", err)
	}
}

func TestBackoffSchedule(t *testing.T) {
	c := New(Config{URL: "ws://unused"})
	bo := c.newBackOff()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := bo.NextBackOff(); got != w {
			t.Errorf("NextBackOff() #%d = %v, want %v", i, got, w)
		}
	}
	if got := bo.NextBackOff(); got != -1 {
		t.Errorf("NextBackOff() after 5 = %v, want Stop", got)
	}
}
