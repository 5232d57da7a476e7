package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/storage"
)

func newServer(t *testing.T, limiter *RateLimiter) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Store:    storage.New(nil, nil),
		Locks:    app.NewRoomLocks(),
		Policy:   app.SimplePolicy{},
	}
	ctl := NewSignalWSController(o, limiter)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(context.Background(), c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	return dialHeader(t, srv, nil)
}

func dialHeader(t *testing.T, srv *httptest.Server, h http.Header) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// expect reads until event arrives and decodes its payload into v.
func expect(t *testing.T, ws *websocket.Conn, event string, v any) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("Decode() err = %v", err)
		}
		if env.Event != event {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(env.Data, v); err != nil {
				t.Fatalf("unmarshal %s: %v", event, err)
			}
		}
		return
	}
}

func TestSignalJoinAndChat(t *testing.T) {
	srv := newServer(t, nil)
	a, b := dial(t, srv), dial(t, srv)

	send(t, a, protocol.EvJoinRoom, protocol.JoinRoom{RoomID: "r1", UserID: "alice", Username: "Alice"})
	var rd protocol.RoomData
	expect(t, a, protocol.EvRoomData, &rd)
	if !rd.IsOwner {
		t.Error("creator isOwner = false")
	}

	send(t, b, protocol.EvJoinRoom, protocol.JoinRoom{RoomID: "r1", UserID: "bob", Username: "Bob"})
	expect(t, b, protocol.EvRoomData, nil)
	var joined domain.Participant
	expect(t, a, protocol.EvUserJoined, &joined)
	if joined.UserID != "bob" {
		t.Errorf("userJoined = %s, want bob", joined.UserID)
	}

	send(t, b, protocol.EvSendMessage, map[string]any{"roomId": "r1", "author": "Bob", "userId": "bob", "text": "hi all"})
	var m domain.Message
	expect(t, a, protocol.EvNewMessage, &m)
	if m.Text != "hi all" || m.Kind != domain.KindUser {
		t.Errorf("newMessage = %+v", m)
	}

	b.Close()
	var left protocol.UserLeft
	expect(t, a, protocol.EvUserLeft, &left)
	if left.UserID != "bob" {
		t.Errorf("userLeft = %s, want bob", left.UserID)
	}
}

func TestSignalRejectsBadInput(t *testing.T) {
	srv := newServer(t, nil)
	ws := dial(t, srv)

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"garbage", `{not json`, protocol.CodeBadPayload},
		{"missing fields", `{"event":"joinRoom","data":{"roomId":"r1"}}`, protocol.CodeMissingFields},
		{"unknown event", `{"event":"dance","data":{}}`, protocol.CodeUnknownEvent},
		{"not joined", `{"event":"sendMessage","data":{"roomId":"r1","author":"A","userId":"a"}}`, protocol.CodeNotJoined},
		{"bad sdp", `{"event":"callOffer","data":{"roomId":"r1","targetUserId":"b","fromUserId":"a","offer":{"type":"offer","sdp":"nonsense"}}}`, protocol.CodeInvalidSDP},
		{"streaming off", `{"event":"audioData","data":{"audioData":"AAE="}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatal(err)
			}
			if tt.code == "" {
				var se protocol.StreamingError
				expect(t, ws, protocol.EvStreamingTranscriptionError, &se)
				if se.Error == "" {
					t.Error("empty streaming error")
				}
				return
			}
			var e protocol.ErrorPayload
			expect(t, ws, protocol.EvError, &e)
			if e.Code != tt.code {
				t.Errorf("error code = %q, want %q (%s)", e.Code, tt.code, e.Message)
			}
		})
	}

	send(t, ws, protocol.EvHeartbeat, protocol.Heartbeat{})
	expect(t, ws, protocol.EvHeartbeatResponse, nil)
}

func TestSignalRateLimit(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("round %d", i), func(t *testing.T) {
			srv := newServer(t, NewRateLimiter(2, time.Minute, time.Minute))
			ws := dial(t, srv)

			for j := 0; j < 3; j++ {
				send(t, ws, protocol.EvHeartbeat, protocol.Heartbeat{})
			}
			expect(t, ws, protocol.EvHeartbeatResponse, nil)
			expect(t, ws, protocol.EvHeartbeatResponse, nil)
			var e protocol.ErrorPayload
			expect(t, ws, protocol.EvError, &e)
			if e.Code != protocol.CodeRateLimited {
				t.Errorf("code = %q, want rate_limited", e.Code)
			}
			_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
			if _, _, err := ws.ReadMessage(); err == nil {
				t.Error("connection still open after rate limit")
			}
		})
	}
}

func TestSignalRateLimitIgnoresForwardedFor(t *testing.T) {
	srv := newServer(t, NewRateLimiter(1, time.Hour, time.Hour))

	first := dialHeader(t, srv, http.Header{"X-Forwarded-For": {"10.0.0.1"}})
	send(t, first, protocol.EvHeartbeat, protocol.Heartbeat{})
	expect(t, first, protocol.EvHeartbeatResponse, nil)

	second := dialHeader(t, srv, http.Header{"X-Forwarded-For": {"10.0.0.2"}})
	send(t, second, protocol.EvHeartbeat, protocol.Heartbeat{})
	var e protocol.ErrorPayload
	expect(t, second, protocol.EvError, &e)
	if e.Code != protocol.CodeRateLimited {
		t.Errorf("code = %q, want rate_limited", e.Code)
	}
}

func TestRateLimiterBlocks(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, 2*time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("Allow() #%d = false, want true", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("Allow() over budget = true")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other address limited")
	}

	// the bucket refills before the block ends
	now = now.Add(time.Minute)
	if !rl.Blocked("1.2.3.4") || rl.Allow("1.2.3.4") {
		t.Error("address unblocked before block period")
	}
	now = now.Add(2 * time.Minute)
	if rl.Blocked("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Error("address still blocked after block period")
	}

	now = now.Add(time.Hour)
	if n := rl.Prune(time.Minute); n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
}
