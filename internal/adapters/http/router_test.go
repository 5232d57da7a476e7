package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/storage"
	"github.com/dkeye/Meet/internal/transcribe"
)

func newRouter(t *testing.T) (*gin.Engine, *storage.Storage) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := storage.New(nil, nil)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Store:    store,
		Locks:    app.NewRoomLocks(),
	}
	cfg := &config.Config{Mode: "test", Secret: "s"}
	r := SetupRouter(context.Background(), cfg, Deps{
		Orch:  o,
		Store: store,
		Xfyun: transcribe.NewXfyunRelay(transcribe.XfyunConfig{AppID: "app", APIKey: "k"}),
	})
	return r, store
}

func get(t *testing.T, r http.Handler, path string, v any) int {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
			t.Fatalf("GET %s body: %v", path, err)
		}
	}
	return w.Code
}

func TestHealth(t *testing.T) {
	r, _ := newRouter(t)
	var body map[string]any
	if code := get(t, r, "/api/health", &body); code != http.StatusOK {
		t.Fatalf("GET /api/health = %d", code)
	}
	if body["status"] != "ok" || body["database"] != "disconnected" {
		t.Errorf("health = %v", body)
	}

	body = nil
	get(t, r, "/health", &body)
	if body["transcription_service"] != "not-configured" {
		t.Errorf("service health = %v", body)
	}

	body = nil
	get(t, r, "/api/xfyun/status", &body)
	if body["configured"] != true || body["appId"] != "app" {
		t.Errorf("xfyun status = %v", body)
	}
}

func TestRoomMessages(t *testing.T) {
	r, store := newRouter(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = store.SaveMessage(ctx, &domain.Message{RoomID: "r1", Kind: domain.KindUser, Author: "A", UserID: "a", Text: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	tests := []struct {
		name  string
		path  string
		code  int
		count int
		first string
	}{
		{"default limit", "/api/rooms/r1/messages", http.StatusOK, 5, "a"},
		{"limited keeps newest", "/api/rooms/r1/messages?limit=2", http.StatusOK, 2, "d"},
		{"empty room", "/api/rooms/none/messages", http.StatusOK, 0, ""},
		{"bad limit", "/api/rooms/r1/messages?limit=abc", http.StatusBadRequest, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Messages []domain.Message `json:"messages"`
			}
			code := get(t, r, tt.path, &body)
			if code != tt.code {
				t.Fatalf("GET %s = %d, want %d", tt.path, code, tt.code)
			}
			if code != http.StatusOK {
				return
			}
			if len(body.Messages) != tt.count {
				t.Fatalf("messages = %d, want %d", len(body.Messages), tt.count)
			}
			if tt.count > 0 && body.Messages[0].Text != tt.first {
				t.Errorf("first = %q, want %q", body.Messages[0].Text, tt.first)
			}
		})
	}
}

func TestRoomParticipants(t *testing.T) {
	r, store := newRouter(t)
	_ = store.UpsertParticipant(context.Background(), &domain.Participant{RoomID: "r1", UserID: "a", Name: "A", Status: domain.StatusOnline})

	var body struct {
		Participants []domain.Participant `json:"participants"`
	}
	if code := get(t, r, "/api/rooms/r1/participants", &body); code != http.StatusOK {
		t.Fatalf("GET participants = %d", code)
	}
	if len(body.Participants) != 1 || body.Participants[0].UserID != "a" {
		t.Errorf("participants = %+v", body.Participants)
	}
}

func TestClientTokenCookie(t *testing.T) {
	r, _ := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("ct cookie not issued")
	}
}

func TestTranscriptionHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"transcripts":[]}`))
	}))
	t.Cleanup(provider.Close)

	tests := []struct {
		name     string
		assembly *transcribe.AssemblyDialer
		code     int
		status   string
	}{
		{"reachable", transcribe.NewAssemblyDialer(transcribe.AssemblyConfig{APIURL: provider.URL, APIKey: "good"}), http.StatusOK, "ok"},
		{"rejected key", transcribe.NewAssemblyDialer(transcribe.AssemblyConfig{APIURL: provider.URL, APIKey: "bad"}), http.StatusInternalServerError, "error"},
		{"no key", transcribe.NewAssemblyDialer(transcribe.AssemblyConfig{APIURL: provider.URL}), http.StatusServiceUnavailable, "error"},
		{"no provider", nil, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.New(nil, nil)
			o := &orch.Orchestrator{Registry: app.NewRegistry(), Store: store, Locks: app.NewRoomLocks()}
			r := SetupRouter(context.Background(), &config.Config{Mode: "test", Secret: "s"}, Deps{Orch: o, Store: store, Assembly: tt.assembly})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transcription/health", nil))
			if w.Code != tt.code {
				t.Fatalf("GET /api/transcription/health = %d, want %d", w.Code, tt.code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("body: %v", err)
			}
			if body["status"] != tt.status {
				t.Errorf("status = %v, want %s", body["status"], tt.status)
			}
		})
	}
}

func TestClientIPIgnoresForwardedFor(t *testing.T) {
	r, _ := newRouter(t)
	r.GET("/ip", func(c *gin.Context) { c.String(http.StatusOK, c.ClientIP()) })

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.Header.Set("X-Forwarded-For", "10.9.8.7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Body.String(); got != "192.0.2.1" {
		t.Errorf("ClientIP() = %q, want the socket address 192.0.2.1", got)
	}
}
