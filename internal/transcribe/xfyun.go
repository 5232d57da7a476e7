package transcribe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const DefaultXfyunURL = "ws://rtasr.xfyun.cn/v1/ws"

// Frame status values of the provider's framing.
const (
	FrameFirst  = 0
	FrameMiddle = 1
	FrameLast   = 2
)

type XfyunConfig struct {
	URL    string
	AppID  string
	APIKey string
}

func (c XfyunConfig) Configured() bool { return c.AppID != "" && c.APIKey != "" }

// SignedURL builds the handshake URL: an HMAC-SHA256 over host, date and
// request line, wrapped in a base64 authorization parameter.
func (c XfyunConfig) SignedURL(now time.Time) (string, error) {
	raw := c.URL
	if raw == "" {
		raw = DefaultXfyunURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("xfyun url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	date := now.UTC().Format(http.TimeFormat)
	origin := fmt.Sprintf("host: %s\ndate: %s\nGET %s HTTP/1.1", u.Host, date, path)

	mac := hmac.New(sha256.New, []byte(c.APIKey))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authorization := fmt.Sprintf(`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`, c.APIKey, signature)
	q := u.Query()
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(authorization)))
	q.Set("date", date)
	q.Set("host", u.Host)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type xfyunCommon struct {
	AppID string `json:"app_id"`
}

type xfyunBusiness struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent"`
	VInfo    int    `json:"vinfo"`
	VadEOS   int    `json:"vad_eos"`
}

type xfyunData struct {
	Status   int    `json:"status"`
	Format   string `json:"format"`
	Audio    string `json:"audio"`
	Encoding string `json:"encoding"`
}

type XfyunFrame struct {
	Common   *xfyunCommon   `json:"common,omitempty"`
	Business *xfyunBusiness `json:"business,omitempty"`
	Data     xfyunData      `json:"data"`
}

// AudioFrame wraps base64 audio. Frame 0 opens the stream, every other id is interior.
func (c XfyunConfig) AudioFrame(frameID *int, audio string) XfyunFrame {
	status := FrameMiddle
	if frameID != nil && *frameID == 0 {
		status = FrameFirst
	}
	return XfyunFrame{
		Common:   &xfyunCommon{AppID: c.AppID},
		Business: &xfyunBusiness{Language: "zh_cn", Domain: "iat", Accent: "mandarin", VInfo: 1, VadEOS: 5000},
		Data:     xfyunData{Status: status, Format: "audio/L16;rate=16000", Audio: audio, Encoding: "raw"},
	}
}

func (c XfyunConfig) EndFrame() XfyunFrame {
	return XfyunFrame{Data: xfyunData{Status: FrameLast, Format: "audio/L16;rate=16000", Encoding: "raw"}}
}

// RelayRequest is what the browser sends on the relay socket.
type RelayRequest struct {
	Action string `json:"action"`
	Data   struct {
		FrameID *int   `json:"frame_id"`
		Audio   string `json:"audio"`
	} `json:"data"`
}

// RelayNotice is what the relay sends back.
type RelayNotice struct {
	Action  string          `json:"action"`
	Message string          `json:"message,omitempty"`
	Desc    string          `json:"desc,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// XfyunRelay gives every local socket its own upstream stream.
type XfyunRelay struct {
	cfg    XfyunConfig
	dialer *websocket.Dialer
	now    func() time.Time
}

func NewXfyunRelay(cfg XfyunConfig) *XfyunRelay {
	return &XfyunRelay{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (r *XfyunRelay) Config() XfyunConfig { return r.cfg }

type relaySession struct {
	relay  *XfyunRelay
	client *websocket.Conn
	cmu    sync.Mutex

	mu sync.Mutex
	up *websocket.Conn
}

// Serve blocks until the client socket closes.
func (r *XfyunRelay) Serve(ctx context.Context, client *websocket.Conn) {
	s := &relaySession{relay: r, client: client}
	defer s.closeUpstream()

	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "transcribe.xfyun").Msg("client closed")
			return
		}
		var req RelayRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.notify(RelayNotice{Action: "error", Desc: "bad message: " + err.Error()})
			continue
		}
		switch req.Action {
		case "start":
			s.start(ctx)
		case "audio":
			s.writeUp(r.cfg.AudioFrame(req.Data.FrameID, req.Data.Audio))
		case "stop":
			s.writeUp(r.cfg.EndFrame())
		default:
			s.notify(RelayNotice{Action: "error", Desc: "unknown action " + req.Action})
		}
	}
}

func (s *relaySession) notify(n RelayNotice) {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	_ = s.client.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.client.WriteJSON(n); err != nil {
		log.Warn().Err(err).Str("module", "transcribe.xfyun").Msg("notify client")
	}
}

func (s *relaySession) start(ctx context.Context) {
	s.closeUpstream()
	if !s.relay.cfg.Configured() {
		s.notify(RelayNotice{Action: "error", Desc: "xfyun is not configured"})
		return
	}
	endpoint, err := s.relay.cfg.SignedURL(s.relay.now())
	if err != nil {
		s.notify(RelayNotice{Action: "error", Desc: err.Error()})
		return
	}
	up, _, err := s.relay.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "transcribe.xfyun").Msg("upstream dial")
		s.notify(RelayNotice{Action: "error", Desc: "cannot reach xfyun: " + err.Error()})
		return
	}
	s.mu.Lock()
	s.up = up
	s.mu.Unlock()
	s.notify(RelayNotice{Action: "connected", Message: "connected to xfyun"})
	go s.pipe(up)
}

func (s *relaySession) pipe(up *websocket.Conn) {
	for {
		_, data, err := up.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.up == up
			if current {
				s.up = nil
			}
			s.mu.Unlock()
			if current {
				s.notify(RelayNotice{Action: "disconnected", Message: "xfyun connection closed"})
			}
			_ = up.Close()
			return
		}
		if !json.Valid(data) {
			log.Warn().Str("module", "transcribe.xfyun").Msg("non-json upstream message")
			continue
		}
		s.notify(RelayNotice{Action: "result", Data: data})
	}
}

func (s *relaySession) writeUp(f XfyunFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.up == nil {
		log.Debug().Str("module", "transcribe.xfyun").Int("status", f.Data.Status).Msg("frame without upstream dropped")
		return
	}
	_ = s.up.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.up.WriteJSON(f); err != nil {
		log.Warn().Err(err).Str("module", "transcribe.xfyun").Msg("upstream write")
	}
}

func (s *relaySession) closeUpstream() {
	s.mu.Lock()
	up := s.up
	s.up = nil
	s.mu.Unlock()
	if up != nil {
		_ = up.Close()
	}
}
