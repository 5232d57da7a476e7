package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAssemblyURL    = "wss://streaming.assemblyai.com/v3/ws"
	DefaultAssemblyAPIURL = "https://api.assemblyai.com/v2/transcript"
	checkTimeout          = 10 * time.Second
)

type AssemblyConfig struct {
	URL string
	// APIURL is the REST endpoint used to check that the key is accepted.
	APIURL         string
	APIKey         string
	SampleRate     int
	ConnectTimeout time.Duration
}

// AssemblyDialer opens v3 streaming sessions: PCM s16le frames go up as
// binary messages, Begin/Turn/Termination messages come back as JSON.
type AssemblyDialer struct {
	cfg    AssemblyConfig
	dialer *websocket.Dialer
	client *http.Client
}

func NewAssemblyDialer(cfg AssemblyConfig) *AssemblyDialer {
	if cfg.URL == "" {
		cfg.URL = DefaultAssemblyURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAssemblyAPIURL
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return &AssemblyDialer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		client: &http.Client{Timeout: checkTimeout},
	}
}

func (d *AssemblyDialer) Configured() bool { return d.cfg.APIKey != "" }

// Check asks the provider's REST API whether it is reachable with the
// configured key. It returns the HTTP status of the answer.
func (d *AssemblyDialer) Check(ctx context.Context) (int, error) {
	if !d.Configured() {
		return 0, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.APIURL, nil)
	if err != nil {
		return 0, fmt.Errorf("assemblyai check: %w", err)
	}
	req.Header.Set("Authorization", d.cfg.APIKey)
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("assemblyai check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("assemblyai check: status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *AssemblyDialer) endpoint() (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("assemblyai url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", "true")
	q.Set("token", d.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *AssemblyDialer) Dial(ctx context.Context, onEvent func(Event)) (Upstream, error) {
	if !d.Configured() {
		return nil, ErrNotConfigured
	}
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := d.dialer.DialContext(dctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("assemblyai dial: %w", err)
	}
	s := &assemblySession{conn: conn, onEvent: onEvent}
	s.connected.Store(true)
	go s.readLoop()
	return s, nil
}

type assemblySession struct {
	conn    *websocket.Conn
	onEvent func(Event)

	wmu       sync.Mutex
	connected atomic.Bool
	closed    atomic.Bool
}

type assemblyMessage struct {
	Type                 string  `json:"type"`
	ID                   string  `json:"id"`
	Transcript           string  `json:"transcript"`
	EndOfTurn            bool    `json:"end_of_turn"`
	EndOfTurnConfidence  float64 `json:"end_of_turn_confidence"`
	TurnOrder            int     `json:"turn_order"`
	TurnIsFormatted      bool    `json:"turn_is_formatted"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
	Error                string  `json:"error"`
}

func (s *assemblySession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.connected.Store(false)
			if !s.closed.Load() {
				s.onEvent(Event{Kind: EventError, Err: fmt.Errorf("assemblyai read: %w", err)})
			}
			return
		}
		var m assemblyMessage
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn().Err(err).Str("module", "transcribe.assemblyai").Msg("bad upstream message")
			continue
		}
		switch m.Type {
		case "Begin":
			s.onEvent(Event{Kind: EventBegin, SessionID: m.ID})
		case "Turn":
			s.onEvent(Event{Kind: EventTurn, Turn: Turn{
				Transcript:          m.Transcript,
				EndOfTurn:           m.EndOfTurn,
				EndOfTurnConfidence: m.EndOfTurnConfidence,
				TurnOrder:           m.TurnOrder,
				TurnIsFormatted:     m.TurnIsFormatted,
			}})
		case "Termination":
			s.connected.Store(false)
			s.onEvent(Event{Kind: EventTermination, AudioSeconds: m.AudioDurationSeconds})
		default:
			if m.Error != "" {
				s.connected.Store(false)
				s.onEvent(Event{Kind: EventError, Err: fmt.Errorf("assemblyai: %s", m.Error)})
				return
			}
			log.Debug().Str("module", "transcribe.assemblyai").Str("type", m.Type).Msg("ignored upstream message")
		}
	}
}

func (s *assemblySession) SendAudio(frame []byte) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *assemblySession) Connected() bool { return s.connected.Load() }

// Close asks the provider to end the session, then drops the socket.
func (s *assemblySession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	wasConnected := s.connected.Swap(false)
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if wasConnected {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
	}
	return s.conn.Close()
}
