// Package transcribe connects local speakers to external speech recognition.
package transcribe

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
)

var (
	ErrNotConnected = errors.New("transcription upstream not connected")
	ErrNotStreaming = errors.New("connection is not streaming")
	// ErrNotConfigured is returned when the provider has no API key.
	ErrNotConfigured = errors.New("transcription provider not configured")
)

type EventKind int

const (
	EventBegin EventKind = iota
	EventTurn
	EventTermination
	EventError
)

// Turn is one recognized utterance, partial until EndOfTurn.
type Turn struct {
	Transcript          string
	EndOfTurn           bool
	EndOfTurnConfidence float64
	TurnOrder           int
	TurnIsFormatted     bool
}

func (t Turn) Final() bool { return t.EndOfTurn }

type Event struct {
	Kind         EventKind
	SessionID    string
	Turn         Turn
	AudioSeconds float64
	Err          error
}

// Upstream is one live streaming session with the recognition provider.
type Upstream interface {
	SendAudio(frame []byte) error
	Connected() bool
	// Close terminates the session and must not wait for pending onEvent calls.
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, onEvent func(Event)) (Upstream, error)
}

type DialFunc func(ctx context.Context, onEvent func(Event)) (Upstream, error)

func (f DialFunc) Dial(ctx context.Context, onEvent func(Event)) (Upstream, error) {
	return f(ctx, onEvent)
}

// Subscriber receives results on behalf of one local connection.
type Subscriber struct {
	OnTurn  func(sessionID string, t Turn)
	OnError func(err error)
}

// Bridge owns at most one upstream session shared by every attached
// subscriber. The session is created on demand and torn down when the last
// subscriber detaches or the upstream fails.
type Bridge struct {
	dial Dialer

	mu      sync.Mutex
	up      Upstream
	dialing chan struct{}
	gen     uint64
	session string
	subs    map[core.ConnID]Subscriber
}

func NewBridge(d Dialer) *Bridge {
	return &Bridge{dial: d, subs: make(map[core.ConnID]Subscriber)}
}

// EnsureUpstream opens a session unless a connected one exists. Dial errors
// are returned as is. The dial runs without holding the bridge lock, so
// audio of attached subscribers keeps flowing; concurrent callers wait for
// the dial in progress.
func (b *Bridge) EnsureUpstream(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.up != nil && b.up.Connected() {
			b.mu.Unlock()
			return nil
		}
		if wait := b.dialing; wait != nil {
			b.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		b.teardownLocked()
		b.gen++
		gen := b.gen
		done := make(chan struct{})
		b.dialing = done
		b.mu.Unlock()

		up, err := b.dial.Dial(ctx, func(ev Event) { b.handle(gen, ev) })

		b.mu.Lock()
		b.dialing = nil
		close(done)
		if err != nil {
			b.mu.Unlock()
			log.Error().Err(err).Str("module", "transcribe").Msg("upstream dial failed")
			return err
		}
		if gen != b.gen {
			// closed while dialing
			b.mu.Unlock()
			_ = up.Close()
			return ErrNotConnected
		}
		b.up = up
		b.mu.Unlock()
		log.Info().Str("module", "transcribe").Uint64("gen", gen).Msg("upstream connected")
		return nil
	}
}

// Subscribe ensures the upstream and attaches id.
func (b *Bridge) Subscribe(ctx context.Context, id core.ConnID, sub Subscriber) error {
	if err := b.EnsureUpstream(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.up == nil || !b.up.Connected() {
		return ErrNotConnected
	}
	b.subs[id] = sub
	return nil
}

func (b *Bridge) Attach(id core.ConnID, sub Subscriber) {
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
}

// Detach removes id and tears the upstream down when nobody is left.
// It reports whether the bridge is now empty.
func (b *Bridge) Detach(id core.ConnID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	if len(b.subs) > 0 {
		return false
	}
	b.teardownLocked()
	return true
}

func (b *Bridge) ForwardAudio(frame []byte) error {
	b.mu.Lock()
	up := b.up
	b.mu.Unlock()
	if up == nil || !up.Connected() {
		return ErrNotConnected
	}
	return up.SendAudio(frame)
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.up != nil && b.up.Connected()
}

func (b *Bridge) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bridge) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Close drops every subscriber and the upstream.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[core.ConnID]Subscriber)
	b.teardownLocked()
}

func (b *Bridge) teardownLocked() {
	if b.up == nil {
		if b.dialing != nil {
			b.gen++
		}
		return
	}
	if err := b.up.Close(); err != nil {
		log.Warn().Err(err).Str("module", "transcribe").Msg("upstream close")
	}
	b.up = nil
	b.session = ""
	b.gen++
	log.Info().Str("module", "transcribe").Msg("upstream torn down")
}

func (b *Bridge) snapshot() []Subscriber {
	out := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}

func (b *Bridge) handle(gen uint64, ev Event) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	var subs []Subscriber
	session := b.session
	switch ev.Kind {
	case EventBegin:
		b.session = ev.SessionID
		log.Info().Str("module", "transcribe").Str("session", ev.SessionID).Msg("upstream session began")
	case EventTurn:
		if ev.Turn.Transcript != "" {
			subs = b.snapshot()
		}
	case EventTermination:
		log.Info().Str("module", "transcribe").Float64("audio_seconds", ev.AudioSeconds).Msg("upstream session terminated")
		b.teardownLocked()
	case EventError:
		log.Error().Err(ev.Err).Str("module", "transcribe").Msg("upstream failed")
		subs = b.snapshot()
		b.subs = make(map[core.ConnID]Subscriber)
		b.teardownLocked()
	}
	b.mu.Unlock()

	for _, s := range subs {
		switch ev.Kind {
		case EventTurn:
			if s.OnTurn != nil {
				s.OnTurn(session, ev.Turn)
			}
		case EventError:
			if s.OnError != nil {
				s.OnError(ev.Err)
			}
		}
	}
}
