package transcribe

import (
	"context"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Scope selects how many upstream sessions run at once.
type Scope string

const (
	// ScopeProcess shares one upstream across the whole process. Audio from
	// different rooms is interleaved into the same session.
	ScopeProcess Scope = "process"
	// ScopeRoom runs one upstream per room.
	ScopeRoom Scope = "room"
)

func ParseScope(s string) Scope {
	if Scope(s) == ScopeRoom {
		return ScopeRoom
	}
	return ScopeProcess
}

// Hub maps subscribers to bridges according to the scope.
type Hub struct {
	dial  Dialer
	scope Scope

	mu      sync.Mutex
	bridges map[string]*Bridge
	refs    map[string]int
	owner   map[core.ConnID]string
}

func NewHub(d Dialer, scope Scope) *Hub {
	return &Hub{
		dial:    d,
		scope:   scope,
		bridges: make(map[string]*Bridge),
		refs:    make(map[string]int),
		owner:   make(map[core.ConnID]string),
	}
}

func (h *Hub) Scope() Scope { return h.scope }

func (h *Hub) key(roomID domain.RoomID) string {
	if h.scope == ScopeRoom {
		return string(roomID)
	}
	return ""
}

// Start attaches id to the bridge for roomID, opening the upstream if needed.
// On failure id is left detached.
func (h *Hub) Start(ctx context.Context, id core.ConnID, roomID domain.RoomID, sub Subscriber) error {
	key := h.key(roomID)

	h.mu.Lock()
	var moved *Bridge
	if prev, ok := h.owner[id]; ok && prev != key {
		moved = h.releaseLocked(id, prev)
	}
	b, ok := h.bridges[key]
	if !ok {
		b = NewBridge(h.dial)
		h.bridges[key] = b
	}
	if _, ok := h.owner[id]; !ok {
		h.owner[id] = key
		h.refs[key]++
	}
	h.mu.Unlock()

	if moved != nil {
		moved.Detach(id)
	}
	if err := b.Subscribe(ctx, id, sub); err != nil {
		h.Stop(id)
		return err
	}
	return nil
}

// Audio forwards one frame from id's bridge to its upstream.
func (h *Hub) Audio(id core.ConnID, frame []byte) error {
	h.mu.Lock()
	key, ok := h.owner[id]
	b := h.bridges[key]
	h.mu.Unlock()
	if !ok || b == nil {
		return ErrNotStreaming
	}
	return b.ForwardAudio(frame)
}

// Stop detaches id. It reports whether id was streaming.
func (h *Hub) Stop(id core.ConnID) bool {
	h.mu.Lock()
	key, ok := h.owner[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	b := h.releaseLocked(id, key)
	h.mu.Unlock()

	if b != nil {
		b.Detach(id)
	}
	return true
}

func (h *Hub) releaseLocked(id core.ConnID, key string) *Bridge {
	delete(h.owner, id)
	b := h.bridges[key]
	h.refs[key]--
	if h.refs[key] <= 0 {
		delete(h.refs, key)
		delete(h.bridges, key)
	}
	return b
}

// Streaming reports whether id is attached to a bridge.
func (h *Hub) Streaming(id core.ConnID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.owner[id]
	return ok
}

// Sessions returns the number of bridges with a live upstream.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	bs := make([]*Bridge, 0, len(h.bridges))
	for _, b := range h.bridges {
		bs = append(bs, b)
	}
	h.mu.Unlock()
	n := 0
	for _, b := range bs {
		if b.Connected() {
			n++
		}
	}
	return n
}

// Close tears every bridge down.
func (h *Hub) Close() {
	h.mu.Lock()
	bs := h.bridges
	h.bridges = make(map[string]*Bridge)
	h.refs = make(map[string]int)
	h.owner = make(map[core.ConnID]string)
	h.mu.Unlock()
	for _, b := range bs {
		b.Close()
	}
}
