package app

import (
	"context"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Entry is a snapshot of one live connection and its room binding.
type Entry struct {
	ConnID   core.ConnID
	Token    core.ClientToken
	RoomID   domain.RoomID
	UserID   domain.UserID
	Username string
	Conn     core.SignalConnection

	cancel  context.CancelFunc
	boundAt uint64
}

func (e Entry) Bound() bool { return e.RoomID != "" }

// Registry maps live connections to at most one (room, user) binding.
// It is process local and never persisted.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*Entry
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*Entry)}
}

func (r *Registry) Register(id core.ConnID, token core.ClientToken, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &Entry{ConnID: id, Token: token, Conn: conn, cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Str("sid", string(token)).Msg("registered connection")
}

// Bind overwrites any previous binding of the connection.
func (r *Registry) Bind(id core.ConnID, roomID domain.RoomID, userID domain.UserID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	r.seq++
	e.RoomID, e.UserID, e.Username, e.boundAt = roomID, userID, username, r.seq
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Str("room_id", string(roomID)).Str("user_id", string(userID)).Msg("bound")
	return true
}

// Detach clears the room binding but keeps the connection registered.
func (r *Registry) Detach(id core.ConnID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || !e.Bound() {
		return Entry{}, false
	}
	prev := *e
	e.RoomID, e.UserID, e.Username, e.boundAt = "", "", "", 0
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Str("room_id", string(prev.RoomID)).Msg("detached")
	return prev, true
}

// Remove forgets the connection and cancels its context.
func (r *Registry) Remove(id core.ConnID) (Entry, bool) {
	r.mu.Lock()
	e, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return Entry{}, false
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Msg("removed connection")
	return *e, true
}

func (r *Registry) FindByConnection(id core.ConnID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return *e, true
	}
	return Entry{}, false
}

// FindByUserID resolves the newest binding of a user. An empty roomID matches any room.
func (r *Registry) FindByUserID(roomID domain.RoomID, userID domain.UserID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Entry
	for _, e := range r.conns {
		if e.UserID != userID || !e.Bound() {
			continue
		}
		if roomID != "" && e.RoomID != roomID {
			continue
		}
		if best == nil || e.boundAt > best.boundAt {
			best = e
		}
	}
	if best == nil {
		return Entry{}, false
	}
	return *best, true
}

func (r *Registry) MembersOfRoom(roomID domain.RoomID) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, 8)
	for _, e := range r.conns {
		if e.RoomID == roomID {
			out = append(out, *e)
		}
	}
	return out
}

func (r *Registry) IsLive(id core.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Disconnect closes the transport. Frames already queued are flushed first;
// the adapter's read loop then observes the close and runs the cleanup path.
func (r *Registry) Disconnect(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.Conn.Close()
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Msg("disconnect requested")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
