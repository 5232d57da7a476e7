package app

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/core"
)

type stubConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *stubConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *stubConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func TestRegistryBindAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "t1", &stubConn{}, nil)
	r.Register("c2", "t2", &stubConn{}, nil)

	r.Bind("c1", "room", "alice", "Alice")
	r.Bind("c2", "room", "alice", "Alice")

	e, ok := r.FindByUserID("room", "alice")
	if !ok || e.ConnID != "c2" {
		t.Errorf("FindByUserID() = %v, %v, want newest binding c2", e.ConnID, ok)
	}
	if _, ok := r.FindByUserID("other", "alice"); ok {
		t.Error("FindByUserID() matched a different room")
	}
	if e, ok := r.FindByUserID("", "alice"); !ok || e.ConnID != "c2" {
		t.Error("FindByUserID() with empty room should match any room")
	}
	if n := len(r.MembersOfRoom("room")); n != 2 {
		t.Errorf("MembersOfRoom() len = %d, want 2", n)
	}

	prev, ok := r.Detach("c2")
	if !ok || prev.RoomID != "room" {
		t.Errorf("Detach() = %v, %v", prev, ok)
	}
	if e, _ := r.FindByUserID("room", "alice"); e.ConnID != "c1" {
		t.Errorf("after detach FindByUserID() = %s, want c1", e.ConnID)
	}
	if !r.IsLive("c2") {
		t.Error("Detach() must keep the connection live")
	}
}

func TestRegistryRemoveCancels(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.Register("c1", "t1", &stubConn{}, func() { canceled = true })
	r.Bind("c1", "room", "u", "U")

	if _, ok := r.Remove("c1"); !ok {
		t.Fatal("Remove() = false")
	}
	if !canceled {
		t.Error("Remove() did not cancel the connection context")
	}
	if r.IsLive("c1") {
		t.Error("removed connection still live")
	}
	if r.Disconnect("c1") {
		t.Error("Disconnect() on removed connection = true")
	}
}

func TestRegistryDisconnectClosesTransport(t *testing.T) {
	r := NewRegistry()
	c := &stubConn{}
	r.Register("c1", "t1", c, nil)
	if !r.Disconnect("c1") {
		t.Fatal("Disconnect() = false")
	}
	if !c.closed {
		t.Error("transport not closed")
	}
}

func TestRoomLocksSerializeOneRoom(t *testing.T) {
	l := NewRoomLocks()
	unlock := l.Lock("r1")

	acquired := make(chan struct{})
	go func() {
		u := l.Lock("r1")
		close(acquired)
		u()
	}()

	other := make(chan struct{})
	go func() {
		u := l.Lock("r2")
		close(other)
		u()
	}()

	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("a different room was blocked")
	}
	select {
	case <-acquired:
		t.Fatal("same room acquired twice")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the room")
	}
	time.Sleep(10 * time.Millisecond)
	if n := l.Active(); n != 0 {
		t.Errorf("Active() = %d after all unlocks, want 0", n)
	}
}
