package app

import (
	"sync"

	"github.com/dkeye/Meet/internal/domain"
)

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// RoomLocks hands out one mutex per room. Entries live only while someone
// holds or waits on them, so unrelated rooms never contend.
type RoomLocks struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomLock
}

func NewRoomLocks() *RoomLocks {
	return &RoomLocks{rooms: make(map[domain.RoomID]*roomLock)}
}

// Lock blocks until the room is free and returns its unlock func.
func (l *RoomLocks) Lock(id domain.RoomID) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.rooms[id]
	if !ok {
		rl = &roomLock{}
		l.rooms[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.rooms, id)
		}
		l.mu.Unlock()
	}
}

// Active returns the number of rooms currently locked or awaited.
func (l *RoomLocks) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
