package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

const (
	memoryRingCapacity = 1000
	memoryRingKeep     = 800
)

// Memory is the in-process backend. Each room keeps a bounded message ring:
// once it exceeds capacity only the newest keep entries survive.
type Memory struct {
	mu           sync.RWMutex
	messages     map[domain.RoomID][]*domain.Message
	participants map[domain.RoomID]map[domain.UserID]*domain.Participant
	rooms        map[domain.RoomID]*domain.Room

	capacity int
	keep     int
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		messages:     make(map[domain.RoomID][]*domain.Message),
		participants: make(map[domain.RoomID]map[domain.UserID]*domain.Participant),
		rooms:        make(map[domain.RoomID]*domain.Room),
		capacity:     memoryRingCapacity,
		keep:         memoryRingKeep,
		now:          time.Now,
	}
}

func (m *Memory) SaveMessage(_ context.Context, msg *domain.Message) error {
	cp := *msg
	m.mu.Lock()
	defer m.mu.Unlock()
	ring := append(m.messages[msg.RoomID], &cp)
	if len(ring) > m.capacity {
		ring = append([]*domain.Message(nil), ring[len(ring)-m.keep:]...)
	}
	m.messages[msg.RoomID] = ring
	return nil
}

func (m *Memory) GetMessages(_ context.Context, roomID domain.RoomID, limit int) ([]*domain.Message, error) {
	limit = normalizeLimit(limit)
	m.mu.RLock()
	ring := m.messages[roomID]
	out := make([]*domain.Message, 0, len(ring))
	for _, msg := range ring {
		cp := *msg
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) UpsertParticipant(_ context.Context, p *domain.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.participants[p.RoomID]
	if !ok {
		byUser = make(map[domain.UserID]*domain.Participant)
		m.participants[p.RoomID] = byUser
	}
	cp := *p
	if cur, ok := byUser[p.UserID]; ok {
		cp.JoinTime = cur.JoinTime
	} else if cp.JoinTime.IsZero() {
		cp.JoinTime = m.now()
	}
	if cp.LastSeen.IsZero() {
		cp.LastSeen = m.now()
	}
	byUser[p.UserID] = &cp
	return nil
}

func (m *Memory) UpdateParticipant(_ context.Context, roomID domain.RoomID, userID domain.UserID, patch domain.ParticipantPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.participants[roomID][userID]; ok {
		patch.Apply(p, m.now())
	}
	return nil
}

func (m *Memory) GetParticipant(_ context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.participants[roomID][userID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) GetParticipants(_ context.Context, roomID domain.RoomID) ([]*domain.Participant, error) {
	m.mu.RLock()
	out := make([]*domain.Participant, 0, len(m.participants[roomID]))
	for _, p := range m.participants[roomID] {
		cp := *p
		out = append(out, &cp)
	}
	m.mu.RUnlock()
	sortByJoinTime(out)
	return out, nil
}

func (m *Memory) FindParticipantByConnection(_ context.Context, connID string) (*domain.Participant, error) {
	if connID == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, byUser := range m.participants {
		for _, p := range byUser {
			if p.ConnID == connID {
				cp := *p
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (m *Memory) ListConnected(_ context.Context) ([]*domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Participant
	for _, byUser := range m.participants {
		for _, p := range byUser {
			if p.Connected() {
				cp := *p
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (m *Memory) ListIdle(_ context.Context, before time.Time) ([]*domain.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Participant
	for _, byUser := range m.participants {
		for _, p := range byUser {
			if p.Status == domain.StatusOnline && p.LastSeen.Before(before) {
				cp := *p
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (m *Memory) RemoveParticipant(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participants[roomID], userID)
	return nil
}

func (m *Memory) GetRoomInfo(_ context.Context, roomID domain.RoomID) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rooms[roomID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) SetRoomInfo(_ context.Context, r *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if cur, ok := m.rooms[r.ID]; ok {
		cp.CreatorID, cp.CreatorName, cp.CreatedAt = cur.CreatorID, cur.CreatorName, cur.CreatedAt
	}
	m.rooms[r.ID] = &cp
	return nil
}

func (m *Memory) CreateRoomIfAbsent(_ context.Context, r *domain.Room) (*domain.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[r.ID]; ok {
		cp := *cur
		return &cp, false, nil
	}
	stored := *r
	m.rooms[r.ID] = &stored
	cp := stored
	return &cp, true, nil
}

func (m *Memory) TouchRoom(_ context.Context, roomID domain.RoomID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		r.LastActivity = at
	}
	return nil
}

func (m *Memory) DeleteRoomData(_ context.Context, roomID domain.RoomID) (DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := DeleteResult{
		Messages:     int64(len(m.messages[roomID])),
		Participants: int64(len(m.participants[roomID])),
	}
	_, res.Room = m.rooms[roomID]
	delete(m.messages, roomID)
	delete(m.participants, roomID)
	delete(m.rooms, roomID)
	return res, nil
}

func sortByJoinTime(ps []*domain.Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].JoinTime.Equal(ps[j].JoinTime) {
			return ps[i].UserID < ps[j].UserID
		}
		return ps[i].JoinTime.Before(ps[j].JoinTime)
	})
}
