// Package storage keeps rooms, participants and messages behind one contract
// served by MongoDB when reachable and by process memory otherwise.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	MessageTTL          = 30 * 24 * time.Hour
)

var ErrNotConnected = errors.New("storage: durable backend not connected")

// DeleteResult reports what DeleteRoomData removed.
type DeleteResult struct {
	Messages     int64 `json:"deletedMessages"`
	Participants int64 `json:"deletedParticipants"`
	Room         bool  `json:"deletedRoom"`
}

// Backend is implemented identically by the memory and MongoDB stores.
// Lookups of missing records return nil and no error.
type Backend interface {
	SaveMessage(ctx context.Context, m *domain.Message) error
	// GetMessages returns at most limit messages of a room, oldest first.
	GetMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Message, error)

	// UpsertParticipant is keyed on (room, user). JoinTime is kept from the first insert.
	UpsertParticipant(ctx context.Context, p *domain.Participant) error
	// UpdateParticipant applies patch and refreshes LastSeen. Missing participants are ignored.
	UpdateParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID, patch domain.ParticipantPatch) error
	GetParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Participant, error)
	// GetParticipants is sorted by JoinTime ascending.
	GetParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error)
	FindParticipantByConnection(ctx context.Context, connID string) (*domain.Participant, error)
	// ListConnected returns every participant holding a connection id, across rooms.
	ListConnected(ctx context.Context) ([]*domain.Participant, error)
	// ListIdle returns online participants last seen before the given time, across rooms.
	ListIdle(ctx context.Context, before time.Time) ([]*domain.Participant, error)
	RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error

	GetRoomInfo(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)
	// SetRoomInfo stores r; creator fields of an existing record are never overwritten.
	SetRoomInfo(ctx context.Context, r *domain.Room) error
	// CreateRoomIfAbsent atomically stores r unless a record exists.
	// It returns the stored record and whether r created it.
	CreateRoomIfAbsent(ctx context.Context, r *domain.Room) (*domain.Room, bool, error)
	TouchRoom(ctx context.Context, roomID domain.RoomID, at time.Time) error

	DeleteRoomData(ctx context.Context, roomID domain.RoomID) (DeleteResult, error)
}

// Durable is a Backend whose availability can change at runtime.
type Durable interface {
	Backend
	Connected() bool
	Ping(ctx context.Context) error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
