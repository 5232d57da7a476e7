package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
)

// Storage is what the rest of the server talks to. Every call goes to the
// durable backend while it reports connected and falls back to memory on any
// failure; an error is returned only when memory fails too.
type Storage struct {
	durable  Durable
	memory   *Memory
	degraded atomic.Bool
}

// New accepts a nil durable backend for memory-only deployments.
func New(durable Durable, memory *Memory) *Storage {
	if memory == nil {
		memory = NewMemory()
	}
	return &Storage{durable: durable, memory: memory}
}

// Connected reports whether the durable backend is currently serving calls.
func (s *Storage) Connected() bool {
	return s.durable != nil && s.durable.Connected()
}

// Backend names the backend that would serve the next call.
func (s *Storage) Backend() string {
	if s.Connected() {
		return "mongodb"
	}
	return "memory"
}

func (s *Storage) Ping(ctx context.Context) error {
	if s.durable == nil {
		return ErrNotConnected
	}
	return s.durable.Ping(ctx)
}

func do[T any](ctx context.Context, s *Storage, op string, fn func(Backend) (T, error)) (T, error) {
	if s.Connected() {
		v, err := fn(s.durable)
		if err == nil {
			if s.degraded.CompareAndSwap(true, false) {
				log.Info().Str("module", "storage").Str("op", op).Msg("durable backend recovered")
			}
			return v, nil
		}
		ev := log.Warn().Err(err).Str("module", "storage").Str("op", op)
		if cerr := ctx.Err(); cerr != nil {
			ev = ev.AnErr("ctx", cerr)
		}
		ev.Msg("durable backend failed, serving from memory")
	} else if s.durable != nil && s.degraded.CompareAndSwap(false, true) {
		log.Warn().Str("module", "storage").Str("op", op).Msg("durable backend not connected, serving from memory")
	}

	v, err := fn(s.memory)
	if err != nil {
		return v, fmt.Errorf("storage %s: %w", op, err)
	}
	return v, nil
}

// exec adapts calls without a result value to do.
func exec(ctx context.Context, s *Storage, op string, fn func(Backend) error) error {
	_, err := do(ctx, s, op, func(b Backend) (struct{}, error) { return struct{}{}, fn(b) })
	return err
}

// SaveMessage assigns the message id when absent.
func (s *Storage) SaveMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = m.ReceivedAt
	}
	return exec(ctx, s, "saveMessage", func(b Backend) error { return b.SaveMessage(ctx, m) })
}

func (s *Storage) GetMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Message, error) {
	return do(ctx, s, "getMessages", func(b Backend) ([]*domain.Message, error) {
		return b.GetMessages(ctx, roomID, limit)
	})
}

func (s *Storage) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	return exec(ctx, s, "upsertParticipant", func(b Backend) error { return b.UpsertParticipant(ctx, p) })
}

func (s *Storage) UpdateParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID, patch domain.ParticipantPatch) error {
	return exec(ctx, s, "updateParticipant", func(b Backend) error {
		return b.UpdateParticipant(ctx, roomID, userID, patch)
	})
}

func (s *Storage) GetParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Participant, error) {
	return do(ctx, s, "getParticipant", func(b Backend) (*domain.Participant, error) {
		return b.GetParticipant(ctx, roomID, userID)
	})
}

func (s *Storage) GetParticipants(ctx context.Context, roomID domain.RoomID) ([]*domain.Participant, error) {
	return do(ctx, s, "getParticipants", func(b Backend) ([]*domain.Participant, error) {
		return b.GetParticipants(ctx, roomID)
	})
}

func (s *Storage) FindParticipantByConnection(ctx context.Context, connID string) (*domain.Participant, error) {
	return do(ctx, s, "findParticipantByConnection", func(b Backend) (*domain.Participant, error) {
		return b.FindParticipantByConnection(ctx, connID)
	})
}

func (s *Storage) ListConnected(ctx context.Context) ([]*domain.Participant, error) {
	return do(ctx, s, "listConnected", func(b Backend) ([]*domain.Participant, error) {
		return b.ListConnected(ctx)
	})
}

func (s *Storage) ListIdle(ctx context.Context, before time.Time) ([]*domain.Participant, error) {
	return do(ctx, s, "listIdle", func(b Backend) ([]*domain.Participant, error) {
		return b.ListIdle(ctx, before)
	})
}

func (s *Storage) RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return exec(ctx, s, "removeParticipant", func(b Backend) error { return b.RemoveParticipant(ctx, roomID, userID) })
}

func (s *Storage) GetRoomInfo(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	return do(ctx, s, "getRoomInfo", func(b Backend) (*domain.Room, error) { return b.GetRoomInfo(ctx, roomID) })
}

func (s *Storage) SetRoomInfo(ctx context.Context, r *domain.Room) error {
	return exec(ctx, s, "setRoomInfo", func(b Backend) error { return b.SetRoomInfo(ctx, r) })
}

type created struct {
	room *domain.Room
	ok   bool
}

func (s *Storage) CreateRoomIfAbsent(ctx context.Context, r *domain.Room) (*domain.Room, bool, error) {
	res, err := do(ctx, s, "createRoomIfAbsent", func(b Backend) (created, error) {
		room, ok, err := b.CreateRoomIfAbsent(ctx, r)
		return created{room, ok}, err
	})
	return res.room, res.ok, err
}

func (s *Storage) TouchRoom(ctx context.Context, roomID domain.RoomID, at time.Time) error {
	return exec(ctx, s, "touchRoom", func(b Backend) error { return b.TouchRoom(ctx, roomID, at) })
}

func (s *Storage) DeleteRoomData(ctx context.Context, roomID domain.RoomID) (DeleteResult, error) {
	res, err := do(ctx, s, "deleteRoomData", func(b Backend) (DeleteResult, error) {
		return b.DeleteRoomData(ctx, roomID)
	})
	if err == nil {
		log.Info().Str("module", "storage").Str("room_id", string(roomID)).
			Int64("messages", res.Messages).Int64("participants", res.Participants).
			Msg("room data deleted")
	}
	return res, err
}

var _ Backend = (*Storage)(nil)
var _ Backend = (*Memory)(nil)
var _ Durable = (*Mongo)(nil)
