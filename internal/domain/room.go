package domain

import (
	"strings"
	"time"
)

type RoomID string

func (id RoomID) Validate() error {
	if len(strings.TrimSpace(string(id))) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

type Settings struct {
	MaxParticipants int  `json:"maxParticipants" bson:"maxParticipants"`
	AllowFileUpload bool `json:"allowFileUpload" bson:"allowFileUpload"`
	AIEnabled       bool `json:"aiEnabled" bson:"aiEnabled"`
}

func DefaultSettings() Settings {
	return Settings{MaxParticipants: 50, AllowFileUpload: true, AIEnabled: true}
}

// Room is the durable record of a room. The creator fields never change once stored.
type Room struct {
	ID           RoomID    `json:"roomId" bson:"roomId"`
	CreatorID    UserID    `json:"creatorId" bson:"creatorId"`
	CreatorName  string    `json:"creatorName" bson:"creatorName"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	LastActivity time.Time `json:"lastActivity" bson:"lastActivity"`
	Settings     Settings  `json:"settings" bson:"settings"`
}

func NewRoom(id RoomID, creator UserID, creatorName string, now time.Time) *Room {
	return &Room{
		ID:           id,
		CreatorID:    creator,
		CreatorName:  creatorName,
		CreatedAt:    now,
		LastActivity: now,
		Settings:     DefaultSettings(),
	}
}

func (r *Room) IsOwner(uid UserID) bool {
	return r != nil && r.CreatorID == uid
}

// RoomInfo is the owner view sent to joining clients.
type RoomInfo struct {
	CreatorID   UserID    `json:"creatorId"`
	CreatorName string    `json:"creatorName"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (r *Room) Info() RoomInfo {
	return RoomInfo{CreatorID: r.CreatorID, CreatorName: r.CreatorName, CreatedAt: r.CreatedAt}
}
