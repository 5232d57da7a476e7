package domain

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusInCall  Status = "in-call"
)

// Participant is a (room, user) membership record.
// ConnID is empty when no live connection is bound.
type Participant struct {
	RoomID   RoomID    `json:"roomId" bson:"roomId"`
	UserID   UserID    `json:"userId" bson:"userId"`
	Name     string    `json:"name" bson:"name"`
	Status   Status    `json:"status" bson:"status"`
	JoinTime time.Time `json:"joinTime" bson:"joinTime"`
	LastSeen time.Time `json:"lastSeen" bson:"lastSeen"`
	ConnID   string    `json:"socketId,omitempty" bson:"socketId"`
}

func (p *Participant) Connected() bool { return p.ConnID != "" }

// ParticipantPatch lists the fields an update may change. Nil fields are left alone.
type ParticipantPatch struct {
	Name   *string
	Status *Status
	ConnID *string
}

func StatusPtr(s Status) *Status { return &s }
func StringPtr(s string) *string { return &s }

// Apply mutates p and always refreshes LastSeen.
func (patch ParticipantPatch) Apply(p *Participant, now time.Time) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.ConnID != nil {
		p.ConnID = *patch.ConnID
	}
	p.LastSeen = now
}

// OfflinePatch marks a participant offline and clears its connection.
func OfflinePatch() ParticipantPatch {
	return ParticipantPatch{Status: StatusPtr(StatusOffline), ConnID: StringPtr("")}
}
