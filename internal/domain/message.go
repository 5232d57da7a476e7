package domain

import "time"

type MessageKind string

const (
	KindUser          MessageKind = "user"
	KindSystem        MessageKind = "system"
	KindAIQuestion    MessageKind = "ai-question"
	KindCallStatus    MessageKind = "call-status"
	KindCallEnd       MessageKind = "call-end"
	KindTranscription MessageKind = "transcription"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindUser, KindSystem, KindAIQuestion, KindCallStatus, KindCallEnd, KindTranscription:
		return true
	}
	return false
}

type FileInfo struct {
	Name string `json:"name" bson:"name"`
	Size int64  `json:"size" bson:"size"`
	Type string `json:"type" bson:"type"`
	URL  string `json:"url" bson:"url"`
}

// Message is append-only. Timestamp is the client time, ReceivedAt the server time.
type Message struct {
	ID           string      `json:"id" bson:"id"`
	RoomID       RoomID      `json:"roomId" bson:"roomId"`
	Kind         MessageKind `json:"type" bson:"type"`
	Author       string      `json:"author" bson:"author"`
	UserID       UserID      `json:"userId" bson:"userId"`
	Text         string      `json:"text,omitempty" bson:"text,omitempty"`
	File         *FileInfo   `json:"file,omitempty" bson:"file,omitempty"`
	OriginUserID UserID      `json:"originUserId,omitempty" bson:"originUserId,omitempty"`
	CallID       string      `json:"callId,omitempty" bson:"callId,omitempty"`
	Time         string      `json:"time" bson:"time"`
	Timestamp    time.Time   `json:"timestamp" bson:"timestamp"`
	ReceivedAt   time.Time   `json:"receivedAt" bson:"receivedAt"`
}

// Before reports whether m sorts before o in history order.
func (m *Message) Before(o *Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.ReceivedAt.Before(o.ReceivedAt)
}
