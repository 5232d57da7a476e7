package protocol

import "github.com/dkeye/Meet/internal/domain"

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RoomData struct {
	Messages     []*domain.Message     `json:"messages"`
	Participants []*domain.Participant `json:"participants"`
	RoomInfo     domain.RoomInfo       `json:"roomInfo"`
	IsOwner      bool                  `json:"isOwner"`
	IsCreator    bool                  `json:"isCreator"`
}

type UserLeft struct {
	UserID domain.UserID `json:"userId"`
}

type ParticipantsUpdate struct {
	RoomID       domain.RoomID         `json:"roomId"`
	Participants []*domain.Participant `json:"participants"`
}

type UserTyping struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	IsTyping bool          `json:"isTyping"`
}

type MeetingEnded struct {
	Message             string `json:"message"`
	DeletedMessages     int64  `json:"deletedMessages"`
	DeletedParticipants int64  `json:"deletedParticipants"`
}

type EndMeetingSuccess struct {
	Message             string `json:"message"`
	DeletedMessages     int64  `json:"deletedMessages"`
	DeletedParticipants int64  `json:"deletedParticipants"`
}

type ForceDisconnect struct {
	Reason string `json:"reason"`
}

type HeartbeatResponse struct {
	Timestamp Millis `json:"timestamp"`
}

// CallEndNotice is broadcast by the server itself when a participant drops out of a call.
type CallEndNotice struct {
	UserID domain.UserID `json:"userId"`
	Reason string        `json:"reason"`
}

type TranscriptionStatusChange struct {
	Action    string        `json:"action"`
	Type      string        `json:"type"`
	UserID    domain.UserID `json:"userId"`
	Username  string        `json:"username"`
	Timestamp Millis        `json:"timestamp"`
}

type TranscriptionBroadcast struct {
	Type      string        `json:"type"`
	RoomID    domain.RoomID `json:"roomId"`
	UserID    domain.UserID `json:"userId"`
	Username  string        `json:"username"`
	Result    string        `json:"result"`
	IsPartial bool          `json:"isPartial"`
	Timestamp Millis        `json:"timestamp"`
}

// StreamingResult is one upstream turn tagged with the subscriber's context.
type StreamingResult struct {
	Type                string        `json:"type"`
	SessionID           string        `json:"sessionId,omitempty"`
	Transcript          string        `json:"transcript"`
	EndOfTurn           bool          `json:"end_of_turn"`
	EndOfTurnConfidence float64       `json:"end_of_turn_confidence"`
	TurnOrder           int           `json:"turn_order"`
	TurnIsFormatted     bool          `json:"turn_is_formatted"`
	IsFinal             bool          `json:"isFinal"`
	RoomID              domain.RoomID `json:"roomId"`
	UserID              domain.UserID `json:"userId"`
}

type TranscriptionReceived struct {
	Text        string        `json:"text"`
	Author      string        `json:"author"`
	UserID      domain.UserID `json:"userId"`
	Timestamp   Millis        `json:"timestamp"`
	IsStreaming bool          `json:"isStreaming"`
}

type StreamingAck struct {
	Success bool `json:"success"`
}

type StreamingError struct {
	Error string `json:"error"`
}
