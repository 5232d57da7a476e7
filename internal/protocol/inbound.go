package protocol

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Meet/internal/domain"
)

// Millis is a unix millisecond timestamp as sent by browsers.
type Millis int64

func (m Millis) Time() time.Time { return time.UnixMilli(int64(m)) }

func (m Millis) IsZero() bool { return m == 0 }

func Now() Millis { return Millis(time.Now().UnixMilli()) }

type JoinRoom struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

func (p *JoinRoom) Validate() error {
	if err := required(EvJoinRoom, "roomId", string(p.RoomID), "userId", string(p.UserID), "username", p.Username); err != nil {
		return err
	}
	if err := p.RoomID.Validate(); err != nil {
		return err
	}
	if err := p.UserID.Validate(); err != nil {
		return err
	}
	return domain.ValidateUsername(p.Username)
}

type LeaveRoom struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

func (p *LeaveRoom) Validate() error {
	return required(EvLeaveRoom, "roomId", string(p.RoomID), "userId", string(p.UserID))
}

type SendMessage struct {
	RoomID       domain.RoomID      `json:"roomId"`
	Type         domain.MessageKind `json:"type"`
	Text         string             `json:"text"`
	Author       string             `json:"author"`
	UserID       domain.UserID      `json:"userId"`
	File         *domain.FileInfo   `json:"file"`
	Time         string             `json:"time"`
	Timestamp    Millis             `json:"timestamp"`
	IsAIQuestion bool               `json:"isAIQuestion"`
	OriginUserID domain.UserID      `json:"originUserId"`
	IsCallStatus bool               `json:"isCallStatus"`
	IsCallEnd    bool               `json:"isCallEnd"`
	CallID       string             `json:"callId"`
}

func (p *SendMessage) Validate() error {
	if err := required(EvSendMessage, "roomId", string(p.RoomID), "author", p.Author, "userId", string(p.UserID)); err != nil {
		return err
	}
	if p.Type == "" {
		switch {
		case p.IsCallEnd:
			p.Type = domain.KindCallEnd
		case p.IsCallStatus:
			p.Type = domain.KindCallStatus
		case p.IsAIQuestion:
			p.Type = domain.KindAIQuestion
		default:
			p.Type = domain.KindUser
		}
	}
	if !p.Type.Valid() {
		return &MissingFieldsError{Event: EvSendMessage, Fields: []string{"type"}}
	}
	return nil
}

// Message converts the payload into a stored message, filling server-side defaults.
func (p *SendMessage) Message(now time.Time) *domain.Message {
	ts := now
	if !p.Timestamp.IsZero() {
		ts = p.Timestamp.Time()
	}
	clock := p.Time
	if clock == "" {
		clock = now.Format("15:04")
	}
	return &domain.Message{
		RoomID:       p.RoomID,
		Kind:         p.Type,
		Author:       p.Author,
		UserID:       p.UserID,
		Text:         p.Text,
		File:         p.File,
		OriginUserID: p.OriginUserID,
		CallID:       p.CallID,
		Time:         clock,
		Timestamp:    ts,
		ReceivedAt:   now,
	}
}

type Typing struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	IsTyping bool          `json:"isTyping"`
}

func (p *Typing) Validate() error {
	return required(EvTyping, "roomId", string(p.RoomID), "userId", string(p.UserID))
}

type EndMeeting struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

func (p *EndMeeting) Validate() error {
	return required(EvEndMeeting, "roomId", string(p.RoomID), "userId", string(p.UserID))
}

// CallInvite accepts the caller either as callerId or userId.
type CallInvite struct {
	RoomID     domain.RoomID `json:"roomId"`
	CallerID   domain.UserID `json:"callerId"`
	CallerName string        `json:"callerName"`
	UserID     domain.UserID `json:"userId,omitempty"`
}

func (p *CallInvite) Validate() error {
	if p.CallerID == "" {
		p.CallerID = p.UserID
	}
	p.UserID = ""
	return required(EvCallInvite, "roomId", string(p.RoomID), "callerId", string(p.CallerID))
}

type CallAccept struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
}

func (p *CallAccept) Validate() error {
	return required(EvCallAccept, "roomId", string(p.RoomID), "userId", string(p.UserID))
}

type CallReject struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

func (p *CallReject) Validate() error {
	return required(EvCallReject, "roomId", string(p.RoomID), "userId", string(p.UserID))
}

// CallEnd is forwarded as is. UpdateStatus asks the server to return the
// sender to online.
type CallEnd struct {
	RoomID       domain.RoomID `json:"roomId"`
	UserID       domain.UserID `json:"userId"`
	UserName     string        `json:"userName,omitempty"`
	IsCreatorEnd bool          `json:"isCreatorEnd"`
	Reason       string        `json:"reason,omitempty"`
	UpdateStatus bool          `json:"updateStatus,omitempty"`
}

func (p *CallEnd) Validate() error {
	return required(EvCallEnd, "roomId", string(p.RoomID), "userId", string(p.UserID))
}

// CallOffer carries an SDP offer to one target user.
type CallOffer struct {
	RoomID       domain.RoomID              `json:"roomId"`
	TargetUserID domain.UserID              `json:"targetUserId"`
	FromUserID   domain.UserID              `json:"fromUserId"`
	Offer        *webrtc.SessionDescription `json:"offer"`
}

func (p *CallOffer) Validate() error {
	if err := required(EvCallOffer, "roomId", string(p.RoomID), "targetUserId", string(p.TargetUserID), "fromUserId", string(p.FromUserID)); err != nil {
		return err
	}
	return validateSDP(EvCallOffer, "offer", p.Offer, webrtc.SDPTypeOffer)
}

type CallAnswer struct {
	RoomID       domain.RoomID              `json:"roomId"`
	TargetUserID domain.UserID              `json:"targetUserId"`
	FromUserID   domain.UserID              `json:"fromUserId"`
	Answer       *webrtc.SessionDescription `json:"answer"`
}

func (p *CallAnswer) Validate() error {
	if err := required(EvCallAnswer, "roomId", string(p.RoomID), "targetUserId", string(p.TargetUserID), "fromUserId", string(p.FromUserID)); err != nil {
		return err
	}
	return validateSDP(EvCallAnswer, "answer", p.Answer, webrtc.SDPTypeAnswer)
}

type IceCandidate struct {
	RoomID       domain.RoomID            `json:"roomId"`
	TargetUserID domain.UserID            `json:"targetUserId"`
	FromUserID   domain.UserID            `json:"fromUserId"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate"`
}

func (p *IceCandidate) Validate() error {
	if err := required(EvIceCandidate, "roomId", string(p.RoomID), "targetUserId", string(p.TargetUserID), "fromUserId", string(p.FromUserID)); err != nil {
		return err
	}
	if p.Candidate == nil {
		return &MissingFieldsError{Event: EvIceCandidate, Fields: []string{"candidate"}}
	}
	return nil
}

type Heartbeat struct {
	Timestamp Millis        `json:"timestamp"`
	UserID    domain.UserID `json:"userId"`
	RoomID    domain.RoomID `json:"roomId"`
}

// Validate accepts an empty heartbeat; the ack never depends on its content.
func (p *Heartbeat) Validate() error { return nil }

type TranscriptionControl struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

func (p *TranscriptionControl) Validate() error {
	return required("transcriptionControl", "roomId", string(p.RoomID), "userId", string(p.UserID))
}

type TranscriptionResult struct {
	RoomID    domain.RoomID `json:"roomId"`
	UserID    domain.UserID `json:"userId"`
	Username  string        `json:"username"`
	Result    string        `json:"result"`
	IsPartial bool          `json:"isPartial"`
	Timestamp Millis        `json:"timestamp"`
}

func (p *TranscriptionResult) Validate() error {
	if err := required(EvXfyunTranscriptionResult, "roomId", string(p.RoomID), "userId", string(p.UserID)); err != nil {
		return err
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = Now()
	}
	return nil
}

type StartStreaming struct {
	RoomID domain.RoomID `json:"roomId"`
}

func (p *StartStreaming) Validate() error {
	return required(EvStartStreamingTranscription, "roomId", string(p.RoomID))
}

// AudioData carries one PCM frame, base64 in JSON.
type AudioData struct {
	AudioData []byte `json:"audioData"`
}

func (p *AudioData) Validate() error {
	if len(p.AudioData) == 0 {
		return &MissingFieldsError{Event: EvAudioData, Fields: []string{"audioData"}}
	}
	return nil
}

type StopStreaming struct{}

func (p *StopStreaming) Validate() error { return nil }
