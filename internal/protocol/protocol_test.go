package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

const testOffer = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=rtpmap:111 opus/48000/2\r\n"

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("{not json")); !errors.Is(err, ErrBadPayload) {
		t.Errorf("Decode() err = %v, want ErrBadPayload", err)
	}
	if _, err := Decode([]byte(`{"data":{}}`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("Decode() without event err = %v, want ErrBadPayload", err)
	}
}

func TestBindReportsMissingFields(t *testing.T) {
	env, err := Decode([]byte(`{"event":"joinRoom","data":{"roomId":"r1"}}`))
	if err != nil {
		t.Fatalf("Decode() err = %v", err)
	}
	_, err = Bind[JoinRoom](env)
	var mf *MissingFieldsError
	if !errors.As(err, &mf) {
		t.Fatalf("Bind() err = %v, want MissingFieldsError", err)
	}
	if len(mf.Fields) != 2 || mf.Fields[0] != "userId" || mf.Fields[1] != "username" {
		t.Errorf("Fields = %v, want [userId username]", mf.Fields)
	}
}

func TestSendMessageDefaults(t *testing.T) {
	env, _ := Decode([]byte(`{"event":"sendMessage","data":{"roomId":"r1","author":"a","userId":"u1","text":"hi","isCallEnd":true}}`))
	p, err := Bind[SendMessage](env)
	if err != nil {
		t.Fatalf("Bind() err = %v", err)
	}
	if p.Type != domain.KindCallEnd {
		t.Errorf("Type = %q, want call-end", p.Type)
	}
	now := time.Date(2024, 1, 2, 9, 5, 0, 0, time.UTC)
	m := p.Message(now)
	if !m.Timestamp.Equal(now) || !m.ReceivedAt.Equal(now) {
		t.Errorf("timestamps not defaulted to server time")
	}
	if m.Time != "09:05" {
		t.Errorf("Time = %q, want 09:05", m.Time)
	}
}

func TestCallInviteAcceptsUserID(t *testing.T) {
	env, _ := Decode([]byte(`{"event":"callInvite","data":{"roomId":"r1","userId":"u1"}}`))
	p, err := Bind[CallInvite](env)
	if err != nil {
		t.Fatalf("Bind() err = %v", err)
	}
	if p.CallerID != "u1" {
		t.Errorf("CallerID = %q, want u1", p.CallerID)
	}
}

func TestCallOfferValidatesSDP(t *testing.T) {
	good, _ := json.Marshal(map[string]any{
		"roomId": "r1", "targetUserId": "u2", "fromUserId": "u1",
		"offer": map[string]string{"type": "offer", "sdp": testOffer},
	})
	if _, err := Bind[CallOffer](Envelope{Event: EvCallOffer, Data: good}); err != nil {
		t.Errorf("Bind(valid offer) err = %v", err)
	}

	bad, _ := json.Marshal(map[string]any{
		"roomId": "r1", "targetUserId": "u2", "fromUserId": "u1",
		"offer": map[string]string{"type": "answer", "sdp": testOffer},
	})
	if _, err := Bind[CallOffer](Envelope{Event: EvCallOffer, Data: bad}); !errors.Is(err, ErrInvalidSDP) {
		t.Errorf("Bind(answer as offer) err = %v, want ErrInvalidSDP", err)
	}
}

func TestEncodeEnvelope(t *testing.T) {
	f, err := Encode(EvHeartbeatResponse, HeartbeatResponse{Timestamp: 42})
	if err != nil {
		t.Fatalf("Encode() err = %v", err)
	}
	if string(f) != `{"event":"heartbeatResponse","data":{"timestamp":42}}` {
		t.Errorf("Encode() = %s", f)
	}
}
