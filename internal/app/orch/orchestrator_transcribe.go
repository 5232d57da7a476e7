package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/transcribe"
)

var ErrTranscriptionDisabled = errors.New("streaming transcription is not configured")

const (
	xfyunType  = "xfyun"
	turnMemory = 5 * time.Minute
)

type turnKey struct {
	room    domain.RoomID
	session string
	order   int
}

// turnLog remembers final turns already recorded. Every subscriber of a
// shared upstream sees the same turn, a room records it once.
type turnLog struct {
	mu   sync.Mutex
	seen map[turnKey]time.Time
}

func (l *turnLog) claim(k turnKey, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[turnKey]time.Time)
	}
	if _, ok := l.seen[k]; ok {
		return false
	}
	for key, at := range l.seen {
		if now.Sub(at) > turnMemory {
			delete(l.seen, key)
		}
	}
	l.seen[k] = now
	return true
}

// XfyunStatus tells the rest of the room that the sender started or stopped
// browser-side transcription.
func (o *Orchestrator) XfyunStatus(id core.ConnID, action string, req *protocol.TranscriptionControl) error {
	e, err := o.joined(id, req.RoomID)
	if err != nil {
		return err
	}
	name := req.Username
	if name == "" {
		name = e.Username
	}
	o.broadcast(req.RoomID, protocol.EvTranscriptionStatusChange, protocol.TranscriptionStatusChange{
		Action:    action,
		Type:      xfyunType,
		UserID:    req.UserID,
		Username:  name,
		Timestamp: protocol.Millis(o.now().UnixMilli()),
	}, id)
	return nil
}

func (o *Orchestrator) XfyunResult(id core.ConnID, req *protocol.TranscriptionResult) error {
	if _, err := o.joined(id, req.RoomID); err != nil {
		return err
	}
	o.broadcast(req.RoomID, protocol.EvTranscriptionResult, protocol.TranscriptionBroadcast{
		Type:      xfyunType,
		RoomID:    req.RoomID,
		UserID:    req.UserID,
		Username:  req.Username,
		Result:    req.Result,
		IsPartial: req.IsPartial,
		Timestamp: req.Timestamp,
	}, "")
	return nil
}

// StartStreaming attaches id to the shared upstream session. Turns go back to
// id; a final turn is stored and shown to the rest of the room once per room.
func (o *Orchestrator) StartStreaming(ctx context.Context, id core.ConnID, req *protocol.StartStreaming) error {
	e, err := o.joined(id, req.RoomID)
	if err != nil {
		return err
	}
	if o.Transcription == nil {
		return ErrTranscriptionDisabled
	}
	sub := transcribe.Subscriber{
		OnTurn:  func(session string, t transcribe.Turn) { o.onTurn(e, session, t) },
		OnError: func(err error) { o.Send(id, protocol.EvStreamingTranscriptionError, protocol.StreamingError{Error: err.Error()}) },
	}
	if err := o.Transcription.Start(ctx, id, e.RoomID, sub); err != nil {
		return err
	}
	o.Send(id, protocol.EvStreamingTranscriptionStart, protocol.StreamingAck{Success: true})
	log.Info().Str("module", "orch.transcribe").Str("conn_id", string(id)).Str("room_id", string(e.RoomID)).Msg("streaming started")
	return nil
}

func (o *Orchestrator) onTurn(e app.Entry, session string, t transcribe.Turn) {
	o.Send(e.ConnID, protocol.EvStreamingTranscriptionResult, protocol.StreamingResult{
		Type:                "transcript",
		SessionID:           session,
		Transcript:          t.Transcript,
		EndOfTurn:           t.EndOfTurn,
		EndOfTurnConfidence: t.EndOfTurnConfidence,
		TurnOrder:           t.TurnOrder,
		TurnIsFormatted:     t.TurnIsFormatted,
		IsFinal:             t.Final(),
		RoomID:              e.RoomID,
		UserID:              e.UserID,
	})
	if !t.Final() {
		return
	}

	now := o.now()
	if !o.turns.claim(turnKey{room: e.RoomID, session: session, order: t.TurnOrder}, now) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := &domain.Message{
		RoomID:     e.RoomID,
		Kind:       domain.KindTranscription,
		Author:     e.Username,
		UserID:     e.UserID,
		Text:       t.Transcript,
		Time:       now.Format("15:04"),
		Timestamp:  now,
		ReceivedAt: now,
	}
	if err := o.Store.SaveMessage(ctx, msg); err != nil {
		log.Warn().Err(err).Str("module", "orch.transcribe").Msg("store transcript")
	}
	o.broadcast(e.RoomID, protocol.EvTranscriptionReceived, protocol.TranscriptionReceived{
		Text:        t.Transcript,
		Author:      e.Username,
		UserID:      e.UserID,
		Timestamp:   protocol.Millis(now.UnixMilli()),
		IsStreaming: true,
	}, e.ConnID)
}

func (o *Orchestrator) Audio(id core.ConnID, frame []byte) error {
	if o.Transcription == nil {
		return ErrTranscriptionDisabled
	}
	return o.Transcription.Audio(id, frame)
}

func (o *Orchestrator) StopStreaming(id core.ConnID) {
	if o.Transcription != nil && o.Transcription.Stop(id) {
		log.Info().Str("module", "orch.transcribe").Str("conn_id", string(id)).Msg("streaming stopped")
	}
	o.Send(id, protocol.EvStreamingTranscriptionStop, protocol.StreamingAck{Success: true})
}
