package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

const (
	ReasonReplaced     = "replaced"
	ReasonDisconnected = "disconnected"

	duplicateNotice = "Another session joined this room with the same name"
	meetingEndedMsg = "The meeting has been ended by the host"
)

// Join binds id to the room, creating it on first join, and sends the
// joiner a snapshot before announcing it to the room.
func (o *Orchestrator) Join(ctx context.Context, id core.ConnID, req *protocol.JoinRoom) error {
	if e, ok := o.Registry.FindByConnection(id); ok && e.Bound() && (e.RoomID != req.RoomID || e.UserID != req.UserID) {
		o.leave(ctx, id, e.RoomID, e.UserID, false)
	}

	unlock := o.Locks.Lock(req.RoomID)
	defer unlock()
	now := o.now()

	o.evictDuplicates(ctx, id, req)
	if prev, ok := o.Registry.FindByUserID(req.RoomID, req.UserID); ok && prev.ConnID != id {
		o.Registry.Detach(prev.ConnID)
		log.Info().Str("module", "orch").Str("conn_id", string(prev.ConnID)).Str("user_id", string(req.UserID)).Msg("superseded by a newer connection")
	}

	room, created, err := o.Store.CreateRoomIfAbsent(ctx, domain.NewRoom(req.RoomID, req.UserID, req.Username, now))
	if err != nil {
		return fmt.Errorf("join %s: %w", req.RoomID, err)
	}
	if created {
		log.Info().Str("module", "orch").Str("room_id", string(req.RoomID)).Str("user_id", string(req.UserID)).Msg("room created")
	}

	p := &domain.Participant{
		RoomID:   req.RoomID,
		UserID:   req.UserID,
		Name:     req.Username,
		Status:   domain.StatusOnline,
		JoinTime: now,
		LastSeen: now,
		ConnID:   string(id),
	}
	if err := o.Store.UpsertParticipant(ctx, p); err != nil {
		return fmt.Errorf("join %s: %w", req.RoomID, err)
	}
	if err := o.Store.TouchRoom(ctx, req.RoomID, now); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room_id", string(req.RoomID)).Msg("touch room")
	}
	o.Registry.Bind(id, req.RoomID, req.UserID, req.Username)

	var (
		msgs []*domain.Message
		ps   []*domain.Participant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		msgs, err = o.Store.GetMessages(gctx, req.RoomID, o.historyLimit())
		return err
	})
	g.Go(func() (err error) {
		ps, err = o.Store.GetParticipants(gctx, req.RoomID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("join %s: %w", req.RoomID, err)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	ps = o.presence(ps)

	owner := room.IsOwner(req.UserID)
	o.Send(id, protocol.EvRoomData, protocol.RoomData{
		Messages:     msgs,
		Participants: ps,
		RoomInfo:     room.Info(),
		IsOwner:      owner,
		IsCreator:    owner,
	})
	o.broadcast(req.RoomID, protocol.EvUserJoined, p, id)
	o.broadcast(req.RoomID, protocol.EvParticipantsUpdate, protocol.ParticipantsUpdate{RoomID: req.RoomID, Participants: ps}, "")

	log.Info().Str("module", "orch").Str("conn_id", string(id)).Str("room_id", string(req.RoomID)).Str("user_id", string(req.UserID)).Bool("owner", owner).Msg("joined")
	return nil
}

// evictDuplicates forces out participants that use the joiner's name under another user id.
func (o *Orchestrator) evictDuplicates(ctx context.Context, id core.ConnID, req *protocol.JoinRoom) {
	ps, err := o.Store.GetParticipants(ctx, req.RoomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room_id", string(req.RoomID)).Msg("duplicate check skipped")
		return
	}
	for _, p := range ps {
		if p.Name != req.Username || p.UserID == req.UserID {
			continue
		}
		if p.Connected() && p.ConnID != string(id) {
			old := core.ConnID(p.ConnID)
			o.Send(old, protocol.EvForceDisconnect, protocol.ForceDisconnect{Reason: duplicateNotice})
			o.Registry.Detach(old)
			o.Registry.Disconnect(old)
		} else if p.Status == domain.StatusOffline {
			continue
		}
		if err := o.Store.UpdateParticipant(ctx, req.RoomID, p.UserID, domain.OfflinePatch()); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("user_id", string(p.UserID)).Msg("mark evicted offline")
		}
		if p.Status == domain.StatusInCall {
			o.broadcast(req.RoomID, protocol.EvCallEnd, protocol.CallEndNotice{UserID: p.UserID, Reason: ReasonReplaced}, id)
		}
		log.Info().Str("module", "orch").Str("room_id", string(req.RoomID)).Str("user_id", string(p.UserID)).Str("name", p.Name).Msg("evicted duplicate identity")
	}
}

// Leave handles an explicit leaveRoom.
func (o *Orchestrator) Leave(ctx context.Context, id core.ConnID, req *protocol.LeaveRoom) error {
	e, err := o.joined(id, req.RoomID)
	if err != nil {
		return err
	}
	o.leave(ctx, id, e.RoomID, e.UserID, false)
	return nil
}

// Disconnect runs when the transport of id is gone.
func (o *Orchestrator) Disconnect(ctx context.Context, id core.ConnID) {
	if o.Transcription != nil {
		o.Transcription.Stop(id)
	}
	e, _ := o.Registry.Remove(id)

	p, err := o.Store.FindParticipantByConnection(ctx, string(id))
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn_id", string(id)).Msg("lookup on disconnect")
	}
	switch {
	case p != nil:
		o.leave(ctx, id, p.RoomID, p.UserID, true)
	case e.Bound():
		o.leave(ctx, id, e.RoomID, e.UserID, true)
	}
}

// leave marks the participant offline unless a newer connection took it over.
func (o *Orchestrator) leave(ctx context.Context, id core.ConnID, roomID domain.RoomID, userID domain.UserID, dropped bool) {
	unlock := o.Locks.Lock(roomID)
	defer unlock()

	if e, ok := o.Registry.FindByConnection(id); ok && e.RoomID == roomID {
		o.Registry.Detach(id)
	}
	p, err := o.Store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room_id", string(roomID)).Msg("leave lookup")
		return
	}
	if p == nil || p.ConnID != string(id) {
		log.Debug().Str("module", "orch").Str("conn_id", string(id)).Str("user_id", string(userID)).Msg("leave of superseded connection")
		return
	}
	if err := o.Store.UpdateParticipant(ctx, roomID, userID, domain.OfflinePatch()); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room_id", string(roomID)).Msg("mark offline")
	}
	if dropped && p.Status == domain.StatusInCall {
		o.broadcast(roomID, protocol.EvCallEnd, protocol.CallEndNotice{UserID: userID, Reason: ReasonDisconnected}, id)
	}
	o.broadcast(roomID, protocol.EvUserLeft, protocol.UserLeft{UserID: userID}, id)
	o.broadcastParticipants(ctx, roomID)

	log.Info().Str("module", "orch").Str("conn_id", string(id)).Str("room_id", string(roomID)).Str("user_id", string(userID)).Bool("dropped", dropped).Msg("left")
}

// broadcastParticipants sends the current presence view to the whole room.
func (o *Orchestrator) broadcastParticipants(ctx context.Context, roomID domain.RoomID) {
	ps, err := o.Store.GetParticipants(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room_id", string(roomID)).Msg("participants refresh")
		return
	}
	o.broadcast(roomID, protocol.EvParticipantsUpdate, protocol.ParticipantsUpdate{RoomID: roomID, Participants: o.presence(ps)}, "")
}

// EndMeeting lets the owner delete the room and everything in it.
func (o *Orchestrator) EndMeeting(ctx context.Context, id core.ConnID, req *protocol.EndMeeting) error {
	unlock := o.Locks.Lock(req.RoomID)
	defer unlock()

	room, err := o.Store.GetRoomInfo(ctx, req.RoomID)
	if err != nil {
		return fmt.Errorf("end meeting %s: %w", req.RoomID, err)
	}
	if room == nil {
		return domain.ErrRoomNotFound
	}
	if !room.IsOwner(req.UserID) {
		return domain.ErrNotOwner
	}
	if e, ok := o.Registry.FindByConnection(id); ok && e.Bound() && e.UserID != req.UserID {
		return domain.ErrNotOwner
	}

	res, err := o.Store.DeleteRoomData(ctx, req.RoomID)
	if err != nil {
		return fmt.Errorf("end meeting %s: %w", req.RoomID, err)
	}
	o.broadcast(req.RoomID, protocol.EvMeetingEnded, protocol.MeetingEnded{
		Message:             meetingEndedMsg,
		DeletedMessages:     res.Messages,
		DeletedParticipants: res.Participants,
	}, "")
	for _, m := range o.Registry.MembersOfRoom(req.RoomID) {
		o.Registry.Detach(m.ConnID)
	}
	o.Send(id, protocol.EvEndMeetingSuccess, protocol.EndMeetingSuccess{
		Message:             "Meeting ended",
		DeletedMessages:     res.Messages,
		DeletedParticipants: res.Participants,
	})
	log.Info().Str("module", "orch").Str("room_id", string(req.RoomID)).Int64("messages", res.Messages).Int64("participants", res.Participants).Msg("meeting ended")
	return nil
}

// SendMessage persists a chat message and broadcasts it to the whole room.
func (o *Orchestrator) SendMessage(ctx context.Context, id core.ConnID, req *protocol.SendMessage) error {
	e, err := o.joined(id, req.RoomID)
	if err != nil {
		return err
	}
	unlock := o.Locks.Lock(req.RoomID)
	defer unlock()

	msg := req.Message(o.now())
	if err := o.Store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("send message %s: %w", req.RoomID, err)
	}
	o.broadcast(req.RoomID, protocol.EvNewMessage, msg, "")
	if err := o.Store.UpdateParticipant(ctx, e.RoomID, e.UserID, domain.ParticipantPatch{}); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("refresh last seen")
	}
	return nil
}

func (o *Orchestrator) Typing(id core.ConnID, req *protocol.Typing) error {
	e, err := o.joined(id, req.RoomID)
	if err != nil {
		return err
	}
	name := req.Username
	if name == "" {
		name = e.Username
	}
	o.broadcast(req.RoomID, protocol.EvUserTyping, protocol.UserTyping{UserID: req.UserID, Username: name, IsTyping: req.IsTyping}, id)
	return nil
}

// Heartbeat acks at once; the lastSeen refresh happens off the read loop.
func (o *Orchestrator) Heartbeat(id core.ConnID, _ *protocol.Heartbeat) {
	o.Send(id, protocol.EvHeartbeatResponse, protocol.HeartbeatResponse{Timestamp: protocol.Millis(o.now().UnixMilli())})

	e, ok := o.Registry.FindByConnection(id)
	if !ok || !e.Bound() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.Store.UpdateParticipant(ctx, e.RoomID, e.UserID, domain.ParticipantPatch{}); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("conn_id", string(id)).Msg("heartbeat last seen")
		}
	}()
}
