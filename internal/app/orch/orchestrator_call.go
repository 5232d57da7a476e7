package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// setStatus updates one participant and rebroadcasts the room. Caller holds the room lock.
func (o *Orchestrator) setStatus(ctx context.Context, roomID domain.RoomID, userID domain.UserID, s domain.Status) {
	if err := o.Store.UpdateParticipant(ctx, roomID, userID, domain.ParticipantPatch{Status: domain.StatusPtr(s)}); err != nil {
		log.Warn().Err(err).Str("module", "orch.call").Str("user_id", string(userID)).Str("status", string(s)).Msg("status update")
	}
	o.broadcastParticipants(ctx, roomID)
}

func (o *Orchestrator) CallInvite(ctx context.Context, id core.ConnID, req *protocol.CallInvite) error {
	if _, err := o.joined(id, req.RoomID); err != nil {
		return err
	}
	unlock := o.Locks.Lock(req.RoomID)
	defer unlock()

	o.broadcast(req.RoomID, protocol.EvCallInvite, req, id)
	o.setStatus(ctx, req.RoomID, req.CallerID, domain.StatusInCall)
	return nil
}

func (o *Orchestrator) CallAccept(ctx context.Context, id core.ConnID, req *protocol.CallAccept) error {
	if _, err := o.joined(id, req.RoomID); err != nil {
		return err
	}
	unlock := o.Locks.Lock(req.RoomID)
	defer unlock()

	o.broadcast(req.RoomID, protocol.EvCallAccept, req, "")
	o.setStatus(ctx, req.RoomID, req.UserID, domain.StatusInCall)
	return nil
}

func (o *Orchestrator) CallReject(id core.ConnID, req *protocol.CallReject) error {
	if _, err := o.joined(id, req.RoomID); err != nil {
		return err
	}
	o.broadcast(req.RoomID, protocol.EvCallReject, req, "")
	return nil
}

// CallEnd is forwarded as is; the sender goes back online only when it asks to.
func (o *Orchestrator) CallEnd(ctx context.Context, id core.ConnID, req *protocol.CallEnd) error {
	if _, err := o.joined(id, req.RoomID); err != nil {
		return err
	}
	unlock := o.Locks.Lock(req.RoomID)
	defer unlock()

	o.broadcast(req.RoomID, protocol.EvCallEnd, req, "")
	if req.UpdateStatus {
		o.setStatus(ctx, req.RoomID, req.UserID, domain.StatusOnline)
	}
	return nil
}

func (o *Orchestrator) CallOffer(id core.ConnID, req *protocol.CallOffer) error {
	if _, err := o.joined(id, req.RoomID); err != nil {
		return err
	}
	o.unicast(req.RoomID, req.TargetUserID, protocol.EvCallOffer, req)
	return nil
}

func (o *Orchestrator) CallAnswer(id core.ConnID, req *protocol.CallAnswer) error {
	if _, err := o.joined(id, req.RoomID); err != nil {
		return err
	}
	o.unicast(req.RoomID, req.TargetUserID, protocol.EvCallAnswer, req)
	return nil
}

func (o *Orchestrator) IceCandidate(id core.ConnID, req *protocol.IceCandidate) error {
	if _, err := o.joined(id, req.RoomID); err != nil {
		return err
	}
	o.unicast(req.RoomID, req.TargetUserID, protocol.EvIceCandidate, req)
	return nil
}
