// Package orch coordinates rooms: membership, presence, call signaling and
// transcription fan-out on top of the registry and storage.
package orch

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/dkeye/Meet/internal/storage"
	"github.com/dkeye/Meet/internal/transcribe"
)

type Orchestrator struct {
	Registry      *app.Registry
	Store         storage.Backend
	Locks         *app.RoomLocks
	Policy        app.Policy
	Transcription *transcribe.Hub
	HistoryLimit  int
	Now           func() time.Time

	turns turnLog
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) historyLimit() int {
	if o.HistoryLimit <= 0 {
		return storage.DefaultHistoryLimit
	}
	return o.HistoryLimit
}

// joined returns the binding of id if it is bound to roomID.
func (o *Orchestrator) joined(id core.ConnID, roomID domain.RoomID) (app.Entry, error) {
	e, ok := o.Registry.FindByConnection(id)
	if !ok || e.RoomID != roomID {
		return app.Entry{}, domain.ErrNotJoined
	}
	return e, nil
}

// Send delivers one event to a single connection.
func (o *Orchestrator) Send(id core.ConnID, event string, payload any) {
	e, ok := o.Registry.FindByConnection(id)
	if !ok {
		return
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode")
		return
	}
	o.deliver(e, frame)
}

// SendError reports a failure to the connection that caused it.
func (o *Orchestrator) SendError(id core.ConnID, code, msg string) {
	o.Send(id, protocol.EvError, protocol.ErrorPayload{Code: code, Message: msg})
}

// broadcast sends to every connection bound to roomID except the given one.
// Callers holding the room lock get member delivery in application order.
func (o *Orchestrator) broadcast(roomID domain.RoomID, event string, payload any, except core.ConnID) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode")
		return
	}
	for _, e := range o.Registry.MembersOfRoom(roomID) {
		if e.ConnID == except {
			continue
		}
		o.deliver(e, frame)
	}
}

// unicast resolves a user inside a room. Unresolved targets are dropped.
func (o *Orchestrator) unicast(roomID domain.RoomID, userID domain.UserID, event string, payload any) bool {
	e, ok := o.Registry.FindByUserID(roomID, userID)
	if !ok {
		log.Debug().Str("module", "orch").Str("room_id", string(roomID)).Str("user_id", string(userID)).Str("event", event).Msg("target not connected, dropped")
		return false
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode")
		return false
	}
	o.deliver(e, frame)
	return true
}

func (o *Orchestrator) deliver(e app.Entry, frame core.Frame) {
	err := e.Conn.TrySend(frame)
	if err == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "orch").Str("conn_id", string(e.ConnID)).Msg("send failed")
		return
	}
	action := app.KickMember
	if o.Policy != nil {
		action = o.Policy.OnBackPressure(e.RoomID, e.ConnID)
	}
	switch action {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("conn_id", string(e.ConnID)).Str("room_id", string(e.RoomID)).Msg("slow member disconnected")
		o.Registry.Disconnect(e.ConnID)
	case app.DropFrame, app.NoAction:
		log.Debug().Str("module", "orch").Str("conn_id", string(e.ConnID)).Msg("frame dropped")
	}
}

// presence recomputes statuses from live bindings. A bound participant keeps
// in-call, everyone else is online iff a live connection is bound.
func (o *Orchestrator) presence(ps []*domain.Participant) []*domain.Participant {
	if ps == nil {
		return []*domain.Participant{}
	}
	for _, p := range ps {
		switch {
		case !p.Connected() || !o.Registry.IsLive(core.ConnID(p.ConnID)):
			p.Status = domain.StatusOffline
		case p.Status != domain.StatusInCall:
			p.Status = domain.StatusOnline
		}
	}
	return ps
}
