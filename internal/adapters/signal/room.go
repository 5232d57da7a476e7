package signal

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

func (ctl *SignalWSController) handleJoin(ctx context.Context, id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.JoinRoom) error {
		return ctl.Orch.Join(ctx, id, p)
	})
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.LeaveRoom) error {
		return ctl.Orch.Leave(ctx, id, p)
	})
}

func (ctl *SignalWSController) handleSendMessage(ctx context.Context, id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.SendMessage) error {
		return ctl.Orch.SendMessage(ctx, id, p)
	})
}

func (ctl *SignalWSController) handleTyping(id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.Typing) error {
		return ctl.Orch.Typing(id, p)
	})
}

func (ctl *SignalWSController) handleEndMeeting(ctx context.Context, id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.EndMeeting) error {
		return ctl.Orch.EndMeeting(ctx, id, p)
	})
}
