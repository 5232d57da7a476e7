package signal

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

func (ctl *SignalWSController) handleCallInvite(ctx context.Context, id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.CallInvite) error {
		return ctl.Orch.CallInvite(ctx, id, p)
	})
}

func (ctl *SignalWSController) handleCallAccept(ctx context.Context, id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.CallAccept) error {
		return ctl.Orch.CallAccept(ctx, id, p)
	})
}

func (ctl *SignalWSController) handleCallReject(id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.CallReject) error {
		return ctl.Orch.CallReject(id, p)
	})
}

func (ctl *SignalWSController) handleCallEnd(ctx context.Context, id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.CallEnd) error {
		return ctl.Orch.CallEnd(ctx, id, p)
	})
}

// Offers and answers are parsed as SDP before they are relayed.
func (ctl *SignalWSController) handleOffer(id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.CallOffer) error {
		return ctl.Orch.CallOffer(id, p)
	})
}

func (ctl *SignalWSController) handleAnswer(id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.CallAnswer) error {
		return ctl.Orch.CallAnswer(id, p)
	})
}

func (ctl *SignalWSController) handleCandidate(id core.ConnID, env protocol.Envelope) {
	dispatch(ctl, id, env, func(p *protocol.IceCandidate) error {
		return ctl.Orch.IceCandidate(id, p)
	})
}
